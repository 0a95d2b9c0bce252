package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/domain/ports"
)

// ExecCall is one recorded MockCommandExecutor invocation
type ExecCall struct {
	Name string
	Args []string
	Env  map[string]string
}

// MockCommandExecutor is a test double for ports.CommandExecutor
type MockCommandExecutor struct {
	ExecuteFunc func(ctx context.Context, name string, args []string, env map[string]string) ([]byte, error)

	mu    sync.Mutex
	Calls []ExecCall
}

func (m *MockCommandExecutor) Execute(ctx context.Context, name string, args []string, env map[string]string) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, ExecCall{Name: name, Args: args, Env: env})
	m.mu.Unlock()
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, name, args, env)
	}
	return nil, nil
}

// EnhanceCall is one recorded MockEnhancer invocation
type EnhanceCall struct {
	File   string
	Chunk  int
	Device model.Device
	Mode   model.Mode
}

// MockEnhancer is a test double for ports.Enhancer. Without EnhanceFunc it echoes
// the chunk's input samples back.
type MockEnhancer struct {
	EnhanceFunc func(ctx context.Context, req ports.EnhanceRequest) (*model.EnhancementResult, error)

	mu    sync.Mutex
	calls []EnhanceCall
}

func (m *MockEnhancer) Enhance(ctx context.Context, req ports.EnhanceRequest) (*model.EnhancementResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, EnhanceCall{
		File:   req.Chunk.FilePath,
		Chunk:  req.Chunk.Index,
		Device: req.Device,
		Mode:   req.Options.Mode,
	})
	m.mu.Unlock()

	if m.EnhanceFunc != nil {
		return m.EnhanceFunc(ctx, req)
	}
	return Echo(req), nil
}

// Calls returns a snapshot of recorded invocations
func (m *MockEnhancer) Calls() []EnhanceCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EnhanceCall(nil), m.calls...)
}

// CallCount returns the number of Enhance calls so far
func (m *MockEnhancer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Echo builds a result that returns the input samples unchanged
func Echo(req ports.EnhanceRequest) *model.EnhancementResult {
	return &model.EnhancementResult{
		ChunkIndex: req.Chunk.Index,
		Mode:       req.Options.Mode,
		Device:     req.Device,
		Samples:    append([]float32(nil), req.Chunk.Samples...),
		Elapsed:    time.Millisecond,
	}
}

// MockDeviceProber is a test double for ports.DeviceProber
type MockDeviceProber struct {
	GPUs []model.GPUInfo
	Err  error

	mu    sync.Mutex
	Calls int
}

func (m *MockDeviceProber) ListGPUs(_ context.Context) ([]model.GPUInfo, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	return m.GPUs, m.Err
}

// MockMetrics records driver events
type MockMetrics struct {
	mu        sync.Mutex
	Chunks    map[string]int // "device/status"
	Fallbacks int
	Files     map[string]int
}

func (m *MockMetrics) ChunkInferred(device model.Device, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Chunks == nil {
		m.Chunks = map[string]int{}
	}
	m.Chunks[string(device.Kind)+"/"+status]++
}

func (m *MockMetrics) Fallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fallbacks++
}

func (m *MockMetrics) FileFinished(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Files == nil {
		m.Files = map[string]int{}
	}
	m.Files[status]++
}

// MockStorageProvider wraps a real provider and can inject failures
type MockStorageProvider struct {
	ports.StorageProvider
	WriteAtomicFunc func(ctx context.Context, path string, fn func(tmpPath string) error) error
	SizeFunc        func(ctx context.Context, path string) (int64, error)

	mu      sync.Mutex
	Written []string
}

func (m *MockStorageProvider) WriteAtomic(ctx context.Context, path string, fn func(tmpPath string) error) error {
	m.mu.Lock()
	m.Written = append(m.Written, path)
	m.mu.Unlock()
	if m.WriteAtomicFunc != nil {
		return m.WriteAtomicFunc(ctx, path, fn)
	}
	return m.StorageProvider.WriteAtomic(ctx, path, fn)
}

func (m *MockStorageProvider) Size(ctx context.Context, path string) (int64, error) {
	if m.SizeFunc != nil {
		return m.SizeFunc(ctx, path)
	}
	return m.StorageProvider.Size(ctx, path)
}
