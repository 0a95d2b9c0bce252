package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/domain/ports"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
)

// DefaultProbeCommand queries GPU index and memory in MiB
const DefaultProbeCommand = "nvidia-smi"

var probeArgs = []string{
	"--query-gpu=index,memory.total,memory.free",
	"--format=csv,noheader,nounits",
}

// GPUProber implements ports.DeviceProber with nvidia-smi
type GPUProber struct {
	command string
	exec    ports.CommandExecutor
}

var _ ports.DeviceProber = (*GPUProber)(nil)

// NewGPUProber creates a prober; an empty command uses nvidia-smi
func NewGPUProber(command string, exec ports.CommandExecutor) *GPUProber {
	if command == "" {
		command = DefaultProbeCommand
	}
	return &GPUProber{command: command, exec: exec}
}

// ListGPUs returns the GPUs visible on the host, sorted by index
func (p *GPUProber) ListGPUs(ctx context.Context) ([]model.GPUInfo, error) {
	out, err := p.exec.Execute(ctx, p.command, probeArgs, nil)
	if err != nil {
		return nil, pkgerrors.NewDeviceError("failed to query GPUs", err)
	}
	gpus, err := ParseGPUList(out)
	if err != nil {
		return nil, pkgerrors.NewDeviceError("unexpected GPU query output", err)
	}
	return gpus, nil
}

// ParseGPUList parses "index, total, free" CSV lines.
func ParseGPUList(out []byte) ([]model.GPUInfo, error) {
	var gpus []model.GPUInfo
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %q: want 3 fields, got %d", line, len(fields))
		}
		var vals [3]int
		for i, f := range fields {
			v, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return nil, fmt.Errorf("line %q: %w", line, err)
			}
			vals[i] = v
		}
		gpus = append(gpus, model.GPUInfo{Index: vals[0], MemoryTotalMB: vals[1], MemoryFreeMB: vals[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.Slice(gpus, func(i, j int) bool { return gpus[i].Index < gpus[j].Index })
	return gpus, nil
}

// MostFree picks the GPU with the most free memory, lowest index on ties.
func MostFree(gpus []model.GPUInfo) (model.GPUInfo, bool) {
	if len(gpus) == 0 {
		return model.GPUInfo{}, false
	}
	best := gpus[0]
	for _, g := range gpus[1:] {
		if g.MemoryFreeMB > best.MemoryFreeMB {
			best = g
		}
	}
	return best, true
}
