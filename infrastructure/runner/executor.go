package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"syscall"

	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
	"github.com/Skryldev/speech-enhance/pkg/logger"
	"go.uber.org/zap"
)

// Executor implements ports.CommandExecutor with os/exec
type Executor struct {
	log *logger.Logger
}

// NewExecutor creates a new process executor
func NewExecutor(log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{log: log}
}

// Execute runs name with args. env entries are added on top of the process
// environment. Stdout is returned; stderr is attached to the error on failure.
func (e *Executor) Execute(ctx context.Context, name string, args []string, env map[string]string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, pkgerrors.NewExecError(name+" not found in PATH", args, -1, "", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), envSlice(env)...)
	// own process group so cancellation takes down the whole tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.FromContextOr(ctx, e.log).Debug("executing command",
		zap.String("command", name),
		zap.Strings("args", args),
	)

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, pkgerrors.NewExecError(
			name+" execution failed",
			args,
			exitCode,
			stderr.String(),
			err,
		)
	}

	return stdout.Bytes(), nil
}

func envSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
