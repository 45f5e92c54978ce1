package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// heavyPackages are multi-hundred-megabyte downloads worth narrating so a slow
// first start does not look hung.
var heavyPackages = []struct {
	match string
	label string
}{
	{"torch", "PyTorch"},
	{"nvidia-", "CUDA runtime libraries"},
	{"xformers", "xformers"},
	{"diffusers", "diffusers"},
	{"transformers", "transformers"},
	{"accelerate", "accelerate"},
	{"bitsandbytes", "bitsandbytes"},
	{"safetensors", "safetensors"},
	{"peft", "peft"},
}

// classifyInstallLine returns a human label when line reports work on a heavy package.
func classifyInstallLine(line string) (string, bool) {
	l := strings.ToLower(strings.TrimSpace(line))
	if !strings.HasPrefix(l, "collecting ") && !strings.HasPrefix(l, "downloading ") {
		return "", false
	}
	for _, p := range heavyPackages {
		if strings.Contains(l, p.match) {
			return p.label, true
		}
	}
	return "", false
}

// runStreaming runs cmd in its own process group, hands every stdout/stderr
// line to onLine and waits for exit. Cancelling ctx kills the whole group, so
// build subprocesses holding the output pipes go too. It returns the exit code
// (-1 when the process never ran).
func (s *Supervisor) runStreaming(ctx context.Context, cmd *exec.Cmd, onLine func(stream, line string)) (int, error) {
	stdout := &lineWriter{emit: func(l string) { onLine("stdout", l) }}
	stderr := &lineWriter{emit: func(l string) { onLine("stderr", l) }}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	pid := cmd.Process.Pid
	stop := context.AfterFunc(ctx, func() {
		if err := s.terminate(pid, true); err != nil {
			_ = cmd.Process.Kill()
		}
	})
	defer stop()

	err := cmd.Wait()
	stdout.flush()
	stderr.flush()
	if ctx.Err() != nil {
		return exitCode(err), ctx.Err()
	}
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), fmt.Errorf("%s exited with code %d", cmd.Path, ee.ExitCode())
	}
	return -1, err
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// installLogger forwards installer output and narrates heavy downloads once each.
// exec.Cmd copies stdout and stderr on separate goroutines.
type installLogger struct {
	log  zerolog.Logger
	mu   sync.Mutex
	seen map[string]bool
}

func newInstallLogger(log zerolog.Logger) *installLogger {
	return &installLogger{log: log, seen: map[string]bool{}}
}

func (l *installLogger) line(stream, line string) {
	if label, ok := classifyInstallLine(line); ok {
		l.mu.Lock()
		first := !l.seen[label]
		l.seen[label] = true
		l.mu.Unlock()
		if first {
			l.log.Info().Str("package", label).Msg("downloading large package, this can take several minutes")
		}
	}
	l.log.Debug().Str("stream", stream).Msg(line)
}
