package supervisor

import (
	"errors"
	"fmt"
)

// Stage names one step of engine startup.
type Stage string

const (
	StageProbe    Stage = "probe"
	StageWorkdir  Stage = "workdir"
	StageVenv     Stage = "venv"
	StageInstall  Stage = "install"
	StageSpawn    Stage = "spawn"
	StageLiveness Stage = "liveness"
	// StageRuntime marks an owned engine that exited after reaching Running.
	StageRuntime Stage = "runtime"
)

// StartupError is returned when a startup stage fails. ExitCode is -1 when no
// process exit status applies.
type StartupError struct {
	Stage    Stage
	Err      error
	ExitCode int
}

func (e *StartupError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("engine startup failed at %s (exit code %d): %v", e.Stage, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("engine startup failed at %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// IsStartupError reports whether err is a startup failure and returns its stage.
func IsStartupError(err error) (Stage, bool) {
	var se *StartupError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

var (
	// ErrRestartThrottled is returned when Restart is called faster than the configured interval.
	ErrRestartThrottled = errors.New("engine restart throttled")
	// ErrNotRestartable is returned when Restart is called outside the Failed state.
	ErrNotRestartable = errors.New("engine is not in a restartable state")
)
