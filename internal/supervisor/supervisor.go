// Package supervisor brings the engine process to a reachable state and keeps
// ownership of it until shutdown. It never signals a process it did not start.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"loramint/internal/common/fsutil"
	"loramint/internal/config"
	"loramint/pkg/types"
)

// Prober answers whether something is already serving the engine address.
type Prober interface {
	Probe(ctx context.Context, paths []string) (string, bool)
}

// CommandFunc builds a command; tests swap it for a fake.
type CommandFunc func(name string, args ...string) *exec.Cmd

// TerminateFunc signals the process tree rooted at pid.
type TerminateFunc func(pid int, force bool) error

// Options configure a Supervisor.
type Options struct {
	Engine    config.EngineConfig
	BaseURL   string
	Prober    Prober
	Logger    zerolog.Logger
	Publisher EventPublisher
	Command   CommandFunc
	Terminate TerminateFunc
	// OutputBuffer is the capacity of the engine output queue.
	OutputBuffer int
}

type process struct {
	cmd     *exec.Cmd
	pid     int
	done    chan struct{}
	waitErr error
	fwd     *forwarder
}

// Supervisor owns the engine process state machine. State has a single writer:
// Start, Stop and Restart serialize on the op semaphore, and all reads go through mu.
type Supervisor struct {
	cfg       config.EngineConfig
	baseURL   string
	prober    Prober
	log       zerolog.Logger
	pub       EventPublisher
	command   CommandFunc
	terminate TerminateFunc
	outBuf    int
	tracer    trace.Tracer
	limiter   *rate.Limiter

	// op is a one-slot semaphore; Stop can give up waiting for it.
	op chan struct{}

	mu          sync.Mutex
	state       State
	since       time.Time
	startedByUs bool
	stopping    bool
	proc        *process
	launchID    string
	stage       Stage
	lastErr     error
	exitCode    *int
}

// New constructs a Supervisor in the NotStarted state.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		cfg:       opts.Engine,
		baseURL:   opts.BaseURL,
		prober:    opts.Prober,
		log:       opts.Logger.With().Str("component", "supervisor").Logger(),
		pub:       opts.Publisher,
		command:   opts.Command,
		terminate: opts.Terminate,
		outBuf:    opts.OutputBuffer,
		tracer:    otel.Tracer("loramint/supervisor"),
		op:        make(chan struct{}, 1),
		state:     StateNotStarted,
		since:     time.Now(),
	}
	if s.baseURL == "" {
		s.baseURL = opts.Engine.BaseURL
	}
	if s.pub == nil {
		s.pub = noopPublisher{}
	}
	if s.command == nil {
		s.command = exec.Command
	}
	if s.terminate == nil {
		s.terminate = terminateTree
	}
	interval := opts.Engine.RestartInterval.Std()
	if interval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(interval), 1)
	} else {
		s.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	recordState(StateNotStarted)
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedByUs reports whether the engine process is owned by this supervisor.
func (s *Supervisor) StartedByUs() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedByUs
}

// Ready reports whether the engine is expected to answer requests.
func (s *Supervisor) Ready() bool { return s.State().Reachable() }

// Status returns a snapshot for status endpoints.
func (s *Supervisor) Status() types.EngineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := types.EngineStatus{
		State:       string(s.state),
		BaseURL:     s.baseURL,
		StartedByUs: s.startedByUs,
		LaunchID:    s.launchID,
		Stage:       string(s.stage),
		SinceUnix:   s.since.Unix(),
	}
	if s.proc != nil && s.startedByUs {
		st.PID = s.proc.pid
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.exitCode != nil {
		c := *s.exitCode
		st.ExitCode = &c
	}
	return st
}

// Start brings the engine up. It is a no-op when auto-start is disabled or when
// a start has already been attempted; use Restart to retry after a failure.
// Failures are recorded (state Failed) and returned as *StartupError; callers
// are expected to log and keep serving.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lockOp()
	defer s.unlockOp()
	if !s.cfg.AutoStart {
		s.log.Info().Msg("engine auto-start disabled; not starting engine")
		return nil
	}
	if st := s.State(); st != StateNotStarted {
		s.log.Debug().Str("state", string(st)).Msg("start ignored")
		return nil
	}
	return s.launch(ctx)
}

// Restart retries startup after a failure. Calls are rate limited.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.lockOp()
	defer s.unlockOp()
	if err := s.admitRestart(); err != nil {
		return err
	}
	return s.launch(ctx)
}

// RestartAsync admits a restart like Restart but runs the launch in the
// background, so callers only wait for the admission decision.
func (s *Supervisor) RestartAsync(ctx context.Context) error {
	s.lockOp()
	if err := s.admitRestart(); err != nil {
		s.unlockOp()
		return err
	}
	go func() {
		defer s.unlockOp()
		if err := s.launch(ctx); err != nil {
			s.log.Error().Err(err).Msg("engine restart failed")
		}
	}()
	return nil
}

func (s *Supervisor) lockOp()   { s.op <- struct{}{} }
func (s *Supervisor) unlockOp() { <-s.op }

// admitRestart must be called with the op semaphore held.
func (s *Supervisor) admitRestart() error {
	if st := s.State(); st != StateFailed {
		return fmt.Errorf("%w: %s", ErrNotRestartable, st)
	}
	if !s.limiter.Allow() {
		return ErrRestartThrottled
	}
	s.log.Info().Msg("manual engine restart requested")
	return nil
}

func (s *Supervisor) launch(ctx context.Context) (err error) {
	launchID := ulid.Make().String()
	s.mu.Lock()
	s.launchID = launchID
	s.stage = ""
	s.lastErr = nil
	s.exitCode = nil
	s.mu.Unlock()
	log := s.log.With().Str("launch_id", launchID).Logger()

	ctx, span := s.tracer.Start(ctx, "engine.start", trace.WithAttributes(
		attribute.String("engine.base_url", s.baseURL),
		attribute.String("engine.launch_id", launchID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// probe
	if path, ok := s.probe(ctx); ok {
		s.setState(StateAdoptedExternal)
		s.mu.Lock()
		s.startedByUs = false
		s.mu.Unlock()
		log.Info().Str("url", s.baseURL).Str("path", path).Msg("engine already running; adopting it")
		s.pub.Publish(Event{Name: "adopted", LaunchID: launchID, Fields: map[string]any{"url": s.baseURL, "path": path}})
		engineStartsTotal.WithLabelValues("adopted").Inc()
		return nil
	}
	s.setState(StateStarting)
	log.Info().Str("url", s.baseURL).Msg("engine not reachable; starting it")

	// workdir
	workdir, err := filepath.Abs(s.cfg.Path)
	if err != nil || !fsutil.DirExists(workdir) {
		if err == nil {
			err = fmt.Errorf("engine directory %s does not exist", workdir)
		}
		return s.fail(log, StageWorkdir, err, -1)
	}

	// venv
	venvDir := s.cfg.VenvDir
	if !filepath.IsAbs(venvDir) {
		venvDir = filepath.Join(workdir, venvDir)
	}
	if !fsutil.DirExists(venvDir) {
		if code, err := s.runStage(ctx, StageVenv, func(ctx context.Context) (int, error) {
			log.Info().Str("dir", venvDir).Msg("creating python environment (one-time, may take a minute)")
			cmd := s.command(s.cfg.Python, "-m", "venv", venvDir)
			cmd.Dir = workdir
			il := newInstallLogger(log.With().Str("step", "venv").Logger())
			return s.runStreaming(ctx, cmd, il.line)
		}); err != nil {
			return s.fail(log, StageVenv, err, code)
		}
	}
	python := venvPython(venvDir)

	// install
	if s.cfg.AutoInstallDependencies {
		req := s.cfg.Requirements
		if !filepath.IsAbs(req) {
			req = filepath.Join(workdir, req)
		}
		if !fsutil.FileExists(req) {
			return s.fail(log, StageInstall, fmt.Errorf("requirements file %s not found", req), -1)
		}
		if code, err := s.runStage(ctx, StageInstall, func(ctx context.Context) (int, error) {
			log.Info().Str("requirements", req).Msg("installing engine dependencies")
			cmd := s.command(python, "-m", "pip", "install", "-r", req)
			cmd.Dir = workdir
			il := newInstallLogger(log.With().Str("step", "install").Logger())
			return s.runStreaming(ctx, cmd, il.line)
		}); err != nil {
			return s.fail(log, StageInstall, err, code)
		}
		log.Info().Msg("engine dependencies installed")
	}

	// spawn
	_, spawnSpan := s.tracer.Start(ctx, "engine.stage."+string(StageSpawn))
	p, err := s.spawn(log, workdir, python)
	spawnSpan.End()
	if err != nil {
		return s.fail(log, StageSpawn, err, -1)
	}
	s.mu.Lock()
	s.proc = p
	s.mu.Unlock()
	s.pub.Publish(Event{Name: "spawn_start", LaunchID: launchID, Fields: map[string]any{"pid": p.pid}})
	log.Info().Int("pid", p.pid).Msg("engine process started")

	// liveness
	grace := s.cfg.GracePeriod.Std()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		code := exitCode(p.waitErr)
		err := fmt.Errorf("engine exited within %s of launch", grace)
		if p.waitErr != nil {
			err = fmt.Errorf("engine exited within %s of launch: %w", grace, p.waitErr)
		}
		s.pub.Publish(Event{Name: "spawn_exit", LaunchID: launchID, Fields: map[string]any{"pid": p.pid, "exit_code": code}})
		return s.fail(log, StageLiveness, err, code)
	case <-ctx.Done():
		s.kill(p)
		return s.fail(log, StageLiveness, ctx.Err(), -1)
	case <-timer.C:
	}

	s.mu.Lock()
	s.startedByUs = true
	s.mu.Unlock()
	s.setState(StateRunning)
	engineStartsTotal.WithLabelValues("spawned").Inc()
	s.pub.Publish(Event{Name: "running", LaunchID: launchID, Fields: map[string]any{"pid": p.pid}})
	log.Info().Int("pid", p.pid).Msg("engine running")
	return nil
}

func (s *Supervisor) probe(ctx context.Context) (string, bool) {
	if s.prober == nil {
		return "", false
	}
	ctx, span := s.tracer.Start(ctx, "engine.stage."+string(StageProbe))
	defer span.End()
	path, ok := s.prober.Probe(ctx, s.cfg.HealthPaths)
	span.SetAttributes(attribute.Bool("engine.reachable", ok))
	return path, ok
}

// runStage runs fn inside a child span.
func (s *Supervisor) runStage(ctx context.Context, st Stage, fn func(context.Context) (int, error)) (int, error) {
	ctx, span := s.tracer.Start(ctx, "engine.stage."+string(st))
	defer span.End()
	code, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return code, err
}

func (s *Supervisor) spawn(log zerolog.Logger, workdir, python string) (*process, error) {
	args := append([]string{s.cfg.Script}, s.cfg.Args...)
	cmd := s.command(python, args...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	setProcessGroup(cmd)
	fwd := newForwarder(log.With().Str("source", "engine").Logger(), s.outBuf)
	cmd.Stdout = fwd.writer("stdout")
	cmd.Stderr = fwd.writer("stderr")
	// forked workers may hold the pipes open after the leader exits
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Start(); err != nil {
		fwd.close()
		return nil, fmt.Errorf("start %s: %w", python, err)
	}
	p := &process{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{}), fwd: fwd}
	go func() {
		p.waitErr = cmd.Wait()
		if dropped := fwd.close(); dropped > 0 {
			log.Warn().Int64("dropped_lines", dropped).Msg("engine output lines dropped while the log sink was behind")
		}
		close(p.done)
		s.onExit(p)
	}()
	return p, nil
}

// onExit records an unexpected exit of a running owned engine.
func (s *Supervisor) onExit(p *process) {
	s.mu.Lock()
	if s.proc != p || s.state != StateRunning || s.stopping {
		s.mu.Unlock()
		return
	}
	code := exitCode(p.waitErr)
	s.startedByUs = false
	s.stage = StageRuntime
	s.lastErr = fmt.Errorf("engine exited unexpectedly: %v", p.waitErr)
	s.exitCode = &code
	launchID := s.launchID
	s.mu.Unlock()
	s.setState(StateFailed)
	s.log.Error().Int("pid", p.pid).Int("exit_code", code).Msg("engine process exited unexpectedly")
	s.pub.Publish(Event{Name: "spawn_exit", LaunchID: launchID, Fields: map[string]any{"pid": p.pid, "exit_code": code}})
}

func (s *Supervisor) fail(log zerolog.Logger, st Stage, err error, code int) error {
	serr := &StartupError{Stage: st, Err: err, ExitCode: code}
	s.mu.Lock()
	s.stage = st
	s.lastErr = err
	if code >= 0 {
		c := code
		s.exitCode = &c
	}
	s.startedByUs = false
	launchID := s.launchID
	s.mu.Unlock()
	s.setState(StateFailed)
	engineStartsTotal.WithLabelValues("failed").Inc()
	log.Error().Err(err).Str("stage", string(st)).Int("exit_code", code).Msg("engine startup failed; continuing without engine")
	s.pub.Publish(Event{Name: "start_failed", LaunchID: launchID, Fields: map[string]any{"stage": string(st), "error": err.Error()}})
	return serr
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.since = time.Now()
	s.mu.Unlock()
	recordState(to)
	if !canTransition(from, to) {
		s.log.Warn().Str("from", string(from)).Str("to", string(to)).Msg("unexpected state transition")
		return
	}
	s.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state transition")
}

// Stop terminates the engine process tree if and only if this supervisor
// started it, then waits for it to exit. An adopted engine is left untouched.
// A launch in progress is waited for until ctx is done.
func (s *Supervisor) Stop(ctx context.Context) error {
	select {
	case s.op <- struct{}{}:
	case <-ctx.Done():
		s.log.Warn().Msg("engine launch still in progress; giving up on stop")
		return ctx.Err()
	}
	defer s.unlockOp()

	s.mu.Lock()
	owned, p, state := s.startedByUs, s.proc, s.state
	s.mu.Unlock()
	if !owned || p == nil {
		if state == StateAdoptedExternal {
			s.log.Info().Msg("engine was adopted, not started by us; leaving it running")
		}
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}

	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.stopping = false
		s.mu.Unlock()
	}()
	s.log.Info().Int("pid", p.pid).Msg("stopping engine process tree")
	if err := s.terminate(p.pid, false); err != nil {
		s.log.Warn().Err(err).Int("pid", p.pid).Msg("graceful terminate failed")
	}
	timer := time.NewTimer(s.cfg.StopTimeout.Std())
	defer timer.Stop()
	var stopErr error
	select {
	case <-p.done:
	case <-timer.C:
		s.log.Warn().Int("pid", p.pid).Msg("engine did not exit in time; killing process tree")
		s.kill(p)
	case <-ctx.Done():
		s.kill(p)
		stopErr = ctx.Err()
	}

	s.mu.Lock()
	s.startedByUs = false
	s.mu.Unlock()
	s.setState(StateStoppedByUs)
	s.pub.Publish(Event{Name: "stop", LaunchID: s.Status().LaunchID, Fields: map[string]any{"pid": p.pid}})
	return stopErr
}

// kill force-terminates the tree and waits briefly for the wait goroutine.
func (s *Supervisor) kill(p *process) {
	if err := s.terminate(p.pid, true); err != nil {
		s.log.Warn().Err(err).Int("pid", p.pid).Msg("force kill failed")
		_ = p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		s.log.Error().Int("pid", p.pid).Msg("engine process did not exit after kill")
	}
}

// Run starts the engine and logs, rather than returns, a startup failure. It
// is the host-lifecycle entry point: an unavailable engine degrades the daemon
// without stopping it.
func (s *Supervisor) Run(ctx context.Context) {
	if err := s.Start(ctx); err != nil {
		if stage, ok := IsStartupError(err); ok {
			s.log.Error().Str("stage", string(stage)).Msg("engine unavailable; serving in degraded mode")
			return
		}
		if !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Msg("engine start error")
		}
	}
}
