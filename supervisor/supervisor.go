package supervisor

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/planetdecred/indexerlib/events"
	"github.com/planetdecred/indexerlib/installer"
	"github.com/planetdecred/indexerlib/profile"
)

const (
	DefaultInstallBackoff  = 10 * time.Second
	DefaultLaunchBackoff   = 3 * time.Second
	DefaultRestartCooldown = 5 * time.Second

	killTimeout = 10 * time.Second
)

type Config struct {
	Installer installer.Installer
	Launcher  Launcher
	Killer    Killer
	Notifier  events.Notifier

	// BinaryName is the name Stop uses to find stray indexer processes.
	BinaryName string

	// Profile returns the active profile. It is read fresh on every launch.
	Profile func() profile.Profile

	// PrepareLaunch, if set, runs before the launch prerequisites are
	// checked. An error fails the launch attempt.
	PrepareLaunch func(ctx context.Context, p profile.Profile) error

	// TargetVersion returns the indexer version to install. It is read on
	// every install pass.
	TargetVersion func() string

	// OnActive is called with true once a process is running and with false
	// once it has exited.
	OnActive func(active bool)

	InstallBackoff  time.Duration
	LaunchBackoff   time.Duration
	RestartCooldown time.Duration

	// KillExitCode is the exit code treated as an intentional kill.
	KillExitCode int

	// After replaces time.After in tests.
	After func(d time.Duration) <-chan time.Time
}

// Supervisor drives the install, launch, run and restart cycle of the
// indexer from a single goroutine, so at most one child exists at a time.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	proc    Process
}

func New(cfg Config) *Supervisor {
	if cfg.BinaryName == "" {
		cfg.BinaryName = installer.DefaultBinaryName
	}
	if cfg.Launcher == nil {
		cfg.Launcher = ExecLauncher
	}
	if cfg.Killer == nil {
		cfg.Killer = NewKiller(nil, installer.DetectPlatform())
	}
	if cfg.InstallBackoff <= 0 {
		cfg.InstallBackoff = DefaultInstallBackoff
	}
	if cfg.LaunchBackoff <= 0 {
		cfg.LaunchBackoff = DefaultLaunchBackoff
	}
	if cfg.RestartCooldown <= 0 {
		cfg.RestartCooldown = DefaultRestartCooldown
	}
	if cfg.KillExitCode == 0 {
		cfg.KillExitCode = KillExitCode
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	if cfg.OnActive == nil {
		cfg.OnActive = func(bool) {}
	}
	return &Supervisor{cfg: cfg}
}

// State returns the current lifecycle step.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	if s.state != state {
		log.Debugf("lifecycle %s -> %s", s.state, state)
	}
	s.state = state
	s.mu.Unlock()
}

// IsRunning reports whether an indexer process is currently alive.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Start launches the lifecycle loop. Calling it again while the loop runs
// does nothing.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		log.Debug("lifecycle loop already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop kills the tracked process and every other process running the
// indexer binary. The lifecycle loop keeps going and relaunches after the
// restart cooldown.
func (s *Supervisor) Stop() {
	log.Warn("Killing all indexer processes")

	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	if proc != nil {
		if err := proc.Kill(); err != nil {
			log.Debugf("kill pid %d: %v", proc.Pid(), err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	s.cfg.Killer.KillAll(ctx, s.cfg.BinaryName)

	log.Warn("Indexer processes killed")
}

// Shutdown kills the process, ends the lifecycle loop and waits up to
// timeout for the loop to return.
func (s *Supervisor) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.started = false
	s.mu.Unlock()

	s.Stop()
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("timed out waiting for the indexer lifecycle to stop")
	}
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setState(StateIdle)

	var spec *installer.Spec
	var proc Process
	state := StateInstalling

	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(state)

		switch state {
		case StateInstalling:
			var err error
			spec, err = s.install(ctx)
			if err != nil {
				if !s.sleep(ctx, s.cfg.InstallBackoff) {
					return
				}
				continue
			}
			state = StateLaunching

		case StateLaunching:
			var err error
			proc, err = s.launch(ctx, spec)
			if err != nil {
				log.Errorf("Error launching indexer: %v", err)
				s.cfg.Notifier.Error("Indexer error: %v", err)
				if !s.sleep(ctx, s.cfg.LaunchBackoff) {
					return
				}
				continue
			}
			state = StateRunning

		case StateRunning:
			s.supervise(ctx, proc)
			proc = nil
			state = StateExited

		case StateExited:
			log.Warn("Indexer exited, waiting for ports to be released")
			if !s.sleep(ctx, s.cfg.RestartCooldown) {
				return
			}
			state = StateInstalling
		}
	}
}

func (s *Supervisor) install(ctx context.Context) (*installer.Spec, error) {
	version := s.cfg.TargetVersion()
	spec, err := s.cfg.Installer.EnsureInstalled(ctx, version)
	if err != nil {
		log.Errorf("Failed to install indexer: %v", err)
		s.cfg.Notifier.Error("Failed to install indexer: %v", err)
		return nil, err
	}
	if spec.Updated {
		s.cfg.Notifier.Info("Indexer installed on version %s", spec.TargetVersion)
	}
	return spec, nil
}

func (s *Supervisor) launch(ctx context.Context, spec *installer.Spec) (Process, error) {
	p := s.cfg.Profile()
	configPath := p.IndexerConfigPath()
	dbDir := p.DBPath()

	if s.cfg.PrepareLaunch != nil {
		if err := s.cfg.PrepareLaunch(ctx, p); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create database directory %s", dbDir)
	}

	log.Infof("Launching indexer with params: network %s, rpc %s, world address %s, db %s, config %s",
		p.ID, p.RPC, p.WorldAddress, dbDir, configPath)

	if !fileExists(spec.BinaryPath) {
		return nil, errors.Errorf("indexer executable not found at: %s", spec.BinaryPath)
	}
	if !fileExists(configPath) {
		return nil, errors.Errorf("config file not found at: %s", configPath)
	}

	proc, err := s.cfg.Launcher.Launch(ctx, LaunchSpec{
		BinaryPath: spec.BinaryPath,
		ConfigPath: configPath,
		DBDir:      dbDir,
		Stdout:     s.handleStdout,
		Stderr:     s.handleStderr,
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Indexer is running with pid %d", proc.Pid())
	s.cfg.Notifier.Info("Indexer on %s", p.ID)
	return proc, nil
}

// supervise tracks proc until it exits. A cancelled ctx kills it.
func (s *Supervisor) supervise(ctx context.Context, proc Process) {
	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	s.cfg.OnActive(true)

	defer func() {
		s.mu.Lock()
		s.proc = nil
		s.mu.Unlock()
		s.cfg.OnActive(false)
	}()

	type exitResult struct {
		code int
		err  error
	}
	exited := make(chan exitResult, 1)
	go func() {
		code, err := proc.Wait()
		exited <- exitResult{code, err}
	}()

	var result exitResult
	select {
	case result = <-exited:
	case <-ctx.Done():
		if err := proc.Kill(); err != nil {
			log.Debugf("kill pid %d: %v", proc.Pid(), err)
		}
		result = <-exited
	}

	s.handleExit(result.code, result.err)
}

// handleExit emits at most one error event per exit. Clean exits and
// intentional kills are silent.
func (s *Supervisor) handleExit(code int, err error) {
	if err != nil {
		log.Errorf("Indexer process error: %v", err)
		s.cfg.Notifier.Error("Indexer process error: %v", err)
		return
	}

	log.Infof("Indexer process exited with code %d", code)
	if code == 0 || code == s.cfg.KillExitCode {
		return
	}

	exitErr := &events.ProcessExitError{Code: code}
	log.Error(exitErr)
	s.cfg.Notifier.Error("%s. Check the logs for details.", exitErr.Error())
}

func (s *Supervisor) handleStdout(line string) {
	log.Infof("indexer stdout: %s", line)
}

func (s *Supervisor) handleStderr(line string) {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
		log.Errorf("indexer stderr: %s", line)
		s.cfg.Notifier.Error("%s", line)
		return
	}
	log.Infof("indexer stderr: %s", line)
}

// sleep waits for d and reports false if ctx ended first.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.cfg.After(d):
		return true
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
