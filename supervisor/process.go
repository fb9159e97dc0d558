package supervisor

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
)

const maxLineSize = 1024 * 1024

// LaunchSpec describes one indexer run.
type LaunchSpec struct {
	BinaryPath string
	ConfigPath string
	DBDir      string

	// Stdout and Stderr receive the child's output one line at a time.
	Stdout func(line string)
	Stderr func(line string)
}

// Args returns the command line arguments passed to the indexer.
func (l LaunchSpec) Args() []string {
	return []string{"--config", l.ConfigPath, "--db-dir", l.DBDir}
}

// Process is a running child.
type Process interface {
	Pid() int

	// Wait blocks until the process has exited and its output has been
	// consumed. A non-nil error means the exit status could not be
	// determined.
	Wait() (exitCode int, err error)

	Kill() error
}

// Launcher spawns indexer processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

type execLauncher struct{}

// ExecLauncher starts the indexer with os/exec, detached in its own process
// group.
var ExecLauncher Launcher = execLauncher{}

func (execLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	cmd := exec.Command(spec.BinaryPath, spec.Args()...)
	detach(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", spec.BinaryPath)
	}

	p := &execProcess{cmd: cmd}
	p.scanners.Add(2)
	go p.scan(stdout, spec.Stdout)
	go p.scan(stderr, spec.Stderr)
	return p, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	scanners sync.WaitGroup
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) scan(r io.Reader, handle func(string)) {
	defer p.scanners.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if handle != nil {
			handle(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debugf("output of pid %d: %v", p.Pid(), err)
		// drain so the child never blocks on a full pipe
		io.Copy(io.Discard, r)
	}
}

func (p *execProcess) Wait() (int, error) {
	// pipes must be drained before cmd.Wait closes them
	p.scanners.Wait()

	err := p.cmd.Wait()
	if err == nil {
		return exitCode(p.cmd.ProcessState), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitCode(exitErr.ProcessState), nil
	}
	return -1, err
}

func (p *execProcess) Kill() error {
	return killGroup(p.cmd.Process)
}
