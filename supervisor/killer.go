package supervisor

import (
	"context"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/planetdecred/indexerlib/installer"
)

// Killer terminates every process running a given binary, including ones
// this supervisor did not start.
type Killer interface {
	KillAll(ctx context.Context, binaryName string)
}

type commandKiller struct {
	runner   installer.Runner
	platform installer.Platform
}

// NewKiller returns a Killer that uses pkill (falling back to killall) on
// unix and taskkill on windows. Failures, including "no process found", are
// only logged.
func NewKiller(runner installer.Runner, platform installer.Platform) Killer {
	if runner == nil {
		runner = installer.ExecRunner
	}
	return &commandKiller{runner: runner, platform: platform}
}

func (k *commandKiller) KillAll(ctx context.Context, binaryName string) {
	if k.platform == installer.PlatformWindows {
		k.run(ctx, "taskkill", "/f", "/im", installer.ExecutableName(binaryName, k.platform))
		return
	}

	err := k.run(ctx, "pkill", "-9", binaryName)
	if errors.Is(err, exec.ErrNotFound) {
		k.run(ctx, "killall", "-9", binaryName)
	}
}

func (k *commandKiller) run(ctx context.Context, name string, args ...string) error {
	_, stderr, err := k.runner.Run(ctx, name, args...)
	if err != nil {
		log.Debugf("%s %v: %v %s", name, args, err, stderr)
	}
	return err
}
