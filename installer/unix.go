package installer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/planetdecred/indexerlib/events"
)

// unixInstaller pipes the toolchain bootstrap script into bash and then asks
// the toolchain manager for the requested component version.
type unixInstaller struct {
	cfg Config
}

func (u *unixInstaller) platform() Platform { return PlatformUnix }

func (u *unixInstaller) install(ctx context.Context, version, binaryPath string) error {
	dojoup := filepath.Join(u.cfg.InstallDir, "dojoup", "dojoup")
	script := fmt.Sprintf("curl -L %s | bash && %s component add %s %s",
		u.cfg.BootstrapURL, dojoup, u.cfg.BinaryName, version)

	_, stderr, err := u.cfg.Runner.Run(ctx, "sh", "-c", script)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = "unknown error"
		}
		log.Errorf("Unix installation failed: %s", msg)
		return &events.InstallError{Reason: "unix installation failed: " + msg, Err: err}
	}
	return nil
}
