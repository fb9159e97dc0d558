package installer

import "context"

type Platform uint8

const (
	PlatformUnix Platform = iota
	PlatformWindows
)

func (p Platform) String() string {
	if p == PlatformWindows {
		return "windows"
	}
	return "unix"
}

// Spec describes the binary a lifecycle pass is going to launch. It is derived
// fresh on every pass.
type Spec struct {
	TargetVersion    string
	InstalledVersion string
	Platform         Platform
	BinaryPath       string

	// Updated is set when this pass installed or replaced the binary.
	Updated bool
}

// Installer makes sure the requested version of the indexer binary is present.
type Installer interface {
	EnsureInstalled(ctx context.Context, targetVersion string) (*Spec, error)
}

// Runner executes external commands. It exists so tests can replace the
// shell.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}
