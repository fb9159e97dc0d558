package installer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"

	"github.com/planetdecred/indexerlib/events"
)

const (
	DefaultBinaryName   = "torii"
	DefaultReleaseURL   = "https://github.com/dojoengine/dojo/releases/download/v%[1]s/dojo_v%[1]s_win32_amd64.zip"
	DefaultBootstrapURL = "https://install.dojoengine.org"
)

// Config holds the locations and collaborators shared by both platform
// variants. Zero values are replaced with defaults by New.
type Config struct {
	BinaryName string

	// InstallDir is the toolchain home. The binary lives in its bin
	// directory and the unix bootstrapper in its dojoup directory.
	InstallDir string

	// AppDir is an application owned directory used for temporary
	// downloads.
	AppDir string

	ReleaseURL   string
	BootstrapURL string

	Runner     Runner
	HTTPClient *http.Client
	LookPath   func(file string) (string, error)
}

// variant is the platform specific install step.
type variant interface {
	platform() Platform
	install(ctx context.Context, version, binaryPath string) error
}

type installer struct {
	cfg     Config
	variant variant
}

// DetectPlatform reports the platform of the running host.
func DetectPlatform() Platform {
	if runtime.GOOS == "windows" {
		return PlatformWindows
	}
	return PlatformUnix
}

// NewForHost returns the installer variant for the running host.
func NewForHost(cfg Config) Installer {
	return New(DetectPlatform(), cfg)
}

func New(platform Platform, cfg Config) Installer {
	if cfg.BinaryName == "" {
		cfg.BinaryName = DefaultBinaryName
	}
	if cfg.ReleaseURL == "" {
		cfg.ReleaseURL = DefaultReleaseURL
	}
	if cfg.BootstrapURL == "" {
		cfg.BootstrapURL = DefaultBootstrapURL
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.LookPath == nil {
		cfg.LookPath = exec.LookPath
	}

	i := &installer{cfg: cfg}
	switch platform {
	case PlatformWindows:
		i.variant = &windowsInstaller{cfg: cfg}
	default:
		i.variant = &unixInstaller{cfg: cfg}
	}
	return i
}

// ExecutableName returns the binary file name for platform.
func ExecutableName(name string, platform Platform) string {
	if platform == PlatformWindows {
		return name + ".exe"
	}
	return name
}

func (i *installer) executableName() string {
	return ExecutableName(i.cfg.BinaryName, i.variant.platform())
}

func (i *installer) expectedPath() string {
	return filepath.Join(i.cfg.InstallDir, "bin", i.executableName())
}

func (i *installer) EnsureInstalled(ctx context.Context, targetVersion string) (*Spec, error) {
	target := NormalizeVersion(targetVersion)
	if target == "" {
		return nil, &events.InstallError{Reason: fmt.Sprintf("invalid target version %q", targetVersion)}
	}

	spec := &Spec{
		TargetVersion: target,
		Platform:      i.variant.platform(),
		BinaryPath:    i.expectedPath(),
	}

	current, found := i.locate()
	if !found {
		log.Infof("%s executable not found, installing version %s", i.cfg.BinaryName, target)
		if err := i.install(ctx, target); err != nil {
			return nil, err
		}
		spec.InstalledVersion = target
		spec.Updated = true
		return spec, nil
	}

	installed, err := i.queryVersion(ctx, current)
	if err != nil {
		log.Warnf("Unable to read %s version from %s: %v", i.cfg.BinaryName, current, err)
	}
	if installed == target {
		spec.BinaryPath = current
		spec.InstalledVersion = installed
		return spec, nil
	}

	log.Infof("Updating %s from %q to %s", i.cfg.BinaryName, installed, target)
	if err := i.install(ctx, target); err != nil {
		return nil, err
	}
	spec.InstalledVersion = target
	spec.Updated = true
	return spec, nil
}

// locate prefers the install directory and falls back to the system path.
func (i *installer) locate() (string, bool) {
	expected := i.expectedPath()
	if fileExists(expected) {
		return expected, true
	}
	if path, err := i.cfg.LookPath(i.executableName()); err == nil {
		return path, true
	}
	return "", false
}

func (i *installer) install(ctx context.Context, version string) error {
	binaryPath := i.expectedPath()
	log.Infof("Installing %s %s on %s", i.cfg.BinaryName, version, i.variant.platform())

	if err := i.variant.install(ctx, version, binaryPath); err != nil {
		if _, ok := events.IsInstallError(err); ok {
			return err
		}
		return &events.InstallError{Reason: "installation failed", Err: err}
	}

	if !fileExists(binaryPath) {
		return &events.InstallError{Reason: fmt.Sprintf("executable not found at expected path: %s", binaryPath)}
	}

	log.Infof("%s %s installed successfully", i.cfg.BinaryName, version)
	return nil
}

func (i *installer) queryVersion(ctx context.Context, binaryPath string) (string, error) {
	stdout, _, err := i.cfg.Runner.Run(ctx, binaryPath, "--version")
	if err != nil {
		return "", err
	}
	return NormalizeVersion(string(stdout)), nil
}

// NormalizeVersion strips everything before the first digit and everything
// after the first whitespace, so "torii 1.5.0\n" and "v1.5.0" both become
// "1.5.0".
func NormalizeVersion(version string) string {
	start := strings.IndexFunc(version, unicode.IsDigit)
	if start < 0 {
		return ""
	}
	version = version[start:]
	if end := strings.IndexFunc(version, unicode.IsSpace); end >= 0 {
		version = version[:end]
	}
	return version
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
