package installer

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/planetdecred/indexerlib/events"
)

const tempDirName = "torii-temp"

// windowsInstaller downloads the release archive, extracts the executable
// and copies it into the install directory.
type windowsInstaller struct {
	cfg Config
}

func (w *windowsInstaller) platform() Platform { return PlatformWindows }

func (w *windowsInstaller) install(ctx context.Context, version, binaryPath string) error {
	tempDir := filepath.Join(w.cfg.AppDir, tempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return &events.InstallError{Reason: "error creating temp directory", Err: err}
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			log.Warnf("Unable to remove %s: %v", tempDir, err)
		}
	}()

	zipPath := filepath.Join(tempDir, "dojo.zip")
	downloadURL := fmt.Sprintf(w.cfg.ReleaseURL, version)
	if err := download(ctx, w.cfg.HTTPClient, downloadURL, zipPath); err != nil {
		log.Errorf("Windows download failed: %v", err)
		return &events.InstallError{Reason: "download failed", Err: err}
	}

	exeName := ExecutableName(w.cfg.BinaryName, PlatformWindows)
	extracted := filepath.Join(tempDir, exeName)
	if err := extractFile(zipPath, exeName, extracted); err != nil {
		log.Errorf("Windows extraction failed: %v", err)
		return &events.InstallError{Reason: "extraction failed", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(binaryPath), 0755); err != nil {
		return &events.InstallError{Reason: "error creating install directory", Err: err}
	}
	if err := copyFile(extracted, binaryPath); err != nil {
		return &events.InstallError{Reason: "copy failed", Err: err}
	}
	return nil
}

func download(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %s fetching %s", resp.Status, url)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// extractFile writes the first archive member whose base name is name to
// dest.
func extractFile(zipPath, name, dest string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() || path.Base(f.Name) != name {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		defer src.Close()
		return writeFile(dest, src, 0755)
	}
	return errors.Errorf("%s not found in archive", name)
}

// copyFile goes through a temporary file and a rename so an interrupted copy
// never leaves a truncated binary at dest.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".partial"
	if err := writeFile(tmp, in, 0755); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

func writeFile(dest string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
