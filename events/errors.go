package events

import (
	"fmt"

	"github.com/pkg/errors"
)

// InstallError reports a failed install or update attempt. The supervisor
// retries installation after a backoff.
type InstallError struct {
	Reason string
	Err    error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("install failed: %s: %v", e.Reason, e.Err)
	}
	return "install failed: " + e.Reason
}

func (e *InstallError) Unwrap() error { return e.Err }

// ProbeError reports a height probe that could not produce a value for the
// current tick.
type ProbeError struct {
	Source string
	Err    error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s probe failed: %v", e.Source, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// StorageIOError reports unreadable or corrupt persisted state. It is never
// repaired automatically.
type StorageIOError struct {
	Path string
	Err  error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("storage error at %s: %v", e.Path, e.Err)
}

func (e *StorageIOError) Unwrap() error { return e.Err }

// ProcessExitError carries the exit code of a supervised process.
type ProcessExitError struct {
	Code int
}

func (e *ProcessExitError) Error() string {
	return fmt.Sprintf("indexer exited with code %d", e.Code)
}

// IsInstallError checks whether err is an InstallError and returns it.
func IsInstallError(err error) (*InstallError, bool) {
	var e *InstallError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsProbeError checks whether err is a ProbeError and returns it.
func IsProbeError(err error) (*ProbeError, bool) {
	var e *ProbeError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsStorageIOError checks whether err is a StorageIOError and returns it.
func IsStorageIOError(err error) (*StorageIOError, bool) {
	var e *StorageIOError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsProcessExitError checks whether err is a ProcessExitError and returns it.
func IsProcessExitError(err error) (*ProcessExitError, bool) {
	var e *ProcessExitError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
