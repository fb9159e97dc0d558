package indexerlib

import (
	"github.com/planetdecred/indexerlib/events"
	"github.com/planetdecred/indexerlib/profile"
)

// Types exposed to listeners.
type (
	Listener         = events.Listener
	Notification     = events.Notification
	ProgressSnapshot = events.ProgressSnapshot
	Profile          = profile.Profile
)

const (
	// Error Codes
	ErrAlreadyRunning       = "already_running"
	ErrListenerAlreadyExist = "listener_already_exist"
	ErrInvalidProfile       = "invalid_profile"
	ErrInvalid              = "invalid"
	ErrShuttingDown         = "shutting_down"
)
