package events

import (
	"time"

	"github.com/planetdecred/indexerlib/profile"
)

type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return "unknown"
}

// MarshalText encodes the severity the way the UI layer expects it.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Notification struct {
	Severity    Severity `json:"type"`
	Message     string   `json:"message"`
	TimestampMs int64    `json:"timestampMs"`
}

func newNotification(severity Severity, message string) Notification {
	return Notification{
		Severity:    severity,
		Message:     message,
		TimestampMs: time.Now().UnixNano() / int64(time.Millisecond),
	}
}

// ProgressSnapshot is recomputed on every progress tick and superseded by the
// next one.
type ProgressSnapshot struct {
	Progress            int32  `json:"progress"`
	InitialBlock        *int64 `json:"initialToriiBlock"`
	CurrentIndexerBlock int64  `json:"currentToriiBlock"`
	CurrentChainBlock   int64  `json:"currentChainBlock"`
}

// Listener receives everything the loader publishes outward. Calls are made
// synchronously from the publishing goroutine and must not block.
type Listener interface {
	OnNotification(n Notification)
	OnProgress(snapshot ProgressSnapshot)
	OnConfigChanged(p profile.Profile)
}

// Notifier is the write side used by the supervisor and the progress engine.
type Notifier interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}
