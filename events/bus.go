package events

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/planetdecred/indexerlib/profile"
)

// ErrListenerAlreadyExist is returned when a listener id is registered twice.
var ErrListenerAlreadyExist = errors.New("listener_already_exist")

// Bus fans notifications, progress snapshots and config changes out to the
// registered listeners. Every Loader owns its own Bus.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string]Listener
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[string]Listener)}
}

func (b *Bus) AddListener(uniqueIdentifier string, listener Listener) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.listeners[uniqueIdentifier]; ok {
		return ErrListenerAlreadyExist
	}
	b.listeners[uniqueIdentifier] = listener
	return nil
}

func (b *Bus) RemoveListener(uniqueIdentifier string) {
	b.mu.Lock()
	delete(b.listeners, uniqueIdentifier)
	b.mu.Unlock()
}

func (b *Bus) snapshot() []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()

	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

func (b *Bus) publish(severity Severity, format string, args ...interface{}) {
	n := newNotification(severity, fmt.Sprintf(format, args...))
	for _, l := range b.snapshot() {
		l.OnNotification(n)
	}
}

func (b *Bus) Info(format string, args ...interface{}) {
	b.publish(SeverityInfo, format, args...)
}

func (b *Bus) Warn(format string, args ...interface{}) {
	b.publish(SeverityWarning, format, args...)
}

func (b *Bus) Error(format string, args ...interface{}) {
	b.publish(SeverityError, format, args...)
}

func (b *Bus) PublishProgress(snapshot ProgressSnapshot) {
	for _, l := range b.snapshot() {
		l.OnProgress(snapshot)
	}
}

func (b *Bus) PublishConfig(p profile.Profile) {
	for _, l := range b.snapshot() {
		l.OnConfigChanged(p)
	}
}

// Listener returns the listener registered under uniqueIdentifier.
func (b *Bus) Listener(uniqueIdentifier string) (Listener, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.listeners[uniqueIdentifier]
	return l, ok
}
