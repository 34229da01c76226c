package events

import (
	"context"
	"sync"

	"github.com/mieweb/pulse-desktop/lib/logger"
)

// Type identifies an event emitted to the UI layer.
type Type string

const (
	RecordingStatus      Type = "recording-status"
	ClipSaved            Type = "clip-saved"
	RecordingError       Type = "recording-error"
	FilesystemChanged    Type = "filesystem-changed"
	PreInitStatusChanged Type = "pre-init-status-changed"
	PreInitIdleShutdown  Type = "pre-init-idle-shutdown"
	ProjectRequired      Type = "project-required"
)

// Status values carried by RecordingStatus events.
const (
	StatusIdle      = "idle"
	StatusRecording = "recording"
	StatusSaving    = "saving"
	StatusError     = "error"
)

type Event struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload,omitempty"`
}

// ClipSavedPayload is the payload of a ClipSaved event.
type ClipSavedPayload struct {
	Path       string `json:"path"`
	DurationMs int64  `json:"duration_ms"`
}

// ErrorPayload is the payload of a RecordingError event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const subscriberBuffer = 256

// Bus fans out engine events to subscribers. Delivery order is preserved per
// subscriber; a subscriber that stops draining loses events rather than
// blocking emitters.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func must be called to
// release the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Emit delivers ev to every subscriber. It never blocks; a subscriber whose
// buffer is full drops the event.
func (b *Bus) Emit(ctx context.Context, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logger.FromContext(ctx).Warn("dropping event for slow subscriber", "type", ev.Type)
		}
	}
}

// EmitStatus is shorthand for a RecordingStatus event.
func (b *Bus) EmitStatus(ctx context.Context, status string) {
	b.Emit(ctx, Event{Type: RecordingStatus, Payload: status})
}

// EmitError is shorthand for a RecordingError event.
func (b *Bus) EmitError(ctx context.Context, code, message string) {
	b.Emit(ctx, Event{Type: RecordingError, Payload: ErrorPayload{Code: code, Message: message}})
}
