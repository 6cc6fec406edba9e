package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultVersion is stamped on envelopes that do not carry a version.
const DefaultVersion = "1.0"

// Payload is the typed body of an event. The event name doubles as the routing key.
type Payload interface {
	EventName() string
}

// Envelope wraps a payload with identity and provenance metadata.
// Envelopes are built by producers and treated as read-only by consumers.
type Envelope struct {
	ID            uuid.UUID
	EventName     string
	Payload       Payload
	OccurredAt    time.Time
	SenderID      string
	CorrelationID string
	Version       string
}

// Option customises an envelope at construction time.
type Option func(*Envelope)

// WithCorrelationID links the envelope to the saga or request it belongs to.
func WithCorrelationID(id string) Option {
	return func(e *Envelope) { e.CorrelationID = id }
}

// WithID overrides the generated envelope id.
func WithID(id uuid.UUID) Option {
	return func(e *Envelope) { e.ID = id }
}

// WithOccurredAt overrides the creation timestamp.
func WithOccurredAt(t time.Time) Option {
	return func(e *Envelope) { e.OccurredAt = t.UTC() }
}

// WithVersion overrides the payload schema version.
func WithVersion(v string) Option {
	return func(e *Envelope) { e.Version = v }
}

// NewEnvelope stamps a payload with a fresh id, the current time and the default version.
func NewEnvelope(payload Payload, senderID string, opts ...Option) Envelope {
	env := Envelope{
		EventName: payload.EventName(),
		Payload:   payload,
		SenderID:  senderID,
	}
	for _, opt := range opts {
		opt(&env)
	}
	if env.ID == uuid.Nil {
		env.ID = uuid.New()
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	if env.Version == "" {
		env.Version = DefaultVersion
	}
	return env
}

// PayloadAs returns the envelope payload as T.
func PayloadAs[T Payload](env Envelope) (T, error) {
	p, ok := env.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("envelope %s: payload is %T, want %T", env.ID, env.Payload, zero)
	}
	return p, nil
}

// ValidationError reports a malformed or incomplete event.
type ValidationError struct {
	EventName string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.EventName == "" {
		return fmt.Sprintf("invalid envelope: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s payload: %s: %s", e.EventName, e.Field, e.Reason)
}

// UnknownEventError is returned for event names without a registered decoder.
type UnknownEventError struct {
	EventName string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event %q", e.EventName)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that redelivery cannot fix, so the message
// is dead-lettered without retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err can never succeed on redelivery.
func IsPermanent(err error) bool {
	var ve *ValidationError
	var ue *UnknownEventError
	var pe *permanentError
	return errors.As(err, &ve) || errors.As(err, &ue) || errors.As(err, &pe)
}
