package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/contextkeys"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

type loggerKey struct{}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the context's audit logger, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NopLogger discards events
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                { return nil }

// NewEvent builds an event with the actor and request details found in ctx
func NewEvent(ctx context.Context, eventType EventType, status Status) *Event {
	event := &Event{
		EventType: eventType,
		Status:    status,
		IPAddress: contextkeys.GetClientIP(ctx),
		UserAgent: contextkeys.GetUserAgent(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  map[string]interface{}{},
		CreatedAt: time.Now().UTC(),
	}
	if p, ok := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal); ok && p != nil && p.User != nil {
		id := p.User.ID
		event.ActorID = &id
		event.ActorUsername = p.User.Username
	} else if id := contextkeys.GetUserID(ctx); id != 0 {
		event.ActorID = &id
	}
	return event
}

// Target sets what the event acted on
func (e *Event) Target(t TargetType, id string) *Event {
	e.TargetType = t
	e.TargetID = id
	return e
}

// With adds a metadata field
func (e *Event) With(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata[key] = value
	return e
}

// Msg sets the human readable message
func (e *Event) Msg(message string) *Event {
	e.Message = message
	return e
}

// Record writes a success event through the context's logger
func Record(ctx context.Context, eventType EventType, target TargetType, targetID, message string) error {
	return FromContext(ctx).Log(ctx, NewEvent(ctx, eventType, StatusSuccess).Target(target, targetID).Msg(message))
}

// RecordFailure writes a failure event through the context's logger
func RecordFailure(ctx context.Context, eventType EventType, message string, err error) error {
	event := NewEvent(ctx, eventType, StatusFailure).Msg(message)
	if err != nil {
		event.With("error", err.Error())
	}
	return FromContext(ctx).Log(ctx, event)
}
