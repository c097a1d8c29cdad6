package audit

import (
	"context"
	"errors"
	"fmt"
)

// MultiLogger writes every event to several loggers. The first logger is the
// primary one: it assigns the event ID.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to every logger in order
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes event to all loggers, continuing past failures
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every logger
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit logger: %w", err))
		}
	}
	return errors.Join(errs...)
}
