package notifications

import (
	"context"
	"errors"
	"math"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig configures redelivery of failed sends
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig allows three attempts a minute, then two minutes apart
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      time.Minute,
		MaxDelay:          time.Hour,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy fills zero fields from DefaultRetryConfig
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether a send that failed with err after attempts
// tries should be tried again. Only transient errors are retried.
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if err == nil || attempts >= p.config.MaxAttempts {
		return false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Transient
	}
	return true
}

// NextRetryDelay is InitialDelay * multiplier^(attempts-1), capped at MaxDelay
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// RetryWorker periodically resends due deliveries
type RetryWorker struct {
	dispatcher *Dispatcher
	stopCh     chan struct{}
	done       chan struct{}
}

// StartRetryWorker runs RetryDue every interval until ctx ends or Stop is called
func (d *Dispatcher) StartRetryWorker(ctx context.Context, interval time.Duration) *RetryWorker {
	w := &RetryWorker{dispatcher: d, stopCh: make(chan struct{}), done: make(chan struct{})}
	go w.run(ctx, interval)
	return w
}

func (w *RetryWorker) run(ctx context.Context, interval time.Duration) {
	defer close(w.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *RetryWorker) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("panic in notification retry worker")
		}
	}()

	n, err := w.dispatcher.RetryDue(ctx)
	if err != nil {
		logrus.WithError(err).Warn("notification retry pass failed")
	}
	if n > 0 {
		logrus.WithField("count", n).Info("retried notification deliveries")
	}
}

// Stop ends the worker and waits for its loop to exit
func (w *RetryWorker) Stop() {
	close(w.stopCh)
	<-w.done
}
