package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
	"github.com/platinummonkey/lightbox/pkg/notifications"
)

// Requeuer picks up media stuck in pending or processing
type Requeuer interface {
	Requeue(ctx context.Context, olderThan time.Duration) (int, error)
}

// MaintenanceConfig controls the periodic jobs
type MaintenanceConfig struct {
	PurgeSchedule   string
	RequeueSchedule string
	RetrySchedule   string
	NotificationTTL time.Duration
	AuditRetention  time.Duration
	StaleAfter      time.Duration
}

// Maintenance runs the housekeeping jobs of lightbox-maintenance
type Maintenance struct {
	cfg      MaintenanceConfig
	auth     *auth.Service
	notes    *notifications.Dispatcher
	audit    *audit.DBLogger
	requeuer Requeuer
	log      *logrus.Entry
	now      func() time.Time
}

// NewMaintenance builds the job set. requeuer may be nil to skip media requeues.
func NewMaintenance(cfg MaintenanceConfig, authSvc *auth.Service, notes *notifications.Dispatcher,
	auditLog *audit.DBLogger, requeuer Requeuer) *Maintenance {
	return &Maintenance{
		cfg:      cfg,
		auth:     authSvc,
		notes:    notes,
		audit:    auditLog,
		requeuer: requeuer,
		log:      logrus.WithField("component", "maintenance"),
		now:      time.Now,
	}
}

// Maintenance builds the job set from the loaded configuration
func (a *App) Maintenance(requeuer Requeuer) *Maintenance {
	c := a.Config
	return NewMaintenance(MaintenanceConfig{
		PurgeSchedule:   c.Maintenance.PurgeSchedule,
		RequeueSchedule: c.Maintenance.RequeueSchedule,
		RetrySchedule:   c.Maintenance.RetrySchedule,
		NotificationTTL: c.Maintenance.NotificationTTL,
		AuditRetention:  time.Duration(c.Audit.RetentionDays) * 24 * time.Hour,
		StaleAfter:      c.Media.StaleAfter,
	}, a.Auth, a.Notifications, a.AuditDB, requeuer)
}

// Purge removes expired auth records, old notifications and audit events
// past retention. A zero retention keeps audit events forever.
func (m *Maintenance) Purge(ctx context.Context) error {
	now := m.now().UTC()
	var errs []error

	counts, err := m.auth.PurgeExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("auth purge: %w", err))
	} else {
		m.log.WithFields(logrus.Fields{
			"sessions":        counts.Sessions,
			"invitations":     counts.Invitations,
			"password_resets": counts.Resets,
		}).Info("purged expired auth records")
	}

	if m.cfg.NotificationTTL > 0 {
		n, err := m.notes.Purge(ctx, now.Add(-m.cfg.NotificationTTL))
		if err != nil {
			errs = append(errs, fmt.Errorf("notification purge: %w", err))
		} else if n > 0 {
			m.log.WithField("count", n).Info("purged old notifications")
		}
	}

	if m.audit != nil && m.cfg.AuditRetention > 0 {
		n, err := m.audit.Cleanup(ctx, now.Add(-m.cfg.AuditRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("audit cleanup: %w", err))
		} else if n > 0 {
			m.log.WithField("count", n).Info("removed audit events past retention")
		}
	}
	return errors.Join(errs...)
}

// Requeue queues media that has not finished processing within StaleAfter
func (m *Maintenance) Requeue(ctx context.Context) error {
	if m.requeuer == nil {
		return nil
	}
	_, err := m.requeuer.Requeue(ctx, m.cfg.StaleAfter)
	return err
}

// RetryDeliveries resends failed push and email deliveries that are due
func (m *Maintenance) RetryDeliveries(ctx context.Context) error {
	n, err := m.notes.RetryDue(ctx)
	if n > 0 {
		m.log.WithField("count", n).Info("retried notification deliveries")
	}
	return err
}

type job struct {
	name     string
	schedule string
	run      func(context.Context) error
}

func (m *Maintenance) jobs() []job {
	return []job{
		{"purge", m.cfg.PurgeSchedule, m.Purge},
		{"requeue", m.cfg.RequeueSchedule, m.Requeue},
		{"retry", m.cfg.RetrySchedule, m.RetryDeliveries},
	}
}

// RunOnce runs every job a single time, continuing past failures
func (m *Maintenance) RunOnce(ctx context.Context) error {
	var errs []error
	for _, j := range m.jobs() {
		if err := j.run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(errs...)
}

// Schedule registers every job with a non-empty schedule on c
func (m *Maintenance) Schedule(ctx context.Context, c *cron.Cron) error {
	for _, j := range m.jobs() {
		if j.schedule == "" {
			continue
		}
		j := j
		_, err := c.AddFunc(j.schedule, func() {
			start := m.now()
			if err := j.run(ctx); err != nil {
				m.log.WithError(err).WithField("job", j.name).Error("maintenance job failed")
				return
			}
			m.log.WithFields(logrus.Fields{
				"job":      j.name,
				"duration": time.Since(start).String(),
			}).Debug("maintenance job finished")
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", j.name, err)
		}
		m.log.WithFields(logrus.Fields{"job": j.name, "schedule": j.schedule}).Info("scheduled maintenance job")
	}
	return nil
}
