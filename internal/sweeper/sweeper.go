// Package sweeper drives the time-based parts of the exchange lifecycle:
// a periodic sweep that resolves exchanges whose posting window closed, and
// a slower reminder pass that nudges sides who have not posted yet.
//
// Both jobs are plain methods invoked by a cron scheduler, so the logic is
// testable without the scheduler running. Exchanges are processed
// independently: one failure is logged and counted, never allowed to abort
// the rest of the batch. The sweep transition itself is idempotent (guarded
// update in the service), so multiple service instances may run sweepers
// concurrently without double-striking anyone. The reminder pass never
// mutates exchange state.
package sweeper

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/shoutswap/go-shoutout-backend/internal/repo"
	"github.com/shoutswap/go-shoutout-backend/internal/services"
)

var (
	// sweepRuns counts sweep executions by outcome of the run as a whole.
	sweepRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exchange_sweep_runs_total",
		Help: "Total number of expiry sweep runs.",
	})

	// sweepResolved counts exchanges this instance transitioned to incomplete.
	sweepResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exchange_sweep_resolved_total",
		Help: "Exchanges resolved to incomplete by the expiry sweep.",
	})

	// sweepErrors counts per-exchange sweep failures (the batch continues).
	sweepErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exchange_sweep_errors_total",
		Help: "Per-exchange errors encountered during expiry sweeps.",
	})

	// remindersSent counts reminder notifications dispatched.
	remindersSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exchange_reminders_sent_total",
		Help: "Posting-deadline reminder notifications dispatched.",
	})
)

func init() {
	prometheus.MustRegister(sweepRuns, sweepResolved, sweepErrors, remindersSent)
}

// Sweeper owns the two background jobs and their schedule.
type Sweeper struct {
	Exchanges *services.ExchangeService
	Notifier  services.NotificationDispatcher

	// Interval is the expiry sweep cadence (60s).
	Interval time.Duration
	// ReminderInterval is the reminder pass cadence (5m).
	ReminderInterval time.Duration
	// ReminderWindow is how far ahead of the deadline reminders fire (2h).
	ReminderWindow time.Duration
	// BatchLimit caps the due exchanges processed per sweep run.
	BatchLimit int

	Log  zerolog.Logger
	cron *cron.Cron
}

// Start registers both jobs with a cron scheduler and starts it.
func (s *Sweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc("@every "+s.Interval.String(), func() { s.SweepOnce(context.Background()) }); err != nil {
		return err
	}
	if _, err := c.AddFunc("@every "+s.ReminderInterval.String(), func() { s.RemindOnce(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.Log.Info().
		Dur("sweep_interval", s.Interval).
		Dur("reminder_interval", s.ReminderInterval).
		Msg("sweeper started")
	return nil
}

// Stop halts the scheduler and waits for in-flight jobs to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.Log.Info().Msg("sweeper stopped")
}

// SweepOnce resolves every due exchange it can find, one at a time. Errors
// are per-exchange: logged, counted, and skipped. Returns the number of
// exchanges this run resolved.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	sweepRuns.Inc()
	now := time.Now().UTC()

	due, err := repo.ListDueExchanges(ctx, s.Exchanges.DB, now, s.BatchLimit)
	if err != nil {
		s.Log.Error().Err(err).Msg("listing due exchanges failed")
		sweepErrors.Inc()
		return 0
	}
	resolved := 0
	for i := range due {
		if s.sweepOne(ctx, due[i].ID, now) {
			resolved++
		}
	}
	if len(due) > 0 {
		s.Log.Info().Int("due", len(due)).Int("resolved", resolved).Msg("expiry sweep finished")
	}
	return resolved
}

// sweepOne handles a single exchange, converting panics into counted errors
// so a poisoned record cannot take down the scheduler goroutine.
func (s *Sweeper) sweepOne(ctx context.Context, exchangeID string, now time.Time) (resolved bool) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error().Interface("panic", r).Str("exchange_id", exchangeID).
				Msg("panic while sweeping exchange")
			sweepErrors.Inc()
			resolved = false
		}
	}()

	ok, err := s.Exchanges.SweepExpired(ctx, exchangeID, now)
	if err != nil {
		s.Log.Error().Err(err).Str("exchange_id", exchangeID).Msg("sweeping exchange failed")
		sweepErrors.Inc()
	}
	if ok {
		sweepResolved.Inc()
	}
	return ok
}

// RemindOnce notifies every unposted side of exchanges expiring within the
// reminder window. Read-only with respect to exchange state. Returns the
// number of reminders dispatched.
func (s *Sweeper) RemindOnce(ctx context.Context) int {
	now := time.Now().UTC()
	expiring, err := repo.ListExpiringBetween(ctx, s.Exchanges.DB, now, now.Add(s.ReminderWindow))
	if err != nil {
		s.Log.Error().Err(err).Msg("listing expiring exchanges failed")
		return 0
	}

	sent := 0
	for i := range expiring {
		ex := &expiring[i]
		for _, side := range []struct {
			userID string
			posted bool
		}{
			{ex.RequesterID, ex.RequesterPosted},
			{ex.AcceptorID, ex.AcceptorPosted},
		} {
			if side.posted {
				continue
			}
			payload := map[string]string{
				"exchange_id": ex.ID,
				"expires_at":  ex.ExpiresAt.Format(time.RFC3339),
			}
			if err := s.Notifier.Notify(ctx, side.userID, services.NotifyPostReminder, payload); err != nil {
				s.Log.Warn().Err(err).Str("user_id", side.userID).Str("exchange_id", ex.ID).
					Msg("reminder dispatch failed")
				continue
			}
			remindersSent.Inc()
			sent++
		}
	}
	return sent
}
