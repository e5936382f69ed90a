// Package scheduler runs scan cycles on a fixed interval. A cycle scans every
// active user in turn with one shared rendering driver and delivers what is
// new. Cycles never overlap: a tick that fires while a cycle is still running
// is dropped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"listing_bot/internal/metrics"
	"listing_bot/internal/model"
	"listing_bot/internal/render"
	"listing_bot/internal/scanner"
)

// Users provides the active scan set.
type Users interface {
	ActiveUsers(ctx context.Context) ([]model.User, error)
	Purge(ctx context.Context) (int64, error)
}

// Scanner runs one user's scan session.
type Scanner interface {
	Scan(ctx context.Context, d render.Driver, u model.User, threshold time.Time) ([]scanner.Candidate, error)
}

// Gate delivers candidates and advances the watermark.
type Gate interface {
	Threshold(u model.User) time.Time
	Deliver(ctx context.Context, d render.Driver, u model.User, threshold time.Time, cands []scanner.Candidate) (int, error)
}

// Alerter notifies the operator.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// DriverFactory creates the rendering driver of one cycle.
type DriverFactory func() (render.Driver, error)

// Scheduler periodically runs scan cycles.
type Scheduler struct {
	users     Users
	scanner   Scanner
	gate      Gate
	alerter   Alerter
	newDriver DriverFactory
	log       *slog.Logger
	interval  time.Duration
}

// New creates a Scheduler with the default 6-minute interval.
func New(users Users, sc Scanner, gate Gate, alerter Alerter, newDriver DriverFactory, log *slog.Logger) *Scheduler {
	return &Scheduler{
		users:     users,
		scanner:   sc,
		gate:      gate,
		alerter:   alerter,
		newDriver: newDriver,
		log:       log,
		interval:  6 * time.Minute,
	}
}

// SetInterval overrides the default cycle interval.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.interval = d
}

// Run runs a cycle immediately and then on every interval, blocking until ctx
// is cancelled and the running cycle has returned.
func (s *Scheduler) Run(ctx context.Context) {
	logger := cron.PrintfLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelDebug))
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))

	job := cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if err := s.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("scan cycle failed", "error", err)
		}
	}))
	c.Schedule(cron.Every(s.interval), job)
	c.Start()
	s.log.Info("scheduler started", "interval", s.interval)

	var wg sync.WaitGroup
	wg.Go(job.Run)

	<-ctx.Done()
	<-c.Stop().Done()
	wg.Wait()
	s.log.Info("scheduler stopped")
}

// RunCycle scans every active user once. Session failures only skip the user;
// a fatal driver error aborts the cycle and alerts the operator.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	start := time.Now()
	log := s.log.With("cycle_id", uuid.NewString())
	outcome := "ok"
	defer func() {
		metrics.RecordCycle(outcome, time.Since(start))
	}()

	if n, err := s.users.Purge(ctx); err != nil {
		log.Warn("purge expired records", "error", err)
	} else if n > 0 {
		log.Info("expired records purged", "count", n)
	}

	users, err := s.users.ActiveUsers(ctx)
	if err != nil {
		outcome = "error"
		return fmt.Errorf("active users: %w", err)
	}
	metrics.SetActiveUsers(len(users))
	if len(users) == 0 {
		log.Debug("no active users")
		return nil
	}

	d, err := s.newDriver()
	if err != nil {
		outcome = "fatal"
		s.alert(ctx, log, fmt.Sprintf("Rendering driver failed to start: %v", err))
		return fmt.Errorf("start driver: %w", err)
	}
	defer func() {
		if cerr := d.Close(); cerr != nil {
			log.Warn("close driver", "error", cerr)
		}
	}()

	log.Info("scan cycle started", "users", len(users))
	delivered := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			outcome = "cancelled"
			return err
		}

		n, err := s.processUser(ctx, log, d, u)
		delivered += n
		if errors.Is(err, render.ErrFatal) {
			outcome = "fatal"
			s.alert(ctx, log, fmt.Sprintf("Scan cycle aborted at chat %d: %v", u.ChatID, err))
			return fmt.Errorf("chat %d: %w", u.ChatID, err)
		}
	}

	log.Info("scan cycle finished", "users", len(users), "delivered", delivered,
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *Scheduler) processUser(ctx context.Context, log *slog.Logger, d render.Driver, u model.User) (int, error) {
	log = log.With("chat_id", u.ChatID)
	threshold := s.gate.Threshold(u)

	cands, err := s.scanner.Scan(ctx, d, u, threshold)
	switch {
	case errors.Is(err, render.ErrFatal):
		metrics.RecordSession("fatal")
		return 0, err
	case err != nil:
		metrics.RecordSession("aborted")
		log.Warn("scan session aborted", "error", err)
		return 0, nil
	}
	metrics.RecordSession("ok")

	if len(cands) == 0 {
		return 0, nil
	}
	n, err := s.gate.Deliver(ctx, d, u, threshold, cands)
	if err != nil && !errors.Is(err, render.ErrFatal) {
		log.Warn("delivery interrupted", "delivered", n, "error", err)
		return n, nil
	}
	return n, err
}

func (s *Scheduler) alert(ctx context.Context, log *slog.Logger, text string) {
	log.Error(text)
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, text); err != nil {
		log.Warn("operator alert not sent", "error", err)
	}
}
