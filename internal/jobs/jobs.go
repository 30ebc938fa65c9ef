// Package jobs runs periodic tasks on fixed intervals or cron schedules.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule yields the next activation strictly after t.
type Schedule interface {
	Next(t time.Time) (time.Time, error)
}

type every time.Duration

// Every runs a job at a fixed interval.
func Every(d time.Duration) (Schedule, error) {
	if d <= 0 {
		return nil, fmt.Errorf("jobs: interval must be positive, got %s", d)
	}
	return every(d), nil
}

func (e every) Next(t time.Time) (time.Time, error) {
	return t.Add(time.Duration(e)), nil
}

type cron string

// Cron parses a standard five-field cron expression.
func Cron(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("jobs: invalid cron expression %q", expr)
	}
	return cron(expr), nil
}

func (c cron) Next(t time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(string(c), t, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("jobs: next tick for %q: %w", string(c), err)
	}
	return next, nil
}

// Resolve prefers a cron expression over the interval when one is set.
func Resolve(cronExpr string, interval time.Duration) (Schedule, error) {
	if strings.TrimSpace(cronExpr) != "" {
		return Cron(cronExpr)
	}
	return Every(interval)
}

// Job is one named periodic task.
type Job struct {
	Name     string
	Schedule Schedule
	// RunAtStart triggers one run before waiting for the first tick.
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Run drives every job until ctx is cancelled. Runs of one job never overlap;
// a failed run is logged and the job keeps its schedule.
func Run(ctx context.Context, logger *slog.Logger, jobs ...Job) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, j := range jobs {
		if j.Name == "" || j.Schedule == nil || j.Run == nil {
			return errors.New("jobs: job needs a name, schedule and run func")
		}
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			loop(ctx, logger.With("job", j.Name), j, time.Now)
		}(j)
	}
	wg.Wait()
	return ctx.Err()
}

func loop(ctx context.Context, logger *slog.Logger, j Job, now func() time.Time) {
	if j.RunAtStart {
		runOnce(ctx, logger, j)
	}
	for {
		next, err := j.Schedule.Next(now())
		if err != nil {
			logger.Error("job schedule exhausted", "err", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		runOnce(ctx, logger, j)
	}
}

func runOnce(ctx context.Context, logger *slog.Logger, j Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", r)
		}
	}()
	if err := j.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("job run failed", "err", err, "duration", time.Since(start))
		return
	}
	logger.Debug("job run finished", "duration", time.Since(start))
}
