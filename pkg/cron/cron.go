package cron

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Schedule computes the next fire time strictly after the given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Job is a unit of recurring work. Errors are logged at the job boundary;
// the next scheduled tick is the retry.
type Job func(ctx context.Context) error

// ParseClock parses a "HH:MM" time-of-day string.
func ParseClock(raw string) (hour, minute int, err error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock value %q", raw)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return hour, minute, nil
}

type dailySchedule struct {
	hour   int
	minute int
}

// Daily fires once per day at the given time of day.
func Daily(hour, minute int) Schedule {
	return dailySchedule{hour: hour, minute: minute}
}

func (s dailySchedule) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), s.hour, s.minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type monthlySchedule struct {
	day    int
	hour   int
	minute int
}

// Monthly fires once per month on the given day at the given time of day.
// Days beyond the end of a month clamp to that month's last day.
func Monthly(day, hour, minute int) Schedule {
	if day < 1 {
		day = 1
	}
	return monthlySchedule{day: day, hour: hour, minute: minute}
}

func (s monthlySchedule) Next(after time.Time) time.Time {
	next := monthlyAt(after.Year(), after.Month(), s.day, s.hour, s.minute, after.Location())
	if !next.After(after) {
		first := time.Date(after.Year(), after.Month(), 1, 0, 0, 0, 0, after.Location()).AddDate(0, 1, 0)
		next = monthlyAt(first.Year(), first.Month(), s.day, s.hour, s.minute, after.Location())
	}
	return next
}

func monthlyAt(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	lastDay := time.Date(year, month+1, 1, 0, 0, 0, 0, loc).AddDate(0, 0, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

type task struct {
	name     string
	schedule Schedule
	job      Job
}

// Runner executes registered jobs on their schedules, each on its own timer.
type Runner struct {
	logger *zap.Logger

	mu      sync.Mutex
	tasks   []task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewRunner builds an empty runner.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger}
}

// Register adds a named job. Must be called before Start.
func (r *Runner) Register(name string, schedule Schedule, job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task{name: name, schedule: schedule, job: job})
}

// Start launches one timer goroutine per registered job. Safe to call once.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	for _, t := range r.tasks {
		r.wg.Add(1)
		go r.loop(ctx, t)
	}
	r.started = true
	r.logger.Sugar().Infow("cron runner started", "jobs", len(r.tasks))
}

// Stop cancels all timers and waits for in-flight jobs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
	r.logger.Sugar().Infow("cron runner stopped")
}

// RunNow executes a registered job synchronously, outside its schedule.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	var found *task
	for i := range r.tasks {
		if r.tasks[i].name == name {
			found = &r.tasks[i]
			break
		}
	}
	r.mu.Unlock()

	if found == nil {
		return fmt.Errorf("cron job %s not registered", name)
	}
	return r.run(ctx, *found)
}

func (r *Runner) loop(ctx context.Context, t task) {
	defer r.wg.Done()
	for {
		next := t.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := r.run(ctx, t); err != nil {
				r.logger.Sugar().Errorw("cron job failed", "job", t.name, "error", err)
			}
		}
	}
}

func (r *Runner) run(ctx context.Context, t task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cron job %s panicked: %v", t.name, rec)
		}
	}()
	return t.job(ctx)
}
