// internal/arena/sweeper.go
package arena

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const sweepReason = "daily reset"

// Sweeper closes every arena and search once a day at a fixed local time.
type Sweeper struct {
	sched gocron.Scheduler
	job   gocron.Job
	mgr   *Manager
	base  context.Context
	log   logrus.FieldLogger
}

// ParseClock parses "HH:MM" in 24h notation.
func ParseClock(s string) (hour, minute uint, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return uint(h), uint(m), nil
}

// NewSweeper schedules the daily sweep at the given "HH:MM" in loc.
// The scheduler is idle until Start.
func NewSweeper(base context.Context, mgr *Manager, at string, loc *time.Location, clock clockwork.Clock, log logrus.FieldLogger) (*Sweeper, error) {
	h, m, err := ParseClock(at)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(loc), gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Sweeper{sched: sched, mgr: mgr, base: base, log: log.WithField("component", "sweeper")}
	s.job, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(h, m, 0))),
		gocron.NewTask(func() { s.Sweep(s.base) }),
		gocron.WithName("arena-daily-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return s, nil
}

// Sweep runs one sweep immediately.
func (s *Sweeper) Sweep(ctx context.Context) int {
	n, err := s.mgr.CancelAll(ctx, sweepReason)
	if err != nil {
		s.log.WithError(err).Error("daily sweep failed")
		return n
	}
	s.log.WithField("closed", n).Info("daily sweep finished")
	return n
}

// NextRun returns when the sweep fires next.
func (s *Sweeper) NextRun() (time.Time, error) { return s.job.NextRun() }

func (s *Sweeper) Start() { s.sched.Start() }

func (s *Sweeper) Shutdown() error { return s.sched.Shutdown() }
