// internal/historian/historian.go pops arena events from a Redis queue and
// persists them to PostgreSQL in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sergioBarril/smashbot/internal/events"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize  = 20
	DefaultFlushDelay = 500 * time.Millisecond
	DefaultPopTimeout = 3 * time.Second
)

// Queue is the blocking pop of a redis client.
type Queue interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Writer persists batches.
type Writer interface {
	InsertEvents(ctx context.Context, batch []events.Event) error
	MarkStale(ctx context.Context, arenaID uuid.UUID) error
}

type Config struct {
	Queue      string
	BatchSize  int
	FlushDelay time.Duration
	PopTimeout time.Duration
	// Inactivity marks an open arena stale when no event arrived for it
	// in this long. Zero disables the check.
	Inactivity time.Duration
}

// Service drains the queue. One Run per Service.
type Service struct {
	queue  Queue
	writer Writer
	cfg    Config
	clock  clockwork.Clock
	log    logrus.FieldLogger

	mu           sync.Mutex
	batch        []events.Event
	batchStarted time.Time
	lastActivity map[uuid.UUID]time.Time
}

func New(q Queue, w Writer, cfg Config, clock clockwork.Clock, log logrus.FieldLogger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = DefaultFlushDelay
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = DefaultPopTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		queue:        q,
		writer:       w,
		cfg:          cfg,
		clock:        clock,
		log:          log,
		lastActivity: make(map[uuid.UUID]time.Time),
	}
}

// Run blocks until ctx is cancelled. Whatever is still batched is flushed
// before it returns.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.readLoop(ctx)
		return nil
	})
	if s.cfg.Inactivity > 0 {
		g.Go(func() error {
			s.inactivityLoop(ctx)
			return nil
		})
	}
	s.log.Info("historian started")
	err := g.Wait()
	s.flush(context.WithoutCancel(ctx))
	s.log.Info("historian stopped")
	return err
}

// Pending reports how many events wait for the next flush.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batch)
}

func (s *Service) readLoop(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := s.queue.BLPop(ctx, s.cfg.PopTimeout, s.cfg.Queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			if ctx.Err() == nil {
				s.log.WithError(err).Error("BLPop failed")
			}
		case len(res) >= 2:
			// res[0] is the queue name and res[1] the payload
			var ev events.Event
			if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
				s.log.WithError(err).Warn("invalid arena event")
				break
			}
			s.record(ev)
		}
		if s.due() {
			s.flush(ctx)
		}
	}
}

func (s *Service) record(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.batch) == 0 {
		s.batchStarted = s.clock.Now()
	}
	s.batch = append(s.batch, ev)

	switch ev.Type {
	case events.ArenaClosed, events.BothTimedOut, events.SearchLost:
		delete(s.lastActivity, ev.ArenaID)
	default:
		s.lastActivity[ev.ArenaID] = s.clock.Now()
	}
}

func (s *Service) due() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batch) == 0 {
		return false
	}
	return len(s.batch) >= s.cfg.BatchSize || s.clock.Since(s.batchStarted) >= s.cfg.FlushDelay
}

// flush writes the batch in one transaction. A failed batch is dropped and
// logged so one bad row cannot wedge the queue.
func (s *Service) flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.batch
	s.batch = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := s.writer.InsertEvents(ctx, batch); err != nil {
		s.log.WithError(err).WithField("events", len(batch)).Error("failed to flush arena events")
		return
	}
	s.log.WithField("events", len(batch)).Debug("flushed arena events")
}

func (s *Service) inactivityLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.sweepInactive(ctx)
		}
	}
}

// sweepInactive marks every arena quiet for longer than the inactivity
// window and forgets it. Returns how many were marked.
func (s *Service) sweepInactive(ctx context.Context) int {
	s.mu.Lock()
	var stale []uuid.UUID
	for id, last := range s.lastActivity {
		if s.clock.Since(last) > s.cfg.Inactivity {
			stale = append(stale, id)
			delete(s.lastActivity, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		if err := s.writer.MarkStale(ctx, id); err != nil {
			s.log.WithError(err).WithField("arena", id).Warn("failed to mark arena stale")
			continue
		}
		s.log.WithField("arena", id).Info("arena marked stale after inactivity")
	}
	return len(stale)
}
