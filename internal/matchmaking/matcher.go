// internal/matchmaking/matcher.go
package matchmaking

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sergioBarril/smashbot/internal/errcode"
	"github.com/sergioBarril/smashbot/internal/events"
	"github.com/sergioBarril/smashbot/internal/ladder"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sergioBarril/smashbot/internal/store"
	"github.com/sirupsen/logrus"
)

// Roster is the identity provider. PlayerTier returns nil for unranked players.
type Roster interface {
	PlayerTier(ctx context.Context, playerID uuid.UUID) (*models.Tier, error)
}

// SearchRequest is an incoming search. FromTier is the tier of the channel the
// search was made in; nil means "every tier up to mine". Ignored for RANKED.
type SearchRequest struct {
	PlayerID uuid.UUID
	Mode     models.Mode
	FromTier *uuid.UUID
}

// MatchResult describes what a submission did to the pool.
type MatchResult struct {
	// Arena is the session when Matched, otherwise the player's SEARCHING row.
	Arena   *models.Arena
	Matched bool
	// Updated is set when an existing search had its band changed.
	Updated bool
	Added   []models.Tier
	Removed []models.Tier
}

// Requeue puts a confirmation survivor back in the pool with its own band.
type Requeue struct {
	PlayerID uuid.UUID
	Mode     models.Mode
	MinTier  *models.Tier
	MaxTier  *models.Tier
	Rejected []uuid.UUID
}

// Matcher owns the search pool. Submissions, cancellations and re-queues all
// take poolMu, so a re-queue is always visible to the next scan.
type Matcher struct {
	store        store.Store
	ladder       *ladder.Ladder
	roster       Roster
	clock        clockwork.Clock
	log          logrus.FieldLogger
	events       events.Sink
	rankedSpread int

	poolMu  sync.Mutex
	onMatch func(ctx context.Context, session *models.Arena)
}

// Option configures a Matcher.
type Option func(*Matcher)

func WithClock(c clockwork.Clock) Option { return func(m *Matcher) { m.clock = c } }
func WithLogger(l logrus.FieldLogger) Option { return func(m *Matcher) { m.log = l } }
func WithEvents(s events.Sink) Option { return func(m *Matcher) { m.events = s } }
func WithRankedSpread(weights int) Option { return func(m *Matcher) { m.rankedSpread = weights } }

// NewMatcher builds a matcher over st.
func NewMatcher(st store.Store, l *ladder.Ladder, roster Roster, opts ...Option) *Matcher {
	m := &Matcher{
		store:  st,
		ladder: l,
		roster: roster,
		clock:  clockwork.NewRealClock(),
		log:    logrus.StandardLogger(),
		events: events.Nop{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOnMatch installs the hand-off called after a pairing is committed.
// It must be set before the first submission.
func (m *Matcher) SetOnMatch(fn func(context.Context, *models.Arena)) {
	m.onMatch = fn
}

// Submit handles a new search or an update of an existing one.
func (m *Matcher) Submit(ctx context.Context, req SearchRequest) (*MatchResult, error) {
	if !req.Mode.Valid() {
		return nil, errcode.New(errcode.Invalid, "unknown mode %q", req.Mode)
	}
	tier, band, err := m.resolveBand(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := m.submitLocked(ctx, req, tier, band)
	if err != nil {
		return nil, err
	}
	m.afterCommit(ctx, res)
	return res, nil
}

func (m *Matcher) resolveBand(ctx context.Context, req SearchRequest) (*models.Tier, ladder.Band, error) {
	raw, err := m.roster.PlayerTier(ctx, req.PlayerID)
	if err != nil {
		return nil, ladder.Band{}, fmt.Errorf("resolve tier of %s: %w", req.PlayerID, err)
	}
	if raw == nil {
		return nil, ladder.Band{}, errcode.New(errcode.NoTierAssigned, "player %s has no tier", req.PlayerID)
	}
	tier, ok := m.ladder.Get(raw.ID)
	if !ok {
		return nil, ladder.Band{}, errcode.New(errcode.NoTierAssigned, "tier %s is not on the ladder", raw.Name)
	}
	if req.Mode == models.ModeRanked {
		return tier, ladder.Band{Min: tier, Max: tier}, nil
	}

	var from *models.Tier
	if req.FromTier != nil {
		from, ok = m.ladder.Get(*req.FromTier)
		if !ok {
			return nil, ladder.Band{}, errcode.New(errcode.Invalid, "unknown tier %s", *req.FromTier)
		}
	}
	band, err := m.ladder.BandFor(tier, from)
	return tier, band, err
}

func (m *Matcher) submitLocked(ctx context.Context, req SearchRequest, tier *models.Tier, band ladder.Band) (*MatchResult, error) {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()

	res := &MatchResult{}
	err := m.store.InTx(ctx, func(q store.Queries) error {
		mine, err := q.ListArenas(ctx, store.Filter{PlayerID: req.PlayerID})
		if err != nil {
			return err
		}
		var existing *models.Arena
		for _, a := range mine {
			switch {
			case a.Status == models.StatusConfirmation || a.Status == models.StatusPlaying:
				return errcode.New(errcode.StatusConflict, "player %s is already in arena %s (%s)", req.PlayerID, a.ID, a.Status)
			case a.Mode == req.Mode && a.Status.InPool():
				existing = a
			}
		}

		self := existing
		if existing != nil {
			if req.Mode == models.ModeRanked || ladder.BandOf(existing).Equal(band) {
				return errcode.New(errcode.AlreadyInPool, "player %s is already searching %s", req.PlayerID, req.Mode)
			}
			res.Updated = true
			res.Added, res.Removed = m.ladder.Diff(ladder.BandOf(existing), band)
			existing.MinTier, existing.MaxTier = band.Min, band.Max
			existing.Players[0].MinTier, existing.Players[0].MaxTier = band.Min, band.Max
			existing.UpdatedAt = m.clock.Now()
		} else {
			self = models.NewSearch(req.PlayerID, req.Mode, band.Min, band.Max, nil, m.clock.Now())
			res.Added = m.ladder.Between(band.Min, band.Max)
		}

		candidate, err := m.scan(ctx, q, self, tier)
		if err != nil {
			return err
		}
		if candidate == nil {
			res.Arena = self
			if existing != nil {
				return q.UpdateArena(ctx, self)
			}
			return q.CreateArena(ctx, self)
		}

		session, err := m.pair(ctx, q, candidate, self, existing != nil)
		if err != nil {
			return err
		}
		res.Arena = session
		res.Matched = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// scan finds the oldest SEARCHING row compatible with self.
func (m *Matcher) scan(ctx context.Context, q store.Queries, self *models.Arena, tier *models.Tier) (*models.Arena, error) {
	rows, err := q.ListArenas(ctx, store.Filter{Mode: self.Mode, Statuses: []models.ArenaStatus{models.StatusSearching}})
	if err != nil {
		return nil, err
	}
	band := ladder.BandOf(self)
	for _, r := range rows {
		if r.ID == self.ID || r.CreatedBy == self.CreatedBy {
			continue
		}
		if self.HasRejected(r.CreatedBy) || r.HasRejected(self.CreatedBy) {
			continue
		}
		if self.Mode == models.ModeRanked {
			if r.MinTier == nil || abs(r.MinTier.Weight-tier.Weight) > m.rankedSpread {
				continue
			}
		} else if !ladder.BandOf(r).Overlaps(band) {
			continue
		}
		return r, nil
	}
	return nil, nil
}

// pair turns candidate into a CONFIRMATION session with self as player two.
// Every other open search of both players is paused.
func (m *Matcher) pair(ctx context.Context, q store.Queries, candidate, self *models.Arena, selfStored bool) (*models.Arena, error) {
	session := candidate.Clone()
	session.Status = models.StatusConfirmation
	session.Players[0].Status = models.PlayerConfirmation
	session.Players = append(session.Players, models.ArenaPlayer{
		PlayerID: self.CreatedBy,
		Status:   models.PlayerConfirmation,
		MinTier:  self.MinTier,
		MaxTier:  self.MaxTier,
		Rejected: slices.Clone(self.Rejected),
	})
	session.UpdatedAt = m.clock.Now()
	if err := q.UpdateArena(ctx, session); err != nil {
		return nil, fmt.Errorf("pair %s: %w", session.ID, err)
	}
	if selfStored {
		if err := q.DeleteArena(ctx, self.ID); err != nil {
			return nil, fmt.Errorf("pair %s: drop own search: %w", session.ID, err)
		}
	}
	for _, pid := range session.PlayerIDs() {
		if err := m.setPoolStatus(ctx, q, pid, session.ID, models.StatusSearching, models.StatusWaiting); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// setPoolStatus moves playerID's open rows (other than skip) from one pool status to another.
func (m *Matcher) setPoolStatus(ctx context.Context, q store.Queries, playerID, skip uuid.UUID, from, to models.ArenaStatus) error {
	rows, err := q.ListArenas(ctx, store.Filter{PlayerID: playerID, Statuses: []models.ArenaStatus{from}})
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.ID == skip {
			continue
		}
		r.Status = to
		r.UpdatedAt = m.clock.Now()
		if err := q.UpdateArena(ctx, r); err != nil {
			return fmt.Errorf("set %s to %s: %w", r.ID, to, err)
		}
	}
	return nil
}

func (m *Matcher) afterCommit(ctx context.Context, res *MatchResult) {
	a := res.Arena
	fields := logrus.Fields{"arena": a.ID, "mode": a.Mode, "player": a.Players[len(a.Players)-1].PlayerID}
	switch {
	case res.Matched:
		m.log.WithFields(fields).Info("match found")
		events.Emit(ctx, m.events, m.log, events.For(events.MatchFound, a, nil))
		if m.onMatch != nil {
			m.onMatch(ctx, a.Clone())
		}
	case res.Updated:
		m.log.WithFields(fields).Infof("search updated: +%d -%d tiers", len(res.Added), len(res.Removed))
		events.Emit(ctx, m.events, m.log, events.For(events.SearchUpdated, a, map[string]any{
			"added":   tierNames(res.Added),
			"removed": tierNames(res.Removed),
		}))
	default:
		m.log.WithFields(fields).Debug("searching")
	}
}

// Cancel removes the player's open search for mode.
func (m *Matcher) Cancel(ctx context.Context, playerID uuid.UUID, mode models.Mode) (*models.Arena, error) {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()

	var cancelled *models.Arena
	err := m.store.InTx(ctx, func(q store.Queries) error {
		rows, err := q.ListArenas(ctx, store.Filter{
			PlayerID: playerID,
			Mode:     mode,
			Statuses: []models.ArenaStatus{models.StatusSearching, models.StatusWaiting},
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return errcode.New(errcode.NotInPool, "player %s is not searching %s", playerID, mode)
		}
		cancelled = rows[0]
		return q.DeleteArena(ctx, cancelled.ID)
	})
	if err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{"arena": cancelled.ID, "player": playerID, "mode": mode}).Info("search cancelled")
	return cancelled, nil
}

// Requeue creates a fresh SEARCHING row for a survivor of a failed
// confirmation, resumes the survivor's paused searches and scans for a match
// as if the survivor had just submitted. The row is committed before the scan,
// so a failing scan still leaves the survivor searching.
func (m *Matcher) Requeue(ctx context.Context, r Requeue) (*MatchResult, error) {
	if r.MinTier == nil || r.MaxTier == nil {
		return nil, errcode.New(errcode.Invalid, "requeue %s without a band", r.PlayerID)
	}

	m.poolMu.Lock()
	row, err := m.requeueRow(ctx, r)
	if err != nil {
		m.poolMu.Unlock()
		return nil, err
	}
	res, err := m.rescan(ctx, r.PlayerID)
	m.poolMu.Unlock()

	log := m.log.WithFields(logrus.Fields{"arena": row.ID, "player": r.PlayerID, "mode": r.Mode})
	if err != nil {
		log.WithError(err).Error("re-queued player but scanning the pool failed; leaving the search open")
		return &MatchResult{Arena: row}, nil
	}
	log.Info("player re-queued")
	if res.Arena == nil {
		res.Arena = row
	}
	m.afterCommit(ctx, res)
	return res, nil
}

// requeueRow resumes paused rows and makes sure the survivor has a SEARCHING
// row for r.Mode. Caller holds poolMu.
func (m *Matcher) requeueRow(ctx context.Context, r Requeue) (*models.Arena, error) {
	var row *models.Arena
	err := m.store.InTx(ctx, func(q store.Queries) error {
		if err := m.setPoolStatus(ctx, q, r.PlayerID, uuid.Nil, models.StatusWaiting, models.StatusSearching); err != nil {
			return err
		}
		rows, err := q.ListArenas(ctx, store.Filter{PlayerID: r.PlayerID, Mode: r.Mode, Statuses: []models.ArenaStatus{models.StatusSearching}})
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			row = rows[0]
			return nil
		}
		row = models.NewSearch(r.PlayerID, r.Mode, r.MinTier, r.MaxTier, r.Rejected, m.clock.Now())
		return q.CreateArena(ctx, row)
	})
	return row, err
}

// rescan tries each open search of playerID, oldest first, against the pool.
// Caller holds poolMu.
func (m *Matcher) rescan(ctx context.Context, playerID uuid.UUID) (*MatchResult, error) {
	res := &MatchResult{}
	err := m.store.InTx(ctx, func(q store.Queries) error {
		mine, err := q.ListArenas(ctx, store.Filter{PlayerID: playerID, Statuses: []models.ArenaStatus{models.StatusSearching}})
		if err != nil {
			return err
		}
		for _, own := range mine {
			tier := own.MaxTier
			if own.Mode == models.ModeRanked {
				tier = own.MinTier
			}
			candidate, err := m.scan(ctx, q, own, tier)
			if err != nil {
				return err
			}
			if candidate == nil {
				continue
			}
			session, err := m.pair(ctx, q, candidate, own, true)
			if err != nil {
				return err
			}
			res.Arena = session
			res.Matched = true
			return nil
		}
		return nil
	})
	return res, err
}

// Discard deletes the paused WAITING rows of playerID.
func (m *Matcher) Discard(ctx context.Context, playerID uuid.UUID) error {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	return m.store.InTx(ctx, func(q store.Queries) error {
		rows, err := q.ListArenas(ctx, store.Filter{PlayerID: playerID, Statuses: []models.ArenaStatus{models.StatusWaiting}})
		if err != nil {
			return err
		}
		for _, r := range rows {
			if err := q.DeleteArena(ctx, r.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Searching lists the open SEARCHING rows of mode, oldest first.
func (m *Matcher) Searching(ctx context.Context, mode models.Mode) ([]*models.Arena, error) {
	return m.store.ListArenas(ctx, store.Filter{Mode: mode, Statuses: []models.ArenaStatus{models.StatusSearching}})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func tierNames(tiers []models.Tier) []string {
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = t.Name
	}
	return names
}
