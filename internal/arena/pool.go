// internal/arena/pool.go
package arena

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/sergioBarril/smashbot/internal/models"
	"github.com/sirupsen/logrus"
)

// Provisioner creates private channels and manages who can see them.
// Only the Manager calls it.
type Provisioner interface {
	Create(ctx context.Context, name string) (string, error)
	Delete(ctx context.Context, id string) error
	Grant(ctx context.Context, id string, playerID uuid.UUID) error
	Revoke(ctx context.Context, id string, playerID uuid.UUID) error
	List(ctx context.Context) ([]models.Channel, error)
}

// channelPrefix returns the slug every channel name of mode starts with.
func (m *Manager) channelPrefix(mode models.Mode) string {
	if mode == models.ModeRanked {
		return slug.Make(m.cfg.RankedPrefix)
	}
	return slug.Make(m.cfg.ArenaPrefix)
}

// channelName builds the name of the n-th channel of mode, e.g. "arena-3".
func (m *Manager) channelName(mode models.Mode, n int) string {
	prefix := m.cfg.ArenaPrefix
	if mode == models.ModeRanked {
		prefix = m.cfg.RankedPrefix
	}
	return slug.Make(fmt.Sprintf("%s %d", prefix, n))
}

// parseName recognises channel names produced by channelName.
func (m *Manager) parseName(name string) (models.Mode, int, bool) {
	for _, mode := range []models.Mode{models.ModeRanked, models.ModeFriendly} {
		rest, ok := strings.CutPrefix(name, m.channelPrefix(mode)+"-")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			continue
		}
		return mode, n, true
	}
	return "", 0, false
}

// Allocate binds a channel of mode to arenaID and grants players access. A
// free channel is reused when there is one; otherwise a new one is numbered
// one past the highest number currently in existence.
func (m *Manager) Allocate(ctx context.Context, arenaID uuid.UUID, mode models.Mode, players []uuid.UUID) (models.Channel, error) {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()

	log := m.log.WithFields(logrus.Fields{"arena": arenaID, "mode": mode})
	ch := m.lowestFreeLocked(mode)
	if ch == nil {
		n, err := m.nextNumberLocked(ctx, mode)
		if err != nil {
			return models.Channel{}, err
		}
		name := m.channelName(mode, n)
		id, err := m.prov.Create(ctx, name)
		if err != nil {
			return models.Channel{}, fmt.Errorf("create channel %s: %w", name, err)
		}
		ch = &models.Channel{ID: id, Name: name, Mode: mode, Number: n}
		m.channels[id] = ch
		log.WithField("channel", name).Info("provisioned arena channel")
	}

	granted := make([]uuid.UUID, 0, len(players))
	for _, pid := range players {
		if err := m.prov.Grant(ctx, ch.ID, pid); err != nil {
			for _, g := range granted {
				if rerr := m.prov.Revoke(ctx, ch.ID, g); rerr != nil {
					log.WithError(rerr).Warn("failed to roll back channel grant")
				}
			}
			return models.Channel{}, fmt.Errorf("grant %s on %s: %w", pid, ch.Name, err)
		}
		granted = append(granted, pid)
	}
	id := arenaID
	ch.ArenaID = &id
	m.grants[ch.ID] = granted
	return *ch, nil
}

// Release revokes every grant on the channel and returns it to the free pool,
// or deletes it when enough free channels of its mode already exist.
// A channel whose grants could not all be revoked is kept out of the pool.
func (m *Manager) Release(ctx context.Context, channelID string) error {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return fmt.Errorf("release: unknown channel %s", channelID)
	}
	var errs []error
	remaining := m.grants[channelID][:0]
	for _, pid := range m.grants[channelID] {
		if err := m.prov.Revoke(ctx, channelID, pid); err != nil {
			errs = append(errs, fmt.Errorf("revoke %s: %w", pid, err))
			remaining = append(remaining, pid)
		}
	}
	if len(errs) > 0 {
		m.grants[channelID] = remaining
		return errors.Join(errs...)
	}
	delete(m.grants, channelID)
	ch.ArenaID = nil

	if m.freeCountLocked(ch.Mode) > m.cfg.KeepFree {
		if err := m.prov.Delete(ctx, channelID); err != nil {
			m.log.WithField("channel", ch.Name).WithError(err).Warn("failed to delete surplus channel; keeping it free")
			return nil
		}
		delete(m.channels, channelID)
		m.log.WithField("channel", ch.Name).Info("deleted surplus arena channel")
	}
	return nil
}

// Channels returns a snapshot of the pool ordered by mode and number.
func (m *Manager) Channels() []models.Channel {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	out := make([]models.Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, *ch)
	}
	slices.SortFunc(out, func(a, b models.Channel) int {
		if a.Mode != b.Mode {
			return strings.Compare(string(a.Mode), string(b.Mode))
		}
		return a.Number - b.Number
	})
	return out
}

func (m *Manager) lowestFreeLocked(mode models.Mode) *models.Channel {
	var best *models.Channel
	for _, ch := range m.channels {
		if ch.Mode == mode && ch.Free() && (best == nil || ch.Number < best.Number) {
			best = ch
		}
	}
	return best
}

func (m *Manager) freeCountLocked(mode models.Mode) int {
	n := 0
	for _, ch := range m.channels {
		if ch.Mode == mode && ch.Free() {
			n++
		}
	}
	return n
}

// nextNumberLocked looks at both the pool and the provisioner, so channels
// created or deleted by hand never cause a name collision.
func (m *Manager) nextNumberLocked(ctx context.Context, mode models.Mode) (int, error) {
	highest := 0
	for _, ch := range m.channels {
		if ch.Mode == mode && ch.Number > highest {
			highest = ch.Number
		}
	}
	listed, err := m.prov.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	for _, ch := range listed {
		if md, n, ok := m.parseName(ch.Name); ok && md == mode && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// loadChannels rebuilds the pool from the provisioner. Caller holds poolMu.
func (m *Manager) loadChannelsLocked(ctx context.Context) error {
	listed, err := m.prov.List(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	m.channels = make(map[string]*models.Channel, len(listed))
	m.grants = make(map[string][]uuid.UUID)
	for _, ch := range listed {
		mode, n, ok := m.parseName(ch.Name)
		if !ok {
			continue
		}
		m.channels[ch.ID] = &models.Channel{ID: ch.ID, Name: ch.Name, Mode: mode, Number: n}
	}
	return nil
}
