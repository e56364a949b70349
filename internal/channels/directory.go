// internal/channels/directory.go
package channels

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sergioBarril/smashbot/internal/models"
)

type channel struct {
	id      string
	name    string
	members map[uuid.UUID]struct{}
}

// Directory is the in-process private channel provisioner. It also answers
// membership questions for the notification hub.
type Directory struct {
	mu       sync.Mutex
	channels map[string]*channel
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{channels: make(map[string]*channel)}
}

// Create provisions a private channel named name. Names must be unique.
func (d *Directory) Create(_ context.Context, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.channels {
		if c.name == name {
			return "", fmt.Errorf("channel %q already exists", name)
		}
	}
	id := uuid.NewString()
	d.channels[id] = &channel{id: id, name: name, members: make(map[uuid.UUID]struct{})}
	return id, nil
}

// Delete removes the channel.
func (d *Directory) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[id]; !ok {
		return fmt.Errorf("channel %s not found", id)
	}
	delete(d.channels, id)
	return nil
}

// Grant gives playerID access to the channel.
func (d *Directory) Grant(_ context.Context, id string, playerID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.channels[id]
	if !ok {
		return fmt.Errorf("channel %s not found", id)
	}
	c.members[playerID] = struct{}{}
	return nil
}

// Revoke removes playerID's access. Revoking a non-member is not an error.
func (d *Directory) Revoke(_ context.Context, id string, playerID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.channels[id]
	if !ok {
		return fmt.Errorf("channel %s not found", id)
	}
	delete(c.members, playerID)
	return nil
}

// List returns every provisioned channel. Only ID and Name are set.
func (d *Directory) List(_ context.Context) ([]models.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Channel, 0, len(d.channels))
	for _, c := range d.channels {
		out = append(out, models.Channel{ID: c.id, Name: c.name})
	}
	slices.SortFunc(out, func(a, b models.Channel) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

// Members returns the players that can read the channel.
func (d *Directory) Members(id string) []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.channels[id]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(c.members))
	for p := range c.members {
		out = append(out, p)
	}
	return out
}
