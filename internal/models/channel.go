// internal/models/channel.go
package models

import "github.com/google/uuid"

// Channel is a private play space handed to a PLAYING arena.
// Number is the discriminator parsed from the name (arena-3 => 3).
type Channel struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Mode    Mode       `json:"mode"`
	Number  int        `json:"number"`
	ArenaID *uuid.UUID `json:"arena_id,omitempty"`
}

// Free reports whether the channel is not bound to any arena.
func (c Channel) Free() bool { return c.ArenaID == nil }
