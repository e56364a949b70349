// internal/notify/notify.go
package notify

import (
	"context"

	"github.com/google/uuid"
)

// MessageRef identifies a delivered message so it can be edited or removed later.
type MessageRef struct {
	ID string `json:"id"`
}

// Notifier delivers text to a player (direct message) or into a channel.
// Delivery is best-effort: callers log failures and move on.
type Notifier interface {
	Direct(ctx context.Context, playerID uuid.UUID, text string) (MessageRef, error)
	Post(ctx context.Context, channelID string, text string) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string) error
	Delete(ctx context.Context, ref MessageRef) error
}
