package inbox

import (
	"context"

	"github.com/google/uuid"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	// ListByUser returns newest first.
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	// MarkAllRead flips every unread notification of userID and returns how
	// many changed.
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error)
}
