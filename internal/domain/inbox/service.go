package inbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service is the notification dispatcher. Notifications are never deleted.
type Service struct {
	notifications NotificationRepository
	logger        zerolog.Logger
}

func NewService(notifications NotificationRepository, logger zerolog.Logger) *Service {
	return &Service{notifications: notifications, logger: logger}
}

// Notify appends an unread notification for userID. Called with a
// transactional context it commits or rolls back with the caller.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, title, message string) (*Notification, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidNotification)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidNotification)
	}
	n := &Notification{UserID: userID, Title: title, Message: message}
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	s.logger.Debug().
		Str("notification_id", n.ID.String()).
		Str("user_id", userID.String()).
		Str("title", title).
		Msg("notification queued")
	return n, nil
}

// MarkAllRead acknowledges every unread notification of userID and returns
// the number flipped. With nothing unread it returns 0 without writing.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	unread, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	if unread == 0 {
		return 0, nil
	}
	n, err := s.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return n, nil
}

func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.notifications.ListByUser(ctx, userID, unreadOnly, limit, offset)
}

func (s *Service) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.notifications.CountUnread(ctx, userID)
}
