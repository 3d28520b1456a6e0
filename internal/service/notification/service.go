package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CipherHitro/AiMind/internal/model/notification"
	"github.com/CipherHitro/AiMind/internal/model/user"
	"github.com/CipherHitro/AiMind/internal/store"
)

// EventNotification is the realtime event carrying a new notification.
const EventNotification = "notification"

// ErrMissingFields rejects creation without title and message.
var ErrMissingFields = errors.New("title and message are required")

// Broadcaster delivers notifications to their scope over the realtime layer.
type Broadcaster interface {
	ToUser(userID, event string, payload any)
	ToOrganization(organizationID, event string, payload any)
	ToAll(event string, payload any)
}

// Service creates, lists and maintains notifications. Delivery routing is
// decided by the explicit scope, not by the reader's query.
type Service struct {
	store       store.NotificationStore
	broadcaster Broadcaster
	now         func() time.Time
}

// NewService wires notification persistence to the broadcast collaborator.
func NewService(s store.NotificationStore, b Broadcaster) *Service {
	return &Service{store: s, broadcaster: b, now: time.Now}
}

// CreateInput is the rich notification shape accepted from callers.
type CreateInput struct {
	UserID         string         `json:"userId"`
	OrganizationID string         `json:"organizationId"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Category       string         `json:"category"`
	Priority       string         `json:"priority"`
	ActionURL      string         `json:"actionUrl"`
	Metadata       map[string]any `json:"metadata"`
}

// Create persists a notification and pushes it to its delivery scope.
func (s *Service) Create(ctx context.Context, in CreateInput) (notification.Notification, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Message) == "" {
		return notification.Notification{}, ErrMissingFields
	}

	n := notification.Notification{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		OrganizationID: in.OrganizationID,
		Type:           in.Type,
		Title:          in.Title,
		Message:        in.Message,
		Category:       in.Category,
		Priority:       in.Priority,
		ActionURL:      in.ActionURL,
		Metadata:       in.Metadata,
		CreatedAt:      s.now(),
	}
	if n.Type == "" {
		n.Type = notification.TypeUser
	}
	if n.Category == "" {
		n.Category = notification.CategoryInfo
	}
	if n.Priority == "" {
		n.Priority = notification.PriorityNormal
	}

	if err := s.store.CreateNotification(ctx, n); err != nil {
		return notification.Notification{}, fmt.Errorf("create notification: %w", err)
	}

	switch scope := n.Scope(); scope.Kind {
	case notification.ScopeGlobal:
		s.broadcaster.ToAll(EventNotification, n)
	case notification.ScopeOrganization:
		s.broadcaster.ToOrganization(scope.OrganizationID, EventNotification, n)
	default:
		s.broadcaster.ToUser(scope.UserID, EventNotification, n)
	}
	return n, nil
}

// SendWelcome greets a newly registered user with a personal notification.
func (s *Service) SendWelcome(ctx context.Context, userID string) (notification.Notification, error) {
	return s.Create(ctx, CreateInput{
		UserID:   userID,
		Type:     notification.TypeUser,
		Title:    "Welcome to AiMind!",
		Message:  "Start chatting with AI and explore amazing features.",
		Category: notification.CategoryInfo,
	})
}

// List returns the notifications visible to the user, newest first.
func (s *Service) List(ctx context.Context, u user.User, limit int) ([]notification.Notification, error) {
	return s.store.ListNotificationsVisibleTo(ctx, u, limit)
}

// MarkRead flags one visible notification as read.
func (s *Service) MarkRead(ctx context.Context, id string, u user.User) (notification.Notification, error) {
	return s.store.MarkNotificationRead(ctx, id, u)
}

// MarkAllRead flags every visible unread notification and reports how many
// were modified.
func (s *Service) MarkAllRead(ctx context.Context, u user.User) (int, error) {
	return s.store.MarkAllNotificationsRead(ctx, u)
}

// Delete removes one of the user's own notifications.
func (s *Service) Delete(ctx context.Context, id string, u user.User) error {
	return s.store.DeleteNotification(ctx, id, u.ID)
}

// UnreadCount counts visible unread notifications.
func (s *Service) UnreadCount(ctx context.Context, u user.User) (int, error) {
	return s.store.UnreadNotificationCount(ctx, u)
}
