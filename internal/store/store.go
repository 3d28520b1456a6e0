package store

import (
	"context"
	"errors"
	"time"

	"github.com/CipherHitro/AiMind/internal/model/chat"
	"github.com/CipherHitro/AiMind/internal/model/notification"
	"github.com/CipherHitro/AiMind/internal/model/user"
)

var (
	ErrChatNotFound         = errors.New("chat not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrNotLockHolder        = errors.New("lock held by another user")
)

// ChatStore persists chat sessions including their lock sub-state. The lock
// methods are conditional updates: implementations must guarantee that two
// concurrent AcquireLock calls for the same chat cannot both succeed.
type ChatStore interface {
	CreateChat(ctx context.Context, c chat.Chat) error
	GetChat(ctx context.Context, id string) (chat.Chat, error)
	ListChatsByOrganization(ctx context.Context, organizationID string) ([]chat.Chat, error)
	UpdateChatTitle(ctx context.Context, id, title string, now time.Time) error
	// SaveConversation writes the title, the full turn sequence and the
	// updated-at timestamp in one write. Turns are append-only except for the
	// one-time system-turn prune on the first user message.
	SaveConversation(ctx context.Context, id, title string, turns []chat.Turn, now time.Time) error
	DeleteChat(ctx context.Context, id string) error

	// AcquireLock succeeds when the chat is unlocked, its lock has expired, or
	// the same holder re-acquires. On rejection the returned state identifies
	// the current holder.
	AcquireLock(ctx context.Context, chatID, holderID, holderName string, now time.Time, ttl time.Duration) (chat.LockState, bool, error)
	// ExtendLock pushes the expiry forward iff the lock is actively held by
	// holderID. It reports whether an extension happened.
	ExtendLock(ctx context.Context, chatID, holderID string, now time.Time, ttl time.Duration) (bool, error)
	// ReleaseLock clears the lock when held by holderID, already unlocked, or
	// expired. Returns ErrNotLockHolder when another user actively holds it.
	ReleaseLock(ctx context.Context, chatID, holderID string, now time.Time) error
	// ReleaseAllHeldBy force-clears every lock held by the user regardless of
	// expiry and reports the affected chats.
	ReleaseAllHeldBy(ctx context.Context, holderID string) ([]chat.ReleasedLock, error)
}

// UserStore exposes the slice of the user collaborator the chat core needs:
// identity, organization membership and the credit balance.
type UserStore interface {
	GetUser(ctx context.Context, id string) (user.User, error)
	// DebitCredits decrements the balance by cost and returns the new balance.
	// The update is conditional: it fails with ErrInsufficientCredits rather
	// than letting the balance go negative.
	DebitCredits(ctx context.Context, userID string, cost int) (int, error)
}

// NotificationStore persists notifications with explicit scope evaluation.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n notification.Notification) error
	ListNotificationsVisibleTo(ctx context.Context, u user.User, limit int) ([]notification.Notification, error)
	MarkNotificationRead(ctx context.Context, id string, u user.User) (notification.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, u user.User) (int, error)
	DeleteNotification(ctx context.Context, id, userID string) error
	UnreadNotificationCount(ctx context.Context, u user.User) (int, error)
}

// Store is the full persistence surface of the service.
type Store interface {
	ChatStore
	UserStore
	NotificationStore
	Close() error
}
