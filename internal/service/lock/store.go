package lock

import (
	"context"
	"time"

	"github.com/CipherHitro/AiMind/internal/model/chat"
	"github.com/CipherHitro/AiMind/internal/store"
)

// Store is the persistence the lock manager relies on. Implementations must
// make Acquire a single conditional update: two concurrent acquisitions for
// the same chat can never both succeed.
type Store interface {
	// State reports the current lock sub-state of a chat.
	State(ctx context.Context, chatID string) (chat.LockState, error)
	// Acquire takes the lock iff it is free, expired, or already held by the
	// same user. On rejection the returned state names the active holder.
	Acquire(ctx context.Context, chatID, organizationID, holderID, holderName string, now time.Time, ttl time.Duration) (chat.LockState, bool, error)
	// Extend renews the expiry iff the lock is actively held by holderID.
	Extend(ctx context.Context, chatID, holderID string, now time.Time, ttl time.Duration) (bool, error)
	// Release clears the lock when held by holderID or no longer active;
	// returns store.ErrNotLockHolder when another user actively holds it.
	Release(ctx context.Context, chatID, holderID string, now time.Time) error
	// ReleaseAllHeldBy force-clears every lock the user holds.
	ReleaseAllHeldBy(ctx context.Context, holderID string) ([]chat.ReleasedLock, error)
}

// chatStoreAdapter keeps the lock sub-state on the chat documents themselves,
// the default for single-database deployments.
type chatStoreAdapter struct {
	chats store.ChatStore
}

// NewChatStoreBacked adapts a chat store's conditional lock updates to the
// manager's Store contract.
func NewChatStoreBacked(chats store.ChatStore) Store {
	return &chatStoreAdapter{chats: chats}
}

func (a *chatStoreAdapter) State(ctx context.Context, chatID string) (chat.LockState, error) {
	c, err := a.chats.GetChat(ctx, chatID)
	if err != nil {
		return chat.LockState{}, err
	}
	return c.Lock, nil
}

func (a *chatStoreAdapter) Acquire(ctx context.Context, chatID, _, holderID, holderName string, now time.Time, ttl time.Duration) (chat.LockState, bool, error) {
	return a.chats.AcquireLock(ctx, chatID, holderID, holderName, now, ttl)
}

func (a *chatStoreAdapter) Extend(ctx context.Context, chatID, holderID string, now time.Time, ttl time.Duration) (bool, error) {
	return a.chats.ExtendLock(ctx, chatID, holderID, now, ttl)
}

func (a *chatStoreAdapter) Release(ctx context.Context, chatID, holderID string, now time.Time) error {
	return a.chats.ReleaseLock(ctx, chatID, holderID, now)
}

func (a *chatStoreAdapter) ReleaseAllHeldBy(ctx context.Context, holderID string) ([]chat.ReleasedLock, error) {
	return a.chats.ReleaseAllHeldBy(ctx, holderID)
}
