package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/CipherHitro/AiMind/internal/logging"
	"github.com/CipherHitro/AiMind/internal/model/chat"
	"github.com/CipherHitro/AiMind/internal/model/user"
	"github.com/CipherHitro/AiMind/internal/store"
)

// Broadcast event names, mirrored by the frontend.
const (
	EventChatLocked   = "chat-locked"
	EventChatUnlocked = "chat-unlocked"
)

// Broadcaster delivers lock-state notifications to every connected member of
// an organization.
type Broadcaster interface {
	ToOrganization(organizationID, event string, payload any)
}

// LockEvent is the payload of chat-locked / chat-unlocked broadcasts.
type LockEvent struct {
	ChatID   string `json:"chatId"`
	Locked   bool   `json:"locked"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

// ConflictError rejects an acquisition while another user actively holds the
// lock. It carries the holder's display identity for the UI.
type ConflictError struct {
	HolderID   string
	HolderName string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("chat is currently being used by %s", e.HolderName)
}

// Manager is the state machine for per-chat collaborative locks: acquisition,
// heartbeat renewal, release, and forced release on disconnect. Expiry is
// lazy; nothing here runs timers. Every operation is scoped to the chat's
// organization: chats outside the caller's active organization read as not
// found, and broadcasts always target the chat's own organization.
type Manager struct {
	store       Store
	chats       store.ChatStore
	broadcaster Broadcaster
	ttl         time.Duration
	now         func() time.Time
}

// NewManager wires the lock state machine to its persistence and broadcast
// collaborators.
func NewManager(s Store, chats store.ChatStore, b Broadcaster, ttl time.Duration) *Manager {
	return &Manager{store: s, chats: chats, broadcaster: b, ttl: ttl, now: time.Now}
}

// chatOrganization resolves the chat's organization and rejects callers whose
// active organization does not match, mirroring the org-scoped lookup of the
// HTTP layer.
func (m *Manager) chatOrganization(ctx context.Context, chatID string, u user.User) (string, error) {
	c, err := m.chats.GetChat(ctx, chatID)
	if err != nil {
		return "", err
	}
	if c.OrganizationID != u.ActiveOrganization {
		return "", store.ErrChatNotFound
	}
	return c.OrganizationID, nil
}

// TTL returns the configured lock lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// State reports the chat's lock sub-state, expiry-checked by the caller via
// LockState.Active.
func (m *Manager) State(ctx context.Context, chatID string) (chat.LockState, error) {
	return m.store.State(ctx, chatID)
}

// Acquire claims the chat for the user. Allowed from unlocked, from an
// expired lock, or as a same-holder re-acquire; rejected with ConflictError
// while another user actively holds it. A successful acquisition that changes
// the holder broadcasts chat-locked to the chat's organization.
func (m *Manager) Acquire(ctx context.Context, chatID string, u user.User) (chat.LockState, error) {
	organizationID, err := m.chatOrganization(ctx, chatID, u)
	if err != nil {
		return chat.LockState{}, err
	}
	now := m.now()

	prev, err := m.store.State(ctx, chatID)
	if err != nil {
		return chat.LockState{}, err
	}

	state, acquired, err := m.store.Acquire(ctx, chatID, organizationID, u.ID, u.DisplayName(), now, m.ttl)
	if err != nil {
		return chat.LockState{}, err
	}
	if !acquired {
		return state, &ConflictError{HolderID: state.HolderID, HolderName: state.HolderName}
	}

	// Same-holder re-acquire is a renewal, not a state change.
	if !prev.HeldBy(u.ID, now) {
		m.broadcaster.ToOrganization(organizationID, EventChatLocked, LockEvent{
			ChatID:   chatID,
			Locked:   true,
			UserID:   u.ID,
			UserName: u.DisplayName(),
		})
	}

	logging.L().Debug().
		Str("chat_id", chatID).
		Str("user_id", u.ID).
		Time("expires_at", state.ExpiresAt).
		Msg("chat lock acquired")
	return state, nil
}

// Heartbeat extends the lock while the holder keeps the chat open. It is
// best-effort: a caller that lost the lock gets a silent no-op, never an
// error, and no broadcast is sent either way. Chats outside the caller's
// organization read as not found.
func (m *Manager) Heartbeat(ctx context.Context, chatID string, u user.User) error {
	if _, err := m.chatOrganization(ctx, chatID, u); err != nil {
		return err
	}
	extended, err := m.store.Extend(ctx, chatID, u.ID, m.now(), m.ttl)
	if err != nil {
		return err
	}
	if !extended {
		logging.L().Debug().
			Str("chat_id", chatID).
			Str("user_id", u.ID).
			Msg("heartbeat ignored, lock not held by caller")
	}
	return nil
}

// Release gives the lock up. The holder always succeeds; releasing an
// already-expired or free lock is a no-op success; a non-holder of an active
// lock gets store.ErrNotLockHolder. A state-changing release broadcasts
// chat-unlocked to the chat's organization.
func (m *Manager) Release(ctx context.Context, chatID string, u user.User) error {
	organizationID, err := m.chatOrganization(ctx, chatID, u)
	if err != nil {
		return err
	}
	now := m.now()

	prev, err := m.store.State(ctx, chatID)
	if err != nil {
		return err
	}

	if err := m.store.Release(ctx, chatID, u.ID, now); err != nil {
		return err
	}

	if prev.Active(now) {
		m.broadcaster.ToOrganization(organizationID, EventChatUnlocked, LockEvent{
			ChatID: chatID,
			UserID: u.ID,
		})
	}
	return nil
}

// ReleaseAll force-releases every lock the user holds, expired or not. It
// runs when the user's realtime connection drops and is idempotent.
func (m *Manager) ReleaseAll(ctx context.Context, u user.User) error {
	released, err := m.store.ReleaseAllHeldBy(ctx, u.ID)
	if err != nil {
		return err
	}

	for _, r := range released {
		m.broadcaster.ToOrganization(r.OrganizationID, EventChatUnlocked, LockEvent{
			ChatID: r.ChatID,
			UserID: u.ID,
		})
	}

	if len(released) > 0 {
		logging.L().Info().
			Str("user_id", u.ID).
			Int("count", len(released)).
			Msg("released chat locks on disconnect")
	}
	return nil
}
