package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CipherHitro/AiMind/internal/model/chat"
	"github.com/CipherHitro/AiMind/internal/model/notification"
	"github.com/CipherHitro/AiMind/internal/model/user"
)

// MemoryStore is the in-process implementation, suitable for single-instance
// deployments and tests. A single mutex serializes lock transitions, which is
// what gives the conditional lock updates their atomicity here.
type MemoryStore struct {
	mu            sync.RWMutex
	chats         map[string]chat.Chat
	users         map[string]user.User
	notifications map[string]notification.Notification
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:         make(map[string]chat.Chat),
		users:         make(map[string]user.User),
		notifications: make(map[string]notification.Notification),
	}
}

func copyChat(c chat.Chat) chat.Chat {
	turns := make([]chat.Turn, len(c.Turns))
	copy(turns, c.Turns)
	c.Turns = turns
	return c
}

func (s *MemoryStore) CreateChat(_ context.Context, c chat.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ID] = copyChat(c)
	return nil
}

func (s *MemoryStore) GetChat(_ context.Context, id string) (chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return chat.Chat{}, ErrChatNotFound
	}
	return copyChat(c), nil
}

func (s *MemoryStore) ListChatsByOrganization(_ context.Context, organizationID string) ([]chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats := make([]chat.Chat, 0)
	for _, c := range s.chats {
		if c.OrganizationID == organizationID {
			chats = append(chats, copyChat(c))
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (s *MemoryStore) UpdateChatTitle(_ context.Context, id, title string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return ErrChatNotFound
	}
	c.Title = title
	c.UpdatedAt = now
	s.chats[id] = c
	return nil
}

func (s *MemoryStore) SaveConversation(_ context.Context, id, title string, turns []chat.Turn, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return ErrChatNotFound
	}
	c.Title = title
	c.Turns = make([]chat.Turn, len(turns))
	copy(c.Turns, turns)
	c.UpdatedAt = now
	s.chats[id] = c
	return nil
}

func (s *MemoryStore) DeleteChat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return ErrChatNotFound
	}
	delete(s.chats, id)
	return nil
}

func (s *MemoryStore) AcquireLock(_ context.Context, chatID, holderID, holderName string, now time.Time, ttl time.Duration) (chat.LockState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return chat.LockState{}, false, ErrChatNotFound
	}

	if c.Lock.Active(now) && c.Lock.HolderID != holderID {
		return c.Lock, false, nil
	}

	c.Lock = chat.LockState{
		HolderID:   holderID,
		HolderName: holderName,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	s.chats[chatID] = c
	return c.Lock, true, nil
}

func (s *MemoryStore) ExtendLock(_ context.Context, chatID, holderID string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return false, ErrChatNotFound
	}
	if !c.Lock.HeldBy(holderID, now) {
		return false, nil
	}
	c.Lock.AcquiredAt = now
	c.Lock.ExpiresAt = now.Add(ttl)
	s.chats[chatID] = c
	return true, nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, chatID, holderID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}
	if c.Lock.Active(now) && c.Lock.HolderID != holderID {
		return ErrNotLockHolder
	}
	c.Lock = chat.LockState{}
	s.chats[chatID] = c
	return nil
}

func (s *MemoryStore) ReleaseAllHeldBy(_ context.Context, holderID string) ([]chat.ReleasedLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []chat.ReleasedLock
	for id, c := range s.chats {
		if c.Lock.HolderID != holderID {
			continue
		}
		c.Lock = chat.LockState{}
		s.chats[id] = c
		released = append(released, chat.ReleasedLock{ChatID: id, OrganizationID: c.OrganizationID})
	}
	return released, nil
}

// PutUser inserts or replaces a user record. User provisioning belongs to the
// external identity service, this exists for seeding and tests.
func (s *MemoryStore) PutUser(u user.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return user.User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) DebitCredits(_ context.Context, userID string, cost int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if u.Credits < cost {
		return u.Credits, ErrInsufficientCredits
	}
	u.Credits -= cost
	s.users[userID] = u
	return u.Credits, nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = n
	return nil
}

func (s *MemoryStore) ListNotificationsVisibleTo(_ context.Context, u user.User, limit int) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visible := make([]notification.Notification, 0)
	for _, n := range s.notifications {
		if n.VisibleTo(u) {
			visible = append(visible, n)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		return visible[i].CreatedAt.After(visible[j].CreatedAt)
	})
	if limit > 0 && len(visible) > limit {
		visible = visible[:limit]
	}
	return visible, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id string, u user.User) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || !n.VisibleTo(u) {
		return notification.Notification{}, ErrNotificationNotFound
	}
	n.IsRead = true
	s.notifications[id] = n
	return n, nil
}

func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, u user.User) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	modified := 0
	for id, n := range s.notifications {
		if !n.IsRead && n.VisibleTo(u) {
			n.IsRead = true
			s.notifications[id] = n
			modified++
		}
	}
	return modified, nil
}

func (s *MemoryStore) DeleteNotification(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotificationNotFound
	}
	delete(s.notifications, id)
	return nil
}

func (s *MemoryStore) UnreadNotificationCount(_ context.Context, u user.User) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.notifications {
		if !n.IsRead && n.VisibleTo(u) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
