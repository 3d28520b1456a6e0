package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CipherHitro/AiMind/internal/model/chat"
	"github.com/CipherHitro/AiMind/internal/model/user"
	"github.com/CipherHitro/AiMind/internal/service/lock"
	"github.com/CipherHitro/AiMind/internal/store"
)

const (
	testOrg = "org-1"
	lockTTL = 5 * time.Minute
)

type broadcastRecord struct {
	OrganizationID string
	Event          string
	Payload        any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastRecord
}

func (b *recordingBroadcaster) ToOrganization(organizationID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastRecord{OrganizationID: organizationID, Event: event, Payload: payload})
}

func (b *recordingBroadcaster) records() []broadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broadcastRecord, len(b.events))
	copy(out, b.events)
	return out
}

func alice() user.User {
	return user.User{ID: "alice", Username: "alice", ActiveOrganization: testOrg}
}

func bob() user.User {
	return user.User{ID: "bob", Username: "bob", ActiveOrganization: testOrg}
}

func newManager(t *testing.T, chatIDs ...string) (*lock.Manager, *store.MemoryStore, *recordingBroadcaster) {
	t.Helper()
	mem := store.NewMemoryStore()
	for _, id := range chatIDs {
		if err := mem.CreateChat(context.Background(), chat.New(id, "", testOrg, "alice", time.Now())); err != nil {
			t.Fatalf("seed chat %s: %v", id, err)
		}
	}
	b := &recordingBroadcaster{}
	return lock.NewManager(lock.NewChatStoreBacked(mem), mem, b, lockTTL), mem, b
}

func TestAcquireGrantsLock(t *testing.T) {
	m, _, b := newManager(t, "c1")
	ctx := context.Background()

	state, err := m.Acquire(ctx, "c1", alice())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if state.HolderID != "alice" || state.HolderName != "alice" {
		t.Fatalf("unexpected holder: %+v", state)
	}
	if !state.Active(time.Now()) {
		t.Fatal("lock should be active")
	}

	events := b.records()
	if len(events) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(events))
	}
	if events[0].Event != lock.EventChatLocked || events[0].OrganizationID != testOrg {
		t.Fatalf("unexpected broadcast: %+v", events[0])
	}
	payload, ok := events[0].Payload.(lock.LockEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].Payload)
	}
	if payload.ChatID != "c1" || !payload.Locked || payload.UserID != "alice" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAcquireConflict(t *testing.T) {
	m, _, b := newManager(t, "c1")
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "c1", alice()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err := m.Acquire(ctx, "c1", bob())
	var conflict *lock.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.HolderID != "alice" || conflict.HolderName != "alice" {
		t.Fatalf("conflict should name the holder: %+v", conflict)
	}

	if got := len(b.records()); got != 1 {
		t.Fatalf("rejected acquire must not broadcast, got %d events", got)
	}
}

func TestAcquireSameHolderRenews(t *testing.T) {
	m, _, b := newManager(t, "c1")
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	m.SetNow(func() time.Time { return now })

	first, err := m.Acquire(ctx, "c1", alice())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = t0.Add(2 * time.Minute)
	second, err := m.Acquire(ctx, "c1", alice())
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Fatalf("re-acquire should extend expiry: %v -> %v", first.ExpiresAt, second.ExpiresAt)
	}

	if got := len(b.records()); got != 1 {
		t.Fatalf("same-holder re-acquire must not broadcast again, got %d events", got)
	}
}

func TestAcquireAfterExpiry(t *testing.T) {
	m, _, b := newManager(t, "c1")
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	m.SetNow(func() time.Time { return now })

	if _, err := m.Acquire(ctx, "c1", alice()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// One tick short of expiry the lock still blocks other users.
	now = t0.Add(lockTTL - time.Second)
	if _, err := m.Acquire(ctx, "c1", bob()); err == nil {
		t.Fatal("expected conflict before expiry")
	}

	// At the boundary the lock no longer counts as active.
	now = t0.Add(lockTTL)
	state, err := m.Acquire(ctx, "c1", bob())
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if state.HolderID != "bob" {
		t.Fatalf("expected bob to hold the lock, got %+v", state)
	}

	events := b.records()
	if len(events) != 2 {
		t.Fatalf("expected 2 lock broadcasts, got %d", len(events))
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	m, _, _ := newManager(t, "c1")
	ctx := context.Background()

	const contenders = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	conflicts := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			u := user.User{ID: string(rune('a' + n)), Username: "u", ActiveOrganization: testOrg}
			_, err := m.Acquire(ctx, "c1", u)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.As(err, new(*lock.ConflictError)):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 || conflicts != contenders-1 {
		t.Fatalf("expected exactly one winner, got %d winners / %d conflicts", winners, conflicts)
	}
}

func TestHeartbeatExtendsForHolder(t *testing.T) {
	m, _, b := newManager(t, "c1")
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	m.SetNow(func() time.Time { return now })

	if _, err := m.Acquire(ctx, "c1", alice()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = t0.Add(3 * time.Minute)
	if err := m.Heartbeat(ctx, "c1", alice()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	state, err := m.State(ctx, "c1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if want := now.Add(lockTTL); !state.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, state.ExpiresAt)
	}
	if got := len(b.records()); got != 1 {
		t.Fatalf("heartbeat must not broadcast, got %d events", got)
	}
}

func TestHeartbeatByNonHolderIsNoop(t *testing.T) {
	m, _, b := newManager(t, "c1")
	ctx := context.Background()

	first, err := m.Acquire(ctx, "c1", alice())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := m.Heartbeat(ctx, "c1", bob()); err != nil {
		t.Fatalf("non-holder heartbeat must be a silent no-op, got %v", err)
	}

	state, err := m.State(ctx, "c1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.HolderID != "alice" || !state.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("lock changed by non-holder heartbeat: %+v", state)
	}
	if got := len(b.records()); got != 1 {
		t.Fatalf("heartbeat must not broadcast, got %d events", got)
	}
}

func TestReleaseByHolder(t *testing.T) {
	m, _, b := newManager(t, "c1")
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "c1", alice()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(ctx, "c1", alice()); err != nil {
		t.Fatalf("release: %v", err)
	}

	state, err := m.State(ctx, "c1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Active(time.Now()) {
		t.Fatalf("lock should be free after release: %+v", state)
	}

	events := b.records()
	if len(events) != 2 || events[1].Event != lock.EventChatUnlocked {
		t.Fatalf("expected chat-unlocked broadcast, got %+v", events)
	}
}

func TestReleaseByNonHolder(t *testing.T) {
	m, _, b := newManager(t, "c1")
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "c1", alice()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(ctx, "c1", bob()); !errors.Is(err, store.ErrNotLockHolder) {
		t.Fatalf("expected ErrNotLockHolder, got %v", err)
	}
	if got := len(b.records()); got != 1 {
		t.Fatalf("denied release must not broadcast, got %d events", got)
	}
}

func TestReleaseExpiredIsNoop(t *testing.T) {
	m, _, b := newManager(t, "c1")
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	m.SetNow(func() time.Time { return now })

	if _, err := m.Acquire(ctx, "c1", alice()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = t0.Add(lockTTL + time.Second)
	if err := m.Release(ctx, "c1", bob()); err != nil {
		t.Fatalf("releasing an expired lock must succeed, got %v", err)
	}
	if got := len(b.records()); got != 1 {
		t.Fatalf("releasing an expired lock must not broadcast, got %d events", got)
	}
}

func TestReleaseAllOnDisconnect(t *testing.T) {
	m, _, b := newManager(t, "c1", "c2", "c3", "c4")
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		if _, err := m.Acquire(ctx, id, alice()); err != nil {
			t.Fatalf("acquire %s: %v", id, err)
		}
	}
	if _, err := m.Acquire(ctx, "c4", bob()); err != nil {
		t.Fatalf("acquire c4: %v", err)
	}

	if err := m.ReleaseAll(ctx, alice()); err != nil {
		t.Fatalf("release all: %v", err)
	}

	unlocks := 0
	for _, e := range b.records() {
		if e.Event == lock.EventChatUnlocked {
			unlocks++
		}
	}
	if unlocks != 3 {
		t.Fatalf("expected 3 unlock broadcasts, got %d", unlocks)
	}

	state, err := m.State(ctx, "c4")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.HolderID != "bob" {
		t.Fatalf("bob's lock must survive alice's disconnect: %+v", state)
	}
	for _, id := range []string{"c1", "c2", "c3"} {
		state, err := m.State(ctx, id)
		if err != nil {
			t.Fatalf("state %s: %v", id, err)
		}
		if state.Active(time.Now()) {
			t.Fatalf("%s should be free after disconnect: %+v", id, state)
		}
	}
}

func TestCrossOrganizationLockHidden(t *testing.T) {
	m, _, b := newManager(t, "c1")
	ctx := context.Background()

	mallory := user.User{ID: "mallory", Username: "mallory", ActiveOrganization: "org-2"}

	if _, err := m.Acquire(ctx, "c1", mallory); !errors.Is(err, store.ErrChatNotFound) {
		t.Fatalf("cross-org acquire must read as not found, got %v", err)
	}
	state, err := m.State(ctx, "c1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Active(time.Now()) {
		t.Fatalf("rejected acquire must not mutate the lock: %+v", state)
	}
	if got := len(b.records()); got != 0 {
		t.Fatalf("rejected acquire must not broadcast, got %d events", got)
	}
}

func TestCrossOrganizationCannotTouchHeldLock(t *testing.T) {
	m, _, b := newManager(t, "c1")
	ctx := context.Background()

	first, err := m.Acquire(ctx, "c1", alice())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	mallory := user.User{ID: "mallory", Username: "mallory", ActiveOrganization: "org-2"}
	if err := m.Heartbeat(ctx, "c1", mallory); !errors.Is(err, store.ErrChatNotFound) {
		t.Fatalf("cross-org heartbeat must read as not found, got %v", err)
	}
	if err := m.Release(ctx, "c1", mallory); !errors.Is(err, store.ErrChatNotFound) {
		t.Fatalf("cross-org release must read as not found, got %v", err)
	}

	state, err := m.State(ctx, "c1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.HolderID != "alice" || !state.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("lock mutated by cross-org caller: %+v", state)
	}

	// The only broadcast is alice's acquisition, scoped to the chat's org.
	events := b.records()
	if len(events) != 1 || events[0].OrganizationID != testOrg {
		t.Fatalf("unexpected broadcasts: %+v", events)
	}
}
