package chat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	chatModel "github.com/CipherHitro/AiMind/internal/model/chat"
	"github.com/CipherHitro/AiMind/internal/model/user"
	"github.com/CipherHitro/AiMind/internal/service/ai"
	chatService "github.com/CipherHitro/AiMind/internal/service/chat"
	"github.com/CipherHitro/AiMind/internal/service/credit"
	"github.com/CipherHitro/AiMind/internal/service/lock"
	"github.com/CipherHitro/AiMind/internal/store"
)

const testOrg = "org-1"

type fakeCompleter struct {
	reply     string
	err       error
	lastTurns []chatModel.Turn
	calls     int
}

func (f *fakeCompleter) Complete(_ context.Context, turns []chatModel.Turn) (string, error) {
	f.calls++
	f.lastTurns = append([]chatModel.Turn(nil), turns...)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeTitler struct {
	title string
	err   error
	calls int
}

func (f *fakeTitler) Generate(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.title, nil
}

type nopBroadcaster struct{}

func (nopBroadcaster) ToOrganization(string, string, any) {}

type fixture struct {
	svc       *chatService.Service
	store     *store.MemoryStore
	completer *fakeCompleter
	titler    *fakeTitler
}

func newFixture(t *testing.T, credits int) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	mem.PutUser(user.User{
		ID:                 "alice",
		Username:           "alice",
		Organizations:      []user.Membership{{OrganizationID: testOrg, Role: user.RoleMember}},
		ActiveOrganization: testOrg,
		Credits:            credits,
	})

	completer := &fakeCompleter{reply: "Sure, happy to help."}
	titler := &fakeTitler{title: "Grocery Planning"}
	locks := lock.NewManager(lock.NewChatStoreBacked(mem), mem, nopBroadcaster{}, 5*time.Minute)
	ledger := credit.NewLedger(mem, 2)
	svc := chatService.NewService(mem, ledger, locks, completer, titler)

	return &fixture{svc: svc, store: mem, completer: completer, titler: titler}
}

func (f *fixture) user(t *testing.T) user.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return u
}

func (f *fixture) createChat(t *testing.T) chatModel.Chat {
	t.Helper()
	c, err := f.svc.Create(context.Background(), f.user(t), "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c
}

func TestCreateSeedsWelcomeTurn(t *testing.T) {
	f := newFixture(t, user.DefaultCredits)

	c := f.createChat(t)
	if c.Title != chatModel.DefaultTitle {
		t.Fatalf("expected default title, got %q", c.Title)
	}
	if len(c.Turns) != 1 || c.Turns[0].Role != chatModel.RoleSystem {
		t.Fatalf("expected a single system turn, got %+v", c.Turns)
	}
	if c.Turns[0].Content != chatModel.WelcomeMessage {
		t.Fatalf("unexpected welcome content: %q", c.Turns[0].Content)
	}
}

func TestCreateRequiresActiveOrganization(t *testing.T) {
	f := newFixture(t, user.DefaultCredits)

	u := f.user(t)
	u.ActiveOrganization = ""
	if _, err := f.svc.Create(context.Background(), u, ""); !errors.Is(err, chatService.ErrNoActiveOrganization) {
		t.Fatalf("expected ErrNoActiveOrganization, got %v", err)
	}

	u = f.user(t)
	u.ActiveOrganization = "org-2"
	if _, err := f.svc.Create(context.Background(), u, ""); !errors.Is(err, chatService.ErrNotOrganizationMember) {
		t.Fatalf("expected ErrNotOrganizationMember, got %v", err)
	}
}

func TestSendMessageFirst(t *testing.T) {
	f := newFixture(t, user.DefaultCredits)
	c := f.createChat(t)
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, c.ID, f.user(t), "Help me plan groceries for the week")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if res.Title != "Grocery Planning" || !res.TitleChanged {
		t.Fatalf("expected generated title, got %+v", res)
	}
	if res.Balance != user.DefaultCredits-2 {
		t.Fatalf("expected balance %d, got %d", user.DefaultCredits-2, res.Balance)
	}
	if res.UserTurn.Role != chatModel.RoleUser || res.AssistantTurn.Role != chatModel.RoleAssistant {
		t.Fatalf("unexpected turn roles: %+v", res)
	}

	// The completion request must not include the pruned system turn.
	for _, turn := range f.completer.lastTurns {
		if turn.Role == chatModel.RoleSystem {
			t.Fatalf("system turn leaked into completion request: %+v", f.completer.lastTurns)
		}
	}

	saved, err := f.store.GetChat(ctx, c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(saved.Turns) != 2 {
		t.Fatalf("expected system turn pruned and 2 turns persisted, got %d", len(saved.Turns))
	}
	if saved.Title != "Grocery Planning" {
		t.Fatalf("title not persisted: %q", saved.Title)
	}
}

func TestSendMessageInsufficientCredits(t *testing.T) {
	f := newFixture(t, 1)
	c := f.createChat(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, c.ID, f.user(t), "hello")
	var insufficient *chatService.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Balance != 1 || insufficient.Required != 2 {
		t.Fatalf("unexpected shortfall: %+v", insufficient)
	}

	// Nothing may change when the gate rejects.
	if f.completer.calls != 0 {
		t.Fatal("completer must not be called")
	}
	saved, err := f.store.GetChat(ctx, c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(saved.Turns) != 1 || saved.Title != chatModel.DefaultTitle {
		t.Fatalf("chat mutated despite rejection: %+v", saved)
	}
	if u := f.user(t); u.Credits != 1 {
		t.Fatalf("balance mutated despite rejection: %d", u.Credits)
	}
}

func TestSendMessageTitleFallback(t *testing.T) {
	f := newFixture(t, user.DefaultCredits)
	f.titler.err = errors.New("title model down")
	c := f.createChat(t)

	msg := "Hello there how are you doing today friend"
	res, err := f.svc.SendMessage(context.Background(), c.ID, f.user(t), msg)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if want := ai.FallbackTitle(msg); res.Title != want {
		t.Fatalf("expected fallback title %q, got %q", want, res.Title)
	}
}

func TestSendMessageCompletionFailure(t *testing.T) {
	f := newFixture(t, 10)
	f.completer.err = errors.New("upstream 500")
	c := f.createChat(t)
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, c.ID, f.user(t), "hello")
	if err != nil {
		t.Fatalf("send must succeed despite completion failure, got %v", err)
	}
	if res.AssistantTurn.Content != ai.FallbackResponse {
		t.Fatalf("expected fallback response, got %q", res.AssistantTurn.Content)
	}
	if res.Balance != 8 {
		t.Fatalf("fallback sends are still charged, balance %d", res.Balance)
	}

	saved, err := f.store.GetChat(ctx, c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got := saved.Turns[len(saved.Turns)-1].Content; got != ai.FallbackResponse {
		t.Fatalf("fallback turn not persisted: %q", got)
	}
}

func TestSendMessageSecondKeepsTitle(t *testing.T) {
	f := newFixture(t, user.DefaultCredits)
	c := f.createChat(t)
	ctx := context.Background()

	if _, err := f.svc.SendMessage(ctx, c.ID, f.user(t), "first"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	res, err := f.svc.SendMessage(ctx, c.ID, f.user(t), "second")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if res.TitleChanged {
		t.Fatal("title must only be generated on the first message")
	}
	if f.titler.calls != 1 {
		t.Fatalf("expected one title generation, got %d", f.titler.calls)
	}

	saved, err := f.store.GetChat(ctx, c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(saved.Turns) != 4 {
		t.Fatalf("expected 4 turns after two sends, got %d", len(saved.Turns))
	}
	wantRoles := []string{chatModel.RoleUser, chatModel.RoleAssistant, chatModel.RoleUser, chatModel.RoleAssistant}
	for i, want := range wantRoles {
		if saved.Turns[i].Role != want {
			t.Fatalf("turn %d role = %q, want %q", i, saved.Turns[i].Role, want)
		}
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, user.DefaultCredits)
	c := f.createChat(t)
	ctx := context.Background()

	if _, err := f.svc.SendMessage(ctx, c.ID, f.user(t), "   "); !errors.Is(err, chatService.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	stranger := user.User{
		ID:                 "mallory",
		Username:           "mallory",
		Organizations:      []user.Membership{{OrganizationID: testOrg, Role: user.RoleMember}},
		ActiveOrganization: testOrg,
		Credits:            user.DefaultCredits,
	}
	f.store.PutUser(stranger)
	if _, err := f.svc.SendMessage(ctx, c.ID, stranger, "hi"); !errors.Is(err, store.ErrChatNotFound) {
		t.Fatalf("foreign chat must read as not found, got %v", err)
	}
}

func TestOpenReportsLockView(t *testing.T) {
	f := newFixture(t, user.DefaultCredits)
	c := f.createChat(t)
	ctx := context.Background()

	bob := user.User{
		ID:                 "bob",
		Username:           "bob",
		Organizations:      []user.Membership{{OrganizationID: testOrg, Role: user.RoleMember}},
		ActiveOrganization: testOrg,
	}

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, _, err := f.store.AcquireLock(ctx, c.ID, bob.ID, bob.Username, t0, 5*time.Minute); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	now := t0.Add(time.Minute)
	f.svc.SetNow(func() time.Time { return now })

	res, err := f.svc.Open(ctx, c.ID, f.user(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !res.LockedByOther || res.LockedByMe {
		t.Fatalf("expected locked-by-other view, got %+v", res)
	}
	if res.Lock.HolderName != "bob" {
		t.Fatalf("lock view must name the holder, got %+v", res.Lock)
	}

	// Past the TTL the same chat reads as unlocked.
	now = t0.Add(5*time.Minute + time.Second)
	res, err = f.svc.Open(ctx, c.ID, f.user(t))
	if err != nil {
		t.Fatalf("open after expiry: %v", err)
	}
	if res.LockedByOther || res.Lock.HolderID != "" {
		t.Fatalf("expired lock must read as unlocked, got %+v", res)
	}
}

func TestRename(t *testing.T) {
	f := newFixture(t, user.DefaultCredits)
	c := f.createChat(t)
	ctx := context.Background()

	if _, err := f.svc.Rename(ctx, c.ID, f.user(t), "  "); !errors.Is(err, chatService.ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}

	title, err := f.svc.Rename(ctx, c.ID, f.user(t), "  Budget Talk  ")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if title != "Budget Talk" {
		t.Fatalf("expected trimmed title, got %q", title)
	}

	saved, err := f.store.GetChat(ctx, c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if saved.Title != "Budget Talk" {
		t.Fatalf("title not persisted: %q", saved.Title)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t, user.DefaultCredits)
	c := f.createChat(t)
	ctx := context.Background()

	stranger := user.User{ID: "mallory", ActiveOrganization: testOrg}
	if err := f.svc.Delete(ctx, c.ID, stranger); !errors.Is(err, store.ErrChatNotFound) {
		t.Fatalf("foreign delete must read as not found, got %v", err)
	}

	if err := f.svc.Delete(ctx, c.ID, f.user(t)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.store.GetChat(ctx, c.ID); !errors.Is(err, store.ErrChatNotFound) {
		t.Fatalf("chat must be gone, got %v", err)
	}
}

func TestListSummaries(t *testing.T) {
	f := newFixture(t, user.DefaultCredits)
	c := f.createChat(t)
	ctx := context.Background()

	if _, err := f.svc.SendMessage(ctx, c.ID, f.user(t), "short question"); err != nil {
		t.Fatalf("send: %v", err)
	}

	summaries, err := f.svc.List(ctx, f.user(t))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].MessageCount != 2 {
		t.Fatalf("expected 2 turns counted, got %d", summaries[0].MessageCount)
	}
	if summaries[0].LastMessage != "Sure, happy to help." {
		t.Fatalf("unexpected preview: %q", summaries[0].LastMessage)
	}
}
