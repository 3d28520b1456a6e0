package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CipherHitro/AiMind/internal/logging"
	"github.com/CipherHitro/AiMind/internal/model/chat"
	"github.com/CipherHitro/AiMind/internal/model/user"
	"github.com/CipherHitro/AiMind/internal/service/ai"
	"github.com/CipherHitro/AiMind/internal/service/credit"
	"github.com/CipherHitro/AiMind/internal/service/lock"
	"github.com/CipherHitro/AiMind/internal/store"
)

var (
	ErrEmptyMessage          = errors.New("message content is required")
	ErrEmptyTitle            = errors.New("title is required")
	ErrNoActiveOrganization  = errors.New("no active organization set")
	ErrNotOrganizationMember = errors.New("you are not a member of this organization")
	ErrWrongOrganization     = errors.New("this chat belongs to a different organization")
)

// InsufficientCreditsError rejects a send before any side effect, carrying
// the numbers the UI needs to explain the shortfall.
type InsufficientCreditsError struct {
	Balance  int
	Required int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Balance)
}

// Completer is the external text-generation collaborator.
type Completer interface {
	Complete(ctx context.Context, turns []chat.Turn) (string, error)
}

// TitleGenerator is the external title collaborator.
type TitleGenerator interface {
	Generate(ctx context.Context, firstMessage string) (string, error)
}

// Service owns chat CRUD and the send-message workflow that composes the
// credit ledger, the session store and the AI collaborators.
type Service struct {
	chats     store.ChatStore
	ledger    *credit.Ledger
	locks     *lock.Manager
	completer Completer
	titler    TitleGenerator
	now       func() time.Time
}

// NewService wires the messaging workflow to its collaborators.
func NewService(chats store.ChatStore, ledger *credit.Ledger, locks *lock.Manager, completer Completer, titler TitleGenerator) *Service {
	return &Service{
		chats:     chats,
		ledger:    ledger,
		locks:     locks,
		completer: completer,
		titler:    titler,
		now:       time.Now,
	}
}

// Summary is the list-view projection of a chat.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastMessage  string    `json:"lastMessage"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// OpenResult carries the chat content plus the lock view the client renders.
type OpenResult struct {
	Chat          chat.Chat
	Lock          chat.LockState
	LockedByMe    bool
	LockedByOther bool
}

// SendResult is everything the caller needs to render a completed send
// without re-fetching the chat.
type SendResult struct {
	Title         string
	TitleChanged  bool
	Balance       int
	UserTurn      chat.Turn
	AssistantTurn chat.Turn
}

func (s *Service) requireActiveMembership(u user.User) error {
	if u.ActiveOrganization == "" {
		return ErrNoActiveOrganization
	}
	if !u.MemberOf(u.ActiveOrganization) {
		return ErrNotOrganizationMember
	}
	return nil
}

// Create provisions a chat in the user's active organization, seeded with the
// welcome system turn.
func (s *Service) Create(ctx context.Context, u user.User, title string) (chat.Chat, error) {
	if err := s.requireActiveMembership(u); err != nil {
		return chat.Chat{}, err
	}

	c := chat.New(uuid.NewString(), title, u.ActiveOrganization, u.ID, s.now())
	if err := s.chats.CreateChat(ctx, c); err != nil {
		return chat.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return c, nil
}

// List returns the chats of the user's active organization, newest first.
func (s *Service) List(ctx context.Context, u user.User) ([]Summary, error) {
	if err := s.requireActiveMembership(u); err != nil {
		return nil, err
	}

	chats, err := s.chats.ListChatsByOrganization(ctx, u.ActiveOrganization)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	summaries := make([]Summary, 0, len(chats))
	for _, c := range chats {
		summaries = append(summaries, Summary{
			ID:           c.ID,
			Title:        c.Title,
			LastMessage:  c.LastMessagePreview(),
			MessageCount: len(c.Turns),
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		})
	}
	return summaries, nil
}

// Open loads a chat for viewing. Locked chats stay readable; the lock view
// tells the client whether sends are allowed. Expired locks read as unlocked.
func (s *Service) Open(ctx context.Context, chatID string, u user.User) (OpenResult, error) {
	c, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return OpenResult{}, err
	}
	if c.OrganizationID != u.ActiveOrganization {
		return OpenResult{}, ErrWrongOrganization
	}

	state, err := s.locks.State(ctx, chatID)
	if err != nil {
		return OpenResult{}, err
	}

	now := s.now()
	if !state.Active(now) {
		state = chat.LockState{}
	}
	c.Lock = state

	return OpenResult{
		Chat:          c,
		Lock:          state,
		LockedByMe:    state.HeldBy(u.ID, now),
		LockedByOther: state.Active(now) && state.HolderID != u.ID,
	}, nil
}

// Rename sets a user-provided title.
func (s *Service) Rename(ctx context.Context, chatID string, u user.User, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}

	c, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return "", err
	}
	if c.UserID != u.ID {
		return "", store.ErrChatNotFound
	}

	if err := s.chats.UpdateChatTitle(ctx, chatID, title, s.now()); err != nil {
		return "", fmt.Errorf("rename chat: %w", err)
	}
	return title, nil
}

// Delete removes a chat permanently. Deletions are logged for audit since
// there is no archived copy to fall back on.
func (s *Service) Delete(ctx context.Context, chatID string, u user.User) error {
	c, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if c.UserID != u.ID {
		return store.ErrChatNotFound
	}

	if err := s.chats.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}

	logging.L().Info().
		Str("chat_id", chatID).
		Str("user_id", u.ID).
		Str("organization_id", c.OrganizationID).
		Str("title", c.Title).
		Msg("chat deleted")
	return nil
}

// SendMessage runs the whole per-message workflow: credit gate, first-message
// title generation and system-turn pruning, completion call with graceful
// fallback, persistence, then the credit debit. Mutual exclusion against
// concurrent sends on the same chat comes from the chat lock held by the
// caller; this workflow does not re-derive it.
func (s *Service) SendMessage(ctx context.Context, chatID string, u user.User, text string) (SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendResult{}, ErrEmptyMessage
	}

	balance, allowed, err := s.ledger.CheckAndReserve(ctx, u.ID)
	if err != nil {
		return SendResult{}, err
	}
	if !allowed {
		return SendResult{}, &InsufficientCreditsError{Balance: balance, Required: s.ledger.Cost()}
	}

	c, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return SendResult{}, err
	}
	if c.UserID != u.ID {
		return SendResult{}, store.ErrChatNotFound
	}
	if c.OrganizationID != u.ActiveOrganization {
		return SendResult{}, ErrWrongOrganization
	}

	turns := c.Turns
	title := c.Title
	titleChanged := false

	if !c.HasUserTurn() {
		// First user message: drop the welcome system turn for good and name
		// the chat after the message.
		turns = c.WithoutSystemTurns()
		title = s.generateTitle(ctx, chatID, text)
		titleChanged = title != c.Title
	}

	userTurn := chat.Turn{Role: chat.RoleUser, Content: text, Timestamp: s.now()}
	turns = append(turns, userTurn)

	reply, err := s.completer.Complete(ctx, turns)
	if err != nil {
		logging.L().Warn().
			Err(err).
			Str("chat_id", chatID).
			Msg("completion failed, using fallback response")
		reply = ai.FallbackResponse
	}
	assistantTurn := chat.Turn{Role: chat.RoleAssistant, Content: reply, Timestamp: s.now()}
	turns = append(turns, assistantTurn)

	if err := s.chats.SaveConversation(ctx, chatID, title, turns, s.now()); err != nil {
		return SendResult{}, fmt.Errorf("persist conversation: %w", err)
	}

	// Debit strictly after the conversation persisted. There is no
	// transaction spanning both writes: if the debit fails here the send
	// stands and the gap is logged for reconciliation.
	newBalance, err := s.ledger.Debit(ctx, u.ID)
	if err != nil {
		logging.L().Error().
			Err(err).
			Str("chat_id", chatID).
			Str("user_id", u.ID).
			Int("cost", s.ledger.Cost()).
			Msg("credit debit failed after conversation persisted, needs reconciliation")
		newBalance = balance
	}

	return SendResult{
		Title:         title,
		TitleChanged:  titleChanged,
		Balance:       newBalance,
		UserTurn:      userTurn,
		AssistantTurn: assistantTurn,
	}, nil
}

func (s *Service) generateTitle(ctx context.Context, chatID, firstMessage string) string {
	title, err := s.titler.Generate(ctx, firstMessage)
	if err != nil {
		logging.L().Warn().
			Err(err).
			Str("chat_id", chatID).
			Msg("title generation failed, using fallback")
		return ai.FallbackTitle(firstMessage)
	}
	return title
}
