package chat

import (
	"strings"
	"time"
)

// Turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTitle is assigned to a chat until the first user message names it.
const DefaultTitle = "New Chat"

// WelcomeMessage seeds every newly created chat as its single system turn.
const WelcomeMessage = "Welcome to AiMind\n\nStart a conversation with your AI assistant. Ask me anything, and I'll help you with information, creative tasks, coding, and more."

// Turn is one message inside a chat, owned exclusively by it.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat is a persisted conversation scoped to one organization.
type Chat struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	Turns          []Turn    `json:"messages"`
	Lock           LockState `json:"lock"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// New builds an unpersisted chat seeded with the welcome system turn.
func New(id, title, organizationID, userID string, now time.Time) Chat {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	return Chat{
		ID:             id,
		Title:          title,
		OrganizationID: organizationID,
		UserID:         userID,
		Turns:          []Turn{{Role: RoleSystem, Content: WelcomeMessage, Timestamp: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// HasUserTurn reports whether any user-role turn exists yet.
func (c Chat) HasUserTurn() bool {
	for _, t := range c.Turns {
		if t.Role == RoleUser {
			return true
		}
	}
	return false
}

// WithoutSystemTurns returns the turn sequence with system turns removed.
// Used once, when the first user message arrives.
func (c Chat) WithoutSystemTurns() []Turn {
	kept := make([]Turn, 0, len(c.Turns))
	for _, t := range c.Turns {
		if t.Role != RoleSystem {
			kept = append(kept, t)
		}
	}
	return kept
}

// LastMessagePreview returns a short summary of the latest turn for chat lists.
func (c Chat) LastMessagePreview() string {
	if len(c.Turns) == 0 {
		return "No messages yet"
	}
	content := c.Turns[len(c.Turns)-1].Content
	if runes := []rune(content); len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return content
}
