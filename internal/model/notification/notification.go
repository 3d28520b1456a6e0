package notification

import (
	"time"

	"github.com/CipherHitro/AiMind/internal/model/user"
)

// Notification types.
const (
	TypeUser         = "user"
	TypeGlobal       = "global"
	TypeOrganization = "organization"
)

// Categories.
const (
	CategoryInfo    = "info"
	CategorySuccess = "success"
	CategoryWarning = "warning"
)

// Priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification is the canonical rich shape: optional routing references plus
// presentation fields and a free-form metadata bag.
type Notification struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId,omitempty"`
	OrganizationID string         `json:"organizationId,omitempty"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Category       string         `json:"category"`
	Priority       string         `json:"priority"`
	ActionURL      string         `json:"actionUrl,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IsRead         bool           `json:"isRead"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ScopeKind discriminates delivery scopes.
type ScopeKind int

const (
	ScopePersonal ScopeKind = iota
	ScopeGlobal
	ScopeOrganization
)

// Scope is the delivery target of a notification, evaluated explicitly
// instead of an implicit mine-OR-global-OR-my-org query.
type Scope struct {
	Kind           ScopeKind
	UserID         string
	OrganizationID string
}

// Personal scopes delivery to a single user.
func Personal(userID string) Scope { return Scope{Kind: ScopePersonal, UserID: userID} }

// Global scopes delivery to every connected user.
func Global() Scope { return Scope{Kind: ScopeGlobal} }

// Organization scopes delivery to all members of one organization.
func Organization(orgID string) Scope {
	return Scope{Kind: ScopeOrganization, OrganizationID: orgID}
}

// Scope derives the delivery scope from the stored routing fields.
func (n Notification) Scope() Scope {
	switch n.Type {
	case TypeGlobal:
		return Global()
	case TypeOrganization:
		return Organization(n.OrganizationID)
	default:
		return Personal(n.UserID)
	}
}

// VisibleTo reports whether the recipient may see this notification.
// Organization notifications follow the recipient's active organization, not
// their full membership list, so switching organizations switches the feed.
func (n Notification) VisibleTo(u user.User) bool {
	switch s := n.Scope(); s.Kind {
	case ScopeGlobal:
		return true
	case ScopeOrganization:
		return s.OrganizationID == u.ActiveOrganization
	default:
		return s.UserID == u.ID
	}
}
