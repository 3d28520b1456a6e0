package user

import "time"

// Membership roles within an organization.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// DefaultCredits is granted to every new user.
const DefaultCredits = 1000

// Membership ties a user to one organization.
type Membership struct {
	OrganizationID string `json:"orgId"`
	Role           string `json:"role"`
}

// User carries the identity, organization scope and credit balance the chat
// core needs. Credential storage and issuance live elsewhere.
type User struct {
	ID                 string       `json:"id"`
	Username           string       `json:"username"`
	FullName           string       `json:"fullName,omitempty"`
	Email              string       `json:"email"`
	Organizations      []Membership `json:"organizations"`
	ActiveOrganization string       `json:"activeOrganization,omitempty"`
	Credits            int          `json:"credits"`
	CreatedAt          time.Time    `json:"createdAt"`
}

// MemberOf reports whether the user belongs to the given organization.
func (u User) MemberOf(organizationID string) bool {
	for _, m := range u.Organizations {
		if m.OrganizationID == organizationID {
			return true
		}
	}
	return false
}

// DisplayName prefers the username, falling back to the full name.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.FullName
}
