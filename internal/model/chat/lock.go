package chat

import "time"

// LockState is the per-chat mutual-exclusion claim. A zero value means
// unlocked. Expiry is lazy: a lock whose ExpiresAt has passed is treated as
// unlocked on every read, no background sweep clears it.
type LockState struct {
	HolderID   string    `json:"holderId,omitempty"`
	HolderName string    `json:"holderName,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
}

// Active reports whether the lock is held by anyone at the given instant.
func (l LockState) Active(now time.Time) bool {
	return l.HolderID != "" && now.Before(l.ExpiresAt)
}

// HeldBy reports whether the lock is actively held by the given user.
func (l LockState) HeldBy(userID string, now time.Time) bool {
	return l.Active(now) && l.HolderID == userID
}

// ReleasedLock identifies a chat whose lock was force-released, with the
// organization scope its unlock notification should target.
type ReleasedLock struct {
	ChatID         string
	OrganizationID string
}
