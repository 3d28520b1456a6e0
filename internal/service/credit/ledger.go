package credit

import (
	"context"
	"errors"

	"github.com/CipherHitro/AiMind/internal/store"
)

// ErrInsufficient signals that the balance does not cover the cost.
var ErrInsufficient = errors.New("insufficient credits")

// Ledger gates and accounts for per-message costs against the user store.
type Ledger struct {
	users store.UserStore
	cost  int
}

// NewLedger creates a ledger charging the configured cost per message.
func NewLedger(users store.UserStore, costPerMessage int) *Ledger {
	return &Ledger{users: users, cost: costPerMessage}
}

// Cost returns the configured per-message cost.
func (l *Ledger) Cost() int {
	return l.cost
}

// CheckAndReserve reports whether the user can afford one message. It never
// mutates the balance; the actual debit happens after the send persisted.
func (l *Ledger) CheckAndReserve(ctx context.Context, userID string) (balance int, allowed bool, err error) {
	u, err := l.users.GetUser(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	return u.Credits, u.Credits >= l.cost, nil
}

// Debit charges one message and returns the new balance. The underlying
// update is conditional, so a racing debit can still fail with
// ErrInsufficient instead of driving the balance negative.
func (l *Ledger) Debit(ctx context.Context, userID string) (int, error) {
	balance, err := l.users.DebitCredits(ctx, userID, l.cost)
	if errors.Is(err, store.ErrInsufficientCredits) {
		return balance, ErrInsufficient
	}
	return balance, err
}
