/*
ledger.go - Append-only credit ledger

PURPOSE:
  The Ledger is the single write path for balance movements. Every hold,
  settlement, refund, fee, and compensation passes through Append, which is
  what makes the two financial invariants enforceable in one place:

  1. BALANCE CONSERVATION: the balance projection is updated in the same
     atomic unit as the entry insert, so balance always equals the sum of
     entry amounts.
  2. IDEMPOTENT RETRY: every append carries a deterministic idempotency key;
     a second append with the same key returns the original entry and leaves
     the balance untouched.

CORRECTIONS:
  Entries are never edited or deleted. A mistake is corrected by appending a
  KindReversal entry with the opposite sign; both rows stay in the ledger.

SEE ALSO:
  - store.go: AppendEntry, where the atomicity actually lives
  - machine.go: Transition applies ledger effects through this type
*/
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Ledger validates and timestamps entries before handing them to the store.
type Ledger struct {
	Store Store
	Clock Clock
}

func NewLedger(store Store, clock Clock) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Ledger{Store: store, Clock: clock}
}

// Append records one balance movement and returns the stored entry plus the
// new balance.
//
// On a consumed idempotency key the EXISTING entry and current balance come
// back with ErrDuplicateOperation; callers treat that as success:
//
//	entry, bal, err := ledger.Append(ctx, e)
//	if err != nil && !engine.IsDuplicate(err) {
//	    return err
//	}
func (l *Ledger) Append(ctx context.Context, e Entry) (Entry, int64, error) {
	if e.OwnerID == "" {
		return Entry{}, 0, fmt.Errorf("ledger append: missing owner")
	}
	if !e.Kind.Valid() {
		return Entry{}, 0, fmt.Errorf("ledger append: unknown entry kind %q", e.Kind)
	}
	if e.Amount == 0 {
		return Entry{}, 0, fmt.Errorf("ledger append: zero amount (owner %s, kind %s)", e.OwnerID, e.Kind)
	}
	if e.IdempotencyKey == "" {
		return Entry{}, 0, fmt.Errorf("ledger append: missing idempotency key (owner %s, kind %s)", e.OwnerID, e.Kind)
	}
	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.Clock.Now()
	}
	return l.Store.AppendEntry(ctx, e)
}

// Balance returns the owner's current balance. Pure projection read.
func (l *Ledger) Balance(ctx context.Context, owner OwnerID) (int64, error) {
	return l.Store.Balance(ctx, owner)
}

// Entries returns a page of the owner's history, oldest first.
func (l *Ledger) Entries(ctx context.Context, owner OwnerID, cursor string, limit int) ([]Entry, string, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.Store.Entries(ctx, owner, cursor, limit)
}
