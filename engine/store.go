/*
store.go - Persistence interfaces for the engine

PURPOSE:
  Defines the boundary between domain logic and the database. The Store
  handles persistence while maintaining the two correctness mechanisms:
  append-only ledger semantics and compare-and-set booking updates.

APPEND-ONLY CONTRACT:
  AppendEntry is the ONLY ledger write. No update or delete methods exist
  for entries; corrections are appended as reversal entries. The balance
  projection is updated inside AppendEntry and nowhere else.

ATOMICITY:
  AppendEntry inserts the entry and updates the balance projection as one
  atomic unit: no caller ever observes a balance that does not match the
  sum of entries. Multi-effect transitions (status change + ledger writes)
  run inside WithTx on a TxStore.

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory, for tests and dev
  - store/sqlite/: Production SQLite

SEE ALSO:
  - ledger.go: Higher-level ledger using Store
  - machine.go: Transition runs entirely inside WithTx
*/
package engine

import (
	"context"
	"time"
)

// Store handles persistence for every aggregate the engine owns.
type Store interface {
	// ---- Ledger (append-only) ----

	// AppendEntry atomically inserts e and updates the owner's balance
	// projection, returning the stored entry and the new balance.
	//
	// If e.IdempotencyKey was already consumed, the EXISTING entry and the
	// current balance are returned together with ErrDuplicateOperation, so
	// retries are safe and callers keep their workflow.
	//
	// If e is a debit whose kind disallows overdraft and the balance cannot
	// cover it, an InsufficientFundsError is returned and nothing is written.
	AppendEntry(ctx context.Context, e Entry) (Entry, int64, error)

	// Balance returns the cached balance projection for owner. Owners with
	// no entries have balance 0.
	Balance(ctx context.Context, owner OwnerID) (int64, error)

	// Entries returns owner's entries oldest-first starting after cursor
	// (empty cursor = from the beginning), plus the next cursor ("" when
	// exhausted).
	Entries(ctx context.Context, owner OwnerID, cursor string, limit int) ([]Entry, string, error)

	// EntryByKey returns the entry with the given idempotency key, or
	// NotFound.
	EntryByKey(ctx context.Context, key string) (*Entry, error)

	// ---- Bookings ----

	CreateBooking(ctx context.Context, b Booking) error
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)

	// UpdateBooking writes the full booking row. Callers are responsible for
	// the compare-and-set check; Machine.Transition is the only code path
	// that should reach this.
	UpdateBooking(ctx context.Context, b Booking) error

	// BookingsInStatus returns all bookings currently in any of the given
	// statuses. Sweeps apply their time filters on top.
	BookingsInStatus(ctx context.Context, statuses ...BookingStatus) ([]Booking, error)

	// BookingForOccurrence returns the booking generated from the template
	// for the given occurrence date (date-granular match), or NotFound.
	BookingForOccurrence(ctx context.Context, tpl TemplateID, date time.Time) (*Booking, error)

	// ---- Clients ----

	GetClient(ctx context.Context, id OwnerID) (*ClientProfile, error)
	PutClient(ctx context.Context, p ClientProfile) error

	// ---- Recurring templates ----

	GetTemplate(ctx context.Context, id TemplateID) (*RecurringTemplate, error)
	PutTemplate(ctx context.Context, t RecurringTemplate) error
	ActiveTemplates(ctx context.Context) ([]RecurringTemplate, error)
}

// TxStore wraps Store with transaction support. WithTx executes fn against a
// Store bound to one transaction: if fn returns an error every write inside
// it is rolled back, otherwise all are committed together. Nested WithTx
// calls join the enclosing transaction.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
