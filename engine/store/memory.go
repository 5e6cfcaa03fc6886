// Package store provides the in-memory Store implementation used by tests
// and local development. The production implementation lives in
// store/sqlite.
package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cleanslate/escrow-engine/engine"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements engine.TxStore. WithTx is simulated with a snapshot of
// the whole state plus restore-on-error, the same all-or-nothing semantics
// the SQLite store gets from a real transaction.
type Memory struct {
	mu sync.RWMutex
	s  *state
}

// state holds everything; its methods are unlocked, so they double as the
// transactional view handed to WithTx callbacks.
type state struct {
	balances  map[engine.OwnerID]int64
	entries   map[engine.OwnerID][]engine.Entry
	byKey     map[string]engine.Entry
	bookings  map[engine.BookingID]engine.Booking
	clients   map[engine.OwnerID]engine.ClientProfile
	templates map[engine.TemplateID]engine.RecurringTemplate
}

func NewMemory() *Memory {
	return &Memory{s: newState()}
}

func newState() *state {
	return &state{
		balances:  make(map[engine.OwnerID]int64),
		entries:   make(map[engine.OwnerID][]engine.Entry),
		byKey:     make(map[string]engine.Entry),
		bookings:  make(map[engine.BookingID]engine.Booking),
		clients:   make(map[engine.OwnerID]engine.ClientProfile),
		templates: make(map[engine.TemplateID]engine.RecurringTemplate),
	}
}

var _ engine.TxStore = (*Memory)(nil)
var _ engine.Store = (*state)(nil)

// WithTx snapshots the state, runs fn against the live state, and restores
// the snapshot if fn fails. The lock is held for the whole callback, which
// also gives memory-store transactions full isolation.
func (m *Memory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(m.s); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = append([]engine.Entry(nil), v...)
	}
	for k, v := range s.byKey {
		c.byKey[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.clients {
		c.clients[k] = v
	}
	for k, v := range s.templates {
		c.templates[k] = v
	}
	return c
}

// =============================================================================
// LOCKED PASSTHROUGHS
// =============================================================================

func (m *Memory) AppendEntry(ctx context.Context, e engine.Entry) (engine.Entry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AppendEntry(ctx, e)
}

func (m *Memory) Balance(ctx context.Context, owner engine.OwnerID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Balance(ctx, owner)
}

func (m *Memory) Entries(ctx context.Context, owner engine.OwnerID, cursor string, limit int) ([]engine.Entry, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Entries(ctx, owner, cursor, limit)
}

func (m *Memory) EntryByKey(ctx context.Context, key string) (*engine.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.EntryByKey(ctx, key)
}

func (m *Memory) CreateBooking(ctx context.Context, b engine.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.CreateBooking(ctx, b)
}

func (m *Memory) GetBooking(ctx context.Context, id engine.BookingID) (*engine.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetBooking(ctx, id)
}

func (m *Memory) UpdateBooking(ctx context.Context, b engine.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateBooking(ctx, b)
}

func (m *Memory) BookingsInStatus(ctx context.Context, statuses ...engine.BookingStatus) ([]engine.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.BookingsInStatus(ctx, statuses...)
}

func (m *Memory) BookingForOccurrence(ctx context.Context, tpl engine.TemplateID, date time.Time) (*engine.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.BookingForOccurrence(ctx, tpl, date)
}

func (m *Memory) GetClient(ctx context.Context, id engine.OwnerID) (*engine.ClientProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetClient(ctx, id)
}

func (m *Memory) PutClient(ctx context.Context, p engine.ClientProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.PutClient(ctx, p)
}

func (m *Memory) GetTemplate(ctx context.Context, id engine.TemplateID) (*engine.RecurringTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetTemplate(ctx, id)
}

func (m *Memory) PutTemplate(ctx context.Context, t engine.RecurringTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.PutTemplate(ctx, t)
}

func (m *Memory) ActiveTemplates(ctx context.Context) ([]engine.RecurringTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ActiveTemplates(ctx)
}

// =============================================================================
// STATE - unlocked implementation
// =============================================================================

func (s *state) AppendEntry(_ context.Context, e engine.Entry) (engine.Entry, int64, error) {
	if existing, ok := s.byKey[e.IdempotencyKey]; ok {
		return existing, s.balances[existing.OwnerID], engine.ErrDuplicateOperation
	}

	balance := s.balances[e.OwnerID]
	next := balance + e.Amount
	if e.Amount < 0 && e.Kind.DisallowsOverdraft() && next < 0 {
		return engine.Entry{}, balance, &engine.InsufficientFundsError{
			OwnerID:   e.OwnerID,
			Balance:   balance,
			Requested: e.Amount,
			Kind:      e.Kind,
		}
	}

	e.BalanceAfter = next
	s.entries[e.OwnerID] = append(s.entries[e.OwnerID], e)
	s.byKey[e.IdempotencyKey] = e
	s.balances[e.OwnerID] = next
	return e, next, nil
}

func (s *state) Balance(_ context.Context, owner engine.OwnerID) (int64, error) {
	return s.balances[owner], nil
}

func (s *state) Entries(_ context.Context, owner engine.OwnerID, cursor string, limit int) ([]engine.Entry, string, error) {
	all := s.entries[owner]
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", engine.ErrNotFound
		}
		offset = n
	}
	if offset >= len(all) {
		return nil, "", nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := append([]engine.Entry(nil), all[offset:end]...)
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return page, next, nil
}

func (s *state) EntryByKey(_ context.Context, key string) (*engine.Entry, error) {
	e, ok := s.byKey[key]
	if !ok {
		return nil, &engine.NotFoundError{Kind: "entry", ID: key}
	}
	copied := e
	return &copied, nil
}

func (s *state) CreateBooking(_ context.Context, b engine.Booking) error {
	s.bookings[b.ID] = b
	return nil
}

func (s *state) GetBooking(_ context.Context, id engine.BookingID) (*engine.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, &engine.NotFoundError{Kind: "booking", ID: string(id)}
	}
	copied := b
	return &copied, nil
}

func (s *state) UpdateBooking(_ context.Context, b engine.Booking) error {
	if _, ok := s.bookings[b.ID]; !ok {
		return &engine.NotFoundError{Kind: "booking", ID: string(b.ID)}
	}
	s.bookings[b.ID] = b
	return nil
}

func (s *state) BookingsInStatus(_ context.Context, statuses ...engine.BookingStatus) ([]engine.Booking, error) {
	var out []engine.Booking
	for _, b := range s.bookings {
		for _, st := range statuses {
			if b.Status == st {
				out = append(out, b)
				break
			}
		}
	}
	return out, nil
}

func (s *state) BookingForOccurrence(_ context.Context, tpl engine.TemplateID, date time.Time) (*engine.Booking, error) {
	y, m, d := date.UTC().Date()
	for _, b := range s.bookings {
		if b.RecurringTemplateID == nil || *b.RecurringTemplateID != tpl {
			continue
		}
		by, bm, bd := b.ScheduledStart.UTC().Date()
		if by == y && bm == m && bd == d {
			copied := b
			return &copied, nil
		}
	}
	return nil, &engine.NotFoundError{Kind: "booking", ID: string(tpl) + "@" + date.Format("2006-01-02")}
}

func (s *state) GetClient(_ context.Context, id engine.OwnerID) (*engine.ClientProfile, error) {
	p, ok := s.clients[id]
	if !ok {
		return nil, &engine.NotFoundError{Kind: "client", ID: string(id)}
	}
	copied := p
	return &copied, nil
}

func (s *state) PutClient(_ context.Context, p engine.ClientProfile) error {
	s.clients[p.ID] = p
	return nil
}

func (s *state) GetTemplate(_ context.Context, id engine.TemplateID) (*engine.RecurringTemplate, error) {
	t, ok := s.templates[id]
	if !ok {
		return nil, &engine.NotFoundError{Kind: "template", ID: string(id)}
	}
	copied := t
	return &copied, nil
}

func (s *state) PutTemplate(_ context.Context, t engine.RecurringTemplate) error {
	s.templates[t.ID] = t
	return nil
}

func (s *state) ActiveTemplates(_ context.Context) ([]engine.RecurringTemplate, error) {
	var out []engine.RecurringTemplate
	for _, t := range s.templates {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}
