/*
Package sqlite provides the SQLite-backed implementation of engine.TxStore.

PURPOSE:
  Production persistence for the ledger, bookings, client profiles, and
  recurring templates. The same patterns apply to PostgreSQL; only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE ever touches the entries table. The UNIQUE index on
  idempotency_key is the database-level backstop for the idempotent-retry
  guarantee; the accounts projection is written only inside AppendEntry, in
  the same transaction as the entry insert.

TRANSACTIONS:
  WithTx runs the callback against a store bound to one SQL transaction, so
  a status change, its ledger effects, and a grace-counter decrement commit
  or roll back together. Nested WithTx calls join the enclosing
  transaction. Write transactions are serialized through one mutex; SQLite
  permits a single writer anyway, and taking the lock up front avoids
  SQLITE_BUSY churn.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers do not block
  behind the writer, and with foreign keys on.

USAGE:
  store, err := sqlite.New("./data/escrow.db")  // ":memory:" for tests
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cleanslate/escrow-engine/engine"
)

// Store implements engine.TxStore on SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

var _ engine.TxStore = (*Store)(nil)

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and sidesteps
	// SQLite's single-writer limit.
	db.SetMaxOpenConns(1)

	s := &Store{queries: queries{c: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only; corrections are appended reversals)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		related_booking_id TEXT,
		note TEXT NOT NULL DEFAULT '',
		balance_after INTEGER NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_owner ON entries(owner_id);
	CREATE INDEX IF NOT EXISTS idx_entries_booking
		ON entries(related_booking_id) WHERE related_booking_id IS NOT NULL;

	-- Balance projection; written only inside AppendEntry
	CREATE TABLE IF NOT EXISTS accounts (
		owner_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		cleaner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		scheduled_start TEXT NOT NULL,
		duration_hours INTEGER NOT NULL,
		hourly_rate INTEGER NOT NULL,
		add_ons INTEGER NOT NULL DEFAULT 0,
		estimated_price INTEGER NOT NULL,
		final_price INTEGER,
		escrow_held INTEGER NOT NULL DEFAULT 0,
		checked_in_at TEXT,
		checked_out_at TEXT,
		completed_at TEXT,
		check_in_lat REAL, check_in_lng REAL,
		check_out_lat REAL, check_out_lng REAL,
		completion_photos TEXT NOT NULL DEFAULT '[]',
		payment_captured INTEGER NOT NULL DEFAULT 0,
		cancellation_fee INTEGER,
		cancelled_by TEXT NOT NULL DEFAULT '',
		cancel_reason TEXT NOT NULL DEFAULT '',
		dispute_reason TEXT NOT NULL DEFAULT '',
		client_confirmed INTEGER NOT NULL DEFAULT 0,
		cleaner_confirmed INTEGER NOT NULL DEFAULT 0,
		recurring_template_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);
	-- One concrete booking per (template, occurrence date)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_template_date
		ON bookings(recurring_template_id, DATE(scheduled_start))
		WHERE recurring_template_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		grace_cancellations_remaining INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		cleaner_id TEXT NOT NULL,
		frequency TEXT NOT NULL,
		next_occurrence TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		duration_hours INTEGER NOT NULL,
		hourly_rate INTEGER NOT NULL,
		add_ons INTEGER NOT NULL DEFAULT 0,
		estimated_price INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_templates_active ON templates(active, next_occurrence);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn inside one SQL transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	view := &txView{queries{c: tx}}
	if err := fn(view); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// AppendEntry outside a WithTx still needs the insert and the projection
// update to commit together, so it opens its own transaction.
func (s *Store) AppendEntry(ctx context.Context, e engine.Entry) (engine.Entry, int64, error) {
	var (
		entry   engine.Entry
		balance int64
	)
	err := s.WithTx(ctx, func(st engine.Store) error {
		var err error
		entry, balance, err = st.AppendEntry(ctx, e)
		return err
	})
	return entry, balance, err
}

// txView is a Store bound to one transaction. A nested WithTx joins it.
type txView struct {
	queries
}

var _ engine.Store = (*txView)(nil)

func (v *txView) WithTx(_ context.Context, fn func(engine.Store) error) error {
	return fn(v)
}

// =============================================================================
// QUERIES - shared between the root store and transaction views
// =============================================================================

type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	c conn
}

// ---- Ledger ----

func (q queries) AppendEntry(ctx context.Context, e engine.Entry) (engine.Entry, int64, error) {
	if existing, err := q.EntryByKey(ctx, e.IdempotencyKey); err == nil {
		balance, err := q.Balance(ctx, existing.OwnerID)
		if err != nil {
			return engine.Entry{}, 0, err
		}
		return *existing, balance, engine.ErrDuplicateOperation
	} else if !engine.IsNotFound(err) {
		return engine.Entry{}, 0, err
	}

	balance, err := q.Balance(ctx, e.OwnerID)
	if err != nil {
		return engine.Entry{}, 0, err
	}
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

	var related any
	if e.RelatedBookingID != nil {
		related = string(*e.RelatedBookingID)
	}
	_, err = q.c.ExecContext(ctx, `
		INSERT INTO entries (id, owner_id, amount, kind, related_booking_id, note,
			balance_after, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.OwnerID), e.Amount, string(e.Kind), related, e.Note,
		e.BalanceAfter, e.IdempotencyKey, fmtTime(e.CreatedAt))
	if err != nil {
		return engine.Entry{}, 0, err
	}

	_, err = q.c.ExecContext(ctx, `
		INSERT INTO accounts (owner_id, balance) VALUES (?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET balance = excluded.balance`,
		string(e.OwnerID), next)
	if err != nil {
		return engine.Entry{}, 0, err
	}
	return e, next, nil
}

func (q queries) Balance(ctx context.Context, owner engine.OwnerID) (int64, error) {
	var balance int64
	err := q.c.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE owner_id = ?`, string(owner)).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

const entryColumns = `id, owner_id, amount, kind, related_booking_id, note,
	balance_after, idempotency_key, created_at`

func (q queries) Entries(ctx context.Context, owner engine.OwnerID, cursor string, limit int) ([]engine.Entry, string, error) {
	after := int64(0)
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("bad cursor %q: %w", cursor, err)
		}
		after = n
	}

	rows, err := q.c.QueryContext(ctx, `
		SELECT rowid, `+entryColumns+`
		FROM entries WHERE owner_id = ? AND rowid > ?
		ORDER BY rowid LIMIT ?`,
		string(owner), after, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var (
		out     []engine.Entry
		lastRow int64
	)
	for rows.Next() {
		var rowid int64
		e, err := scanEntry(rows, &rowid)
		if err != nil {
			return nil, "", err
		}
		if len(out) == limit {
			// The extra row was fetched only to learn there is a next page.
			return out, strconv.FormatInt(lastRow, 10), rows.Err()
		}
		out = append(out, e)
		lastRow = rowid
	}
	return out, "", rows.Err()
}

func (q queries) EntryByKey(ctx context.Context, key string) (*engine.Entry, error) {
	rows, err := q.c.QueryContext(ctx, `
		SELECT rowid, `+entryColumns+` FROM entries WHERE idempotency_key = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &engine.NotFoundError{Kind: "entry", ID: key}
	}
	var rowid int64
	e, err := scanEntry(rows, &rowid)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntry(rows *sql.Rows, rowid *int64) (engine.Entry, error) {
	var (
		e         engine.Entry
		id, owner string
		kind      string
		related   sql.NullString
		createdAt string
	)
	if err := rows.Scan(rowid, &id, &owner, &e.Amount, &kind, &related, &e.Note,
		&e.BalanceAfter, &e.IdempotencyKey, &createdAt); err != nil {
		return engine.Entry{}, err
	}
	e.ID = engine.EntryID(id)
	e.OwnerID = engine.OwnerID(owner)
	e.Kind = engine.EntryKind(kind)
	if related.Valid {
		b := engine.BookingID(related.String)
		e.RelatedBookingID = &b
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return engine.Entry{}, err
	}
	e.CreatedAt = t
	return e, nil
}

// ---- Bookings ----

const bookingColumns = `id, client_id, cleaner_id, status, scheduled_start,
	duration_hours, hourly_rate, add_ons, estimated_price, final_price,
	escrow_held, checked_in_at, checked_out_at, completed_at,
	check_in_lat, check_in_lng, check_out_lat, check_out_lng,
	completion_photos, payment_captured, cancellation_fee,
	cancelled_by, cancel_reason, dispute_reason,
	client_confirmed, cleaner_confirmed, recurring_template_id,
	created_at, updated_at`

func (q queries) CreateBooking(ctx context.Context, b engine.Booking) error {
	photos, err := marshalPhotos(b.CompletionPhotos)
	if err != nil {
		return err
	}
	var tpl any
	if b.RecurringTemplateID != nil {
		tpl = string(*b.RecurringTemplateID)
	}
	inLat, inLng := geoCols(b.CheckInLocation)
	outLat, outLng := geoCols(b.CheckOutLocation)

	_, err = q.c.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.ID), string(b.ClientID), string(b.CleanerID), string(b.Status),
		fmtTime(b.ScheduledStart), b.DurationHours, b.HourlyRate, b.AddOns,
		b.EstimatedPrice, nullInt(b.FinalPrice), b.EscrowHeld,
		nullTime(b.CheckedInAt), nullTime(b.CheckedOutAt), nullTime(b.CompletedAt),
		inLat, inLng, outLat, outLng,
		photos, boolInt(b.PaymentCaptured), nullInt(b.CancellationFee),
		string(b.CancelledBy), b.CancelReason, b.DisputeReason,
		boolInt(b.ClientConfirmed), boolInt(b.CleanerConfirmed), tpl,
		fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt))
	return err
}

func (q queries) UpdateBooking(ctx context.Context, b engine.Booking) error {
	photos, err := marshalPhotos(b.CompletionPhotos)
	if err != nil {
		return err
	}
	inLat, inLng := geoCols(b.CheckInLocation)
	outLat, outLng := geoCols(b.CheckOutLocation)

	res, err := q.c.ExecContext(ctx, `
		UPDATE bookings SET
			status = ?, final_price = ?, escrow_held = ?,
			checked_in_at = ?, checked_out_at = ?, completed_at = ?,
			check_in_lat = ?, check_in_lng = ?, check_out_lat = ?, check_out_lng = ?,
			completion_photos = ?, payment_captured = ?, cancellation_fee = ?,
			cancelled_by = ?, cancel_reason = ?, dispute_reason = ?,
			client_confirmed = ?, cleaner_confirmed = ?, updated_at = ?
		WHERE id = ?`,
		string(b.Status), nullInt(b.FinalPrice), b.EscrowHeld,
		nullTime(b.CheckedInAt), nullTime(b.CheckedOutAt), nullTime(b.CompletedAt),
		inLat, inLng, outLat, outLng,
		photos, boolInt(b.PaymentCaptured), nullInt(b.CancellationFee),
		string(b.CancelledBy), b.CancelReason, b.DisputeReason,
		boolInt(b.ClientConfirmed), boolInt(b.CleanerConfirmed), fmtTime(b.UpdatedAt),
		string(b.ID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &engine.NotFoundError{Kind: "booking", ID: string(b.ID)}
	}
	return nil
}

func (q queries) GetBooking(ctx context.Context, id engine.BookingID) (*engine.Booking, error) {
	rows, err := q.c.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &engine.NotFoundError{Kind: "booking", ID: string(id)}
	}
	b, err := scanBooking(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (q queries) BookingsInStatus(ctx context.Context, statuses ...engine.BookingStatus) ([]engine.Booking, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, 0, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(st))
	}

	rows, err := q.c.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status IN (`+placeholders+`) ORDER BY created_at`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q queries) BookingForOccurrence(ctx context.Context, tpl engine.TemplateID, date time.Time) (*engine.Booking, error) {
	rows, err := q.c.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE recurring_template_id = ? AND DATE(scheduled_start) = DATE(?)`,
		string(tpl), fmtTime(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &engine.NotFoundError{
			Kind: "booking",
			ID:   string(tpl) + "@" + date.UTC().Format("2006-01-02"),
		}
	}
	b, err := scanBooking(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBooking(rows *sql.Rows) (engine.Booking, error) {
	var (
		b                             engine.Booking
		id, client, cleaner, status   string
		scheduledStart                string
		finalPrice, cancellationFee   sql.NullInt64
		checkedIn, checkedOut, done   sql.NullString
		inLat, inLng, outLat, outLng  sql.NullFloat64
		photos, cancelledBy           string
		captured, clientOK, cleanerOK int
		tpl                           sql.NullString
		createdAt, updatedAt          string
	)
	if err := rows.Scan(&id, &client, &cleaner, &status, &scheduledStart,
		&b.DurationHours, &b.HourlyRate, &b.AddOns, &b.EstimatedPrice, &finalPrice,
		&b.EscrowHeld, &checkedIn, &checkedOut, &done,
		&inLat, &inLng, &outLat, &outLng,
		&photos, &captured, &cancellationFee,
		&cancelledBy, &b.CancelReason, &b.DisputeReason,
		&clientOK, &cleanerOK, &tpl,
		&createdAt, &updatedAt); err != nil {
		return engine.Booking{}, err
	}

	b.ID = engine.BookingID(id)
	b.ClientID = engine.OwnerID(client)
	b.CleanerID = engine.OwnerID(cleaner)
	b.Status = engine.BookingStatus(status)
	b.CancelledBy = engine.Actor(cancelledBy)
	b.PaymentCaptured = captured != 0
	b.ClientConfirmed = clientOK != 0
	b.CleanerConfirmed = cleanerOK != 0

	if finalPrice.Valid {
		v := finalPrice.Int64
		b.FinalPrice = &v
	}
	if cancellationFee.Valid {
		v := cancellationFee.Int64
		b.CancellationFee = &v
	}
	if tpl.Valid {
		t := engine.TemplateID(tpl.String)
		b.RecurringTemplateID = &t
	}
	if inLat.Valid && inLng.Valid {
		b.CheckInLocation = &engine.GeoPoint{Lat: inLat.Float64, Lng: inLng.Float64}
	}
	if outLat.Valid && outLng.Valid {
		b.CheckOutLocation = &engine.GeoPoint{Lat: outLat.Float64, Lng: outLng.Float64}
	}
	if err := json.Unmarshal([]byte(photos), &b.CompletionPhotos); err != nil {
		return engine.Booking{}, err
	}

	var err error
	if b.ScheduledStart, err = parseTime(scheduledStart); err != nil {
		return engine.Booking{}, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return engine.Booking{}, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return engine.Booking{}, err
	}
	if b.CheckedInAt, err = parseNullTime(checkedIn); err != nil {
		return engine.Booking{}, err
	}
	if b.CheckedOutAt, err = parseNullTime(checkedOut); err != nil {
		return engine.Booking{}, err
	}
	if b.CompletedAt, err = parseNullTime(done); err != nil {
		return engine.Booking{}, err
	}
	return b, nil
}

// ---- Clients ----

func (q queries) GetClient(ctx context.Context, id engine.OwnerID) (*engine.ClientProfile, error) {
	var (
		p         engine.ClientProfile
		pid       string
		createdAt string
	)
	err := q.c.QueryRowContext(ctx, `
		SELECT id, grace_cancellations_remaining, created_at FROM clients WHERE id = ?`,
		string(id)).Scan(&pid, &p.GraceCancellationsRemaining, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &engine.NotFoundError{Kind: "client", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	p.ID = engine.OwnerID(pid)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (q queries) PutClient(ctx context.Context, p engine.ClientProfile) error {
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO clients (id, grace_cancellations_remaining, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			grace_cancellations_remaining = excluded.grace_cancellations_remaining`,
		string(p.ID), p.GraceCancellationsRemaining, fmtTime(p.CreatedAt))
	return err
}

// ---- Templates ----

const templateColumns = `id, client_id, cleaner_id, frequency, next_occurrence,
	active, duration_hours, hourly_rate, add_ons, estimated_price, created_at`

func (q queries) GetTemplate(ctx context.Context, id engine.TemplateID) (*engine.RecurringTemplate, error) {
	rows, err := q.c.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &engine.NotFoundError{Kind: "template", ID: string(id)}
	}
	t, err := scanTemplate(rows)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (q queries) PutTemplate(ctx context.Context, t engine.RecurringTemplate) error {
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			next_occurrence = excluded.next_occurrence,
			active = excluded.active`,
		string(t.ID), string(t.ClientID), string(t.CleanerID), string(t.Frequency),
		fmtTime(t.NextOccurrence), boolInt(t.Active),
		t.DurationHours, t.HourlyRate, t.AddOns, t.EstimatedPrice,
		fmtTime(t.CreatedAt))
	return err
}

func (q queries) ActiveTemplates(ctx context.Context) ([]engine.RecurringTemplate, error) {
	rows, err := q.c.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE active = 1 ORDER BY next_occurrence`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTemplate(rows *sql.Rows) (engine.RecurringTemplate, error) {
	var (
		t                   engine.RecurringTemplate
		id, client, cleaner string
		frequency           string
		nextOccurrence      string
		active              int
		createdAt           string
	)
	if err := rows.Scan(&id, &client, &cleaner, &frequency, &nextOccurrence,
		&active, &t.DurationHours, &t.HourlyRate, &t.AddOns, &t.EstimatedPrice,
		&createdAt); err != nil {
		return engine.RecurringTemplate{}, err
	}
	t.ID = engine.TemplateID(id)
	t.ClientID = engine.OwnerID(client)
	t.CleanerID = engine.OwnerID(cleaner)
	t.Frequency = engine.Frequency(frequency)
	t.Active = active != 0

	var err error
	if t.NextOccurrence, err = parseTime(nextOccurrence); err != nil {
		return engine.RecurringTemplate{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return engine.RecurringTemplate{}, err
	}
	return t, nil
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func geoCols(g *engine.GeoPoint) (any, any) {
	if g == nil {
		return nil, nil
	}
	return g.Lat, g.Lng
}

func marshalPhotos(photos []string) (string, error) {
	if photos == nil {
		photos = []string{}
	}
	raw, err := json.Marshal(photos)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
