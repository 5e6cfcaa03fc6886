package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanslate/escrow-engine/engine"
	memstore "github.com/cleanslate/escrow-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*engine.Ledger, *memstore.Memory, *engine.FixedClock) {
	t.Helper()
	store := memstore.NewMemory()
	clock := &engine.FixedClock{T: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)}
	return engine.NewLedger(store, clock), store, clock
}

func purchase(owner string, amount int64, key string) engine.Entry {
	return engine.Entry{
		OwnerID:        engine.OwnerID(owner),
		Amount:         amount,
		Kind:           engine.KindPurchase,
		IdempotencyKey: key,
	}
}

func charge(owner string, amount int64, key string) engine.Entry {
	return engine.Entry{
		OwnerID:        engine.OwnerID(owner),
		Amount:         -amount,
		Kind:           engine.KindCharge,
		IdempotencyKey: key,
	}
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestLedger_IdempotentRetry_ReturnsOriginalEntry(t *testing.T) {
	// GIVEN: A purchase already recorded under key "buy-1"
	// WHEN: The same operation is retried with the same key
	// THEN: The original entry comes back, the balance does not move

	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	first, balance, err := ledger.Append(ctx, purchase("client-1", 100, "buy-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	retry, balance, err := ledger.Append(ctx, purchase("client-1", 100, "buy-1"))
	assert.ErrorIs(t, err, engine.ErrDuplicateOperation)
	assert.Equal(t, first.ID, retry.ID, "retry should return the original entry")
	assert.Equal(t, int64(100), balance, "balance must not move on retry")
}

func TestLedger_DuplicateKey_DifferentAmount_StillReturnsOriginal(t *testing.T) {
	// The key wins over the payload: a retry with a mangled amount must not
	// create a second entry.
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	first, _, err := ledger.Append(ctx, purchase("client-1", 100, "buy-1"))
	require.NoError(t, err)

	retry, balance, err := ledger.Append(ctx, purchase("client-1", 999, "buy-1"))
	assert.ErrorIs(t, err, engine.ErrDuplicateOperation)
	assert.Equal(t, first.Amount, retry.Amount)
	assert.Equal(t, int64(100), balance)
}

// =============================================================================
// BALANCE AND OVERDRAFT TESTS
// =============================================================================

func TestLedger_Charge_InsufficientFunds(t *testing.T) {
	// GIVEN: A client with 50 credits
	// WHEN: A 100-credit charge is attempted
	// THEN: InsufficientFunds, and the balance is untouched

	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := ledger.Append(ctx, purchase("client-1", 50, "buy-1"))
	require.NoError(t, err)

	_, _, err = ledger.Append(ctx, charge("client-1", 100, "hold:b1"))
	assert.ErrorIs(t, err, engine.ErrInsufficientFunds)

	var fundErr *engine.InsufficientFundsError
	require.ErrorAs(t, err, &fundErr)
	assert.Equal(t, int64(50), fundErr.Balance)
	assert.Equal(t, int64(-100), fundErr.Requested)

	balance, err := ledger.Balance(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

func TestLedger_Adjustment_MayOverdraw(t *testing.T) {
	// Administrative adjustments are allowed to push a balance negative;
	// only charge-like kinds are overdraft-protected.
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, balance, err := ledger.Append(ctx, engine.Entry{
		OwnerID:        "cleaner-1",
		Amount:         -30,
		Kind:           engine.KindAdjustment,
		IdempotencyKey: "adj-1",
		Note:           "clawback",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-30), balance)
}

func TestLedger_BalanceAfter_TracksRunningBalance(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	e1, _, err := ledger.Append(ctx, purchase("client-1", 200, "buy-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(200), e1.BalanceAfter)

	e2, _, err := ledger.Append(ctx, charge("client-1", 80, "hold:b1"))
	require.NoError(t, err)
	assert.Equal(t, int64(120), e2.BalanceAfter)
}

func TestLedger_Validation(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		entry engine.Entry
	}{
		{"missing owner", engine.Entry{Amount: 10, Kind: engine.KindPurchase, IdempotencyKey: "k"}},
		{"zero amount", engine.Entry{OwnerID: "c", Kind: engine.KindPurchase, IdempotencyKey: "k"}},
		{"bad kind", engine.Entry{OwnerID: "c", Amount: 10, Kind: "bogus", IdempotencyKey: "k"}},
		{"missing key", engine.Entry{OwnerID: "c", Amount: 10, Kind: engine.KindPurchase}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ledger.Append(ctx, tc.entry)
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// HISTORY PAGINATION
// =============================================================================

func TestLedger_Entries_CursorPagination(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := ledger.Append(ctx, purchase("client-1", 10, "buy-"+string(rune('a'+i))))
		require.NoError(t, err)
	}

	page1, next, err := ledger.Entries(ctx, "client-1", "", 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	require.NotEmpty(t, next, "more pages expected")

	page2, next, err := ledger.Entries(ctx, "client-1", next, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	require.NotEmpty(t, next)

	page3, next, err := ledger.Entries(ctx, "client-1", next, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
	assert.Empty(t, next, "history exhausted")

	// No entry appears twice across pages.
	seen := map[engine.EntryID]bool{}
	for _, e := range append(append(page1, page2...), page3...) {
		assert.False(t, seen[e.ID], "entry %s paged twice", e.ID)
		seen[e.ID] = true
	}
}
