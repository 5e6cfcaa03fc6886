/*
handlers_test.go - HTTP-level tests for the booking API

Tests drive the full stack (router -> handler -> service -> store) against
the in-memory store, asserting on status codes and JSON payloads.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanslate/escrow-engine/api"
	"github.com/cleanslate/escrow-engine/engine"
	memstore "github.com/cleanslate/escrow-engine/engine/store"
	"github.com/cleanslate/escrow-engine/escrow"
	"github.com/cleanslate/escrow-engine/sweep"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var apiStart = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *engine.FixedClock) {
	t.Helper()
	store := memstore.NewMemory()
	clock := &engine.FixedClock{T: apiStart}

	svc := escrow.NewService(store, clock, escrow.NopNotifier{})
	handler := api.NewHandler(svc,
		sweep.NewSettlementTimer(store, clock, escrow.NopNotifier{}),
		sweep.NewExpirySweep(store, clock, escrow.NopNotifier{}),
		sweep.NewRecurringGenerator(store, clock))

	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, clock
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func purchaseCredits(t *testing.T, base, owner string, amount int64) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, base+"/api/accounts/"+owner+"/purchase", api.PurchaseRequest{
		Amount:         amount,
		IdempotencyKey: "test-topup-" + owner,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func createBooking(t *testing.T, base string) api.BookingDTO {
	t.Helper()
	var b api.BookingDTO
	resp := doJSON(t, http.MethodPost, base+"/api/bookings", api.CreateBookingDTO{
		ClientID:       "client-1",
		CleanerID:      "cleaner-1",
		ScheduledStart: apiStart.Add(96 * time.Hour),
		DurationHours:  4,
		HourlyRate:     25,
	}, &b)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return b
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

func TestAPI_PurchaseAndBalance(t *testing.T) {
	srv, _ := newTestServer(t)

	purchaseCredits(t, srv.URL, "client-1", 300)

	var bal api.BalanceDTO
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/accounts/client-1/balance", nil, &bal)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(300), bal.Balance)
}

func TestAPI_Purchase_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts/client-1/purchase",
		api.PurchaseRequest{Amount: -5, IdempotencyKey: "k"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/accounts/client-1/purchase",
		api.PurchaseRequest{Amount: 100}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing idempotency key")
}

func TestAPI_EntryHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	purchaseCredits(t, srv.URL, "client-1", 300)
	createBooking(t, srv.URL)

	var page api.EntryPageDTO
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/accounts/client-1/entries", nil, &page)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, page.Entries, 2, "purchase + escrow hold")
	assert.Equal(t, "purchase", page.Entries[0].Kind)
	assert.Equal(t, "charge", page.Entries[1].Kind)
	assert.Equal(t, int64(200), page.Entries[1].BalanceAfter)
}

// =============================================================================
// BOOKING ENDPOINTS
// =============================================================================

func TestAPI_CreateBooking_HoldPlaced(t *testing.T) {
	srv, _ := newTestServer(t)
	purchaseCredits(t, srv.URL, "client-1", 300)

	b := createBooking(t, srv.URL)
	assert.Equal(t, "awaiting_cleaner_response", b.Status)
	assert.Equal(t, int64(100), b.EscrowHeld)
	assert.Equal(t, int64(100), b.EstimatedPrice)
}

func TestAPI_CreateBooking_InsufficientFunds(t *testing.T) {
	srv, _ := newTestServer(t)
	purchaseCredits(t, srv.URL, "client-1", 10)

	var errResp api.ErrorResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/bookings", api.CreateBookingDTO{
		ClientID:       "client-1",
		CleanerID:      "cleaner-1",
		ScheduledStart: apiStart.Add(96 * time.Hour),
		DurationHours:  4,
		HourlyRate:     25,
	}, &errResp)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.NotEmpty(t, errResp.Error)
}

func TestAPI_GetBooking_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/bookings/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_FullLifecycle(t *testing.T) {
	// Purchase -> book -> accept -> check in/out -> completion -> approve,
	// all over HTTP.
	srv, clock := newTestServer(t)
	purchaseCredits(t, srv.URL, "client-1", 300)
	b := createBooking(t, srv.URL)
	base := srv.URL + "/api/bookings/" + b.ID

	var state api.BookingDTO
	resp := doJSON(t, http.MethodPost, base+"/respond", api.RespondRequest{Accept: true}, &state)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "scheduled", state.Status)

	clock.T = apiStart.Add(96 * time.Hour)
	resp = doJSON(t, http.MethodPost, base+"/checkin", api.GeoDTO{Lat: 40.71, Lng: -74.0}, &state)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in_progress", state.Status)

	clock.Advance(3 * time.Hour)
	resp = doJSON(t, http.MethodPost, base+"/checkout", api.GeoDTO{Lat: 40.71, Lng: -74.0}, &state)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", state.Status)

	resp = doJSON(t, http.MethodPost, base+"/completion", api.CompletionRequest{Photos: []string{"done.jpg"}}, &state)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "awaiting_client_review", state.Status)

	var settled api.SettlementDTO
	resp = doJSON(t, http.MethodPost, base+"/approve", nil, &settled)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, settled.AlreadySettled)
	assert.Equal(t, int64(75), settled.FinalPrice, "3 actual hours x 25")
	assert.Equal(t, "approved", settled.Booking.Status)

	// Second approve reports the settled outcome instead of failing.
	resp = doJSON(t, http.MethodPost, base+"/approve", nil, &settled)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, settled.AlreadySettled)

	var bal api.BalanceDTO
	doJSON(t, http.MethodGet, srv.URL+"/api/accounts/cleaner-1/balance", nil, &bal)
	assert.Equal(t, int64(75), bal.Balance)
}

func TestAPI_Cancel_BadActor(t *testing.T) {
	srv, _ := newTestServer(t)
	purchaseCredits(t, srv.URL, "client-1", 300)
	b := createBooking(t, srv.URL)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/bookings/"+b.ID+"/cancel",
		api.CancelRequest{Actor: "burglar"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Cancel_ReportsFeeBreakdown(t *testing.T) {
	srv, clock := newTestServer(t)
	purchaseCredits(t, srv.URL, "client-1", 300)
	b := createBooking(t, srv.URL)

	// Inside the late window with default grace available: waived.
	clock.T = apiStart.Add(96*time.Hour - 30*time.Hour)
	var result api.CancellationDTO
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/bookings/"+b.ID+"/cancel",
		api.CancelRequest{Actor: "client"}, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, result.Fee)
	assert.True(t, result.UsedGrace)
	assert.Equal(t, "cancelled", result.Booking.Status)
}

func TestAPI_DisputeFlow(t *testing.T) {
	srv, clock := newTestServer(t)
	purchaseCredits(t, srv.URL, "client-1", 300)
	b := createBooking(t, srv.URL)
	base := srv.URL + "/api/bookings/" + b.ID

	doJSON(t, http.MethodPost, base+"/respond", api.RespondRequest{Accept: true}, nil)
	clock.T = apiStart.Add(96 * time.Hour)
	doJSON(t, http.MethodPost, base+"/checkin", api.GeoDTO{Lat: 40.71, Lng: -74.0}, nil)
	clock.Advance(3 * time.Hour)
	doJSON(t, http.MethodPost, base+"/checkout", api.GeoDTO{Lat: 40.71, Lng: -74.0}, nil)
	doJSON(t, http.MethodPost, base+"/completion", api.CompletionRequest{Photos: []string{"p.jpg"}}, nil)

	var state api.BookingDTO
	resp := doJSON(t, http.MethodPost, base+"/dispute", api.DisputeRequest{Reason: "bathroom untouched"}, &state)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disputed", state.Status)

	resp = doJSON(t, http.MethodPost, base+"/resolve", api.ResolveRequest{Outcome: "bogus"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/resolve", api.ResolveRequest{Outcome: "cancelled"}, &state)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", state.Status)
}

// =============================================================================
// TEMPLATE AND ADMIN ENDPOINTS
// =============================================================================

func TestAPI_Templates_CreateAndGenerate(t *testing.T) {
	srv, _ := newTestServer(t)
	purchaseCredits(t, srv.URL, "client-1", 500)

	var tpl api.TemplateDTO
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/templates", api.CreateTemplateDTO{
		ClientID:        "client-1",
		CleanerID:       "cleaner-1",
		Frequency:       "weekly",
		FirstOccurrence: apiStart.Add(3 * 24 * time.Hour),
		DurationHours:   2,
		HourlyRate:      30,
	}, &tpl)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, tpl.Active)

	var generated struct {
		Generated []api.BookingDTO `json:"generated"`
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/admin/sweeps/recurring", nil, &generated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, generated.Generated, 2, "two occurrences inside the 14-day lookahead")

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/templates/"+tpl.ID+"/deactivate", nil, &tpl)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, tpl.Active)
}

func TestAPI_AdminSweeps_RunAndReport(t *testing.T) {
	srv, _ := newTestServer(t)

	var report struct {
		Expired int `json:"Expired"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/sweeps/expiry", nil, &report)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, report.Expired)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/admin/sweeps/settlement", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_MetricsEndpointExposed(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
