/*
handlers.go - HTTP API handlers for the escrow settlement engine

PURPOSE:
  Exposes the booking lifecycle and credit ledger via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    POST   /api/accounts/{id}/purchase   Buy credits (idempotent)
    GET    /api/accounts/{id}/balance    Current balance
    GET    /api/accounts/{id}/entries    Ledger history (cursor paginated)

  Bookings:
    POST   /api/bookings                 Create booking + escrow hold
    GET    /api/bookings/{id}            Booking details
    POST   /api/bookings/{id}/respond    Cleaner accept/decline
    POST   /api/bookings/{id}/checkin    Cleaner arrival (GPS)
    POST   /api/bookings/{id}/checkout   Cleaner departure (GPS)
    POST   /api/bookings/{id}/completion Completion photos
    POST   /api/bookings/{id}/approve    Client approval -> settlement
    POST   /api/bookings/{id}/cancel     Cancellation with fee policy
    POST   /api/bookings/{id}/dispute    File a dispute
    POST   /api/bookings/{id}/resolve    Admin dispute resolution

  Templates:
    POST   /api/templates                Create recurring template
    POST   /api/templates/{id}/deactivate

  Admin:
    POST   /api/admin/sweeps/settlement  Run the settlement timer now
    POST   /api/admin/sweeps/expiry      Run the expiry/no-show sweep now
    POST   /api/admin/sweeps/recurring   Generate due recurring bookings now

ERROR HANDLING:
  Domain errors map to HTTP status:
  - 400: Validation errors, invalid input
  - 402: Insufficient credits
  - 404: Booking/account not found
  - 409: Stale state (lost a compare-and-set race)
  - 500: Invariant violations and internal errors (logged loudly)
  Duplicate operations are not errors at this layer: the service returns
  the original outcome and the handler serves it with 200.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cleanslate/escrow-engine/engine"
	"github.com/cleanslate/escrow-engine/escrow"
	"github.com/cleanslate/escrow-engine/sweep"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service    *escrow.Service
	Settlement *sweep.SettlementTimer
	Expiry     *sweep.ExpirySweep
	Recurring  *sweep.RecurringGenerator
}

// NewHandler creates a new handler around the escrow service and sweeps.
func NewHandler(svc *escrow.Service, settlement *sweep.SettlementTimer, expiry *sweep.ExpirySweep, recurring *sweep.RecurringGenerator) *Handler {
	return &Handler{
		Service:    svc,
		Settlement: settlement,
		Expiry:     expiry,
		Recurring:  recurring,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// PurchaseCredits tops up a balance. Retries with the same idempotency key
// return the original entry.
func (h *Handler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	owner := engine.OwnerID(chi.URLParam(r, "id"))

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "Amount must be positive", nil)
		return
	}
	if req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "Idempotency key is required", nil)
		return
	}

	entry, balance, err := h.Service.PurchaseCredits(r.Context(), owner, req.Amount, req.IdempotencyKey)
	if err != nil {
		writeDomainError(w, "Failed to purchase credits", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entry":   toEntryDTO(entry),
		"balance": balance,
	})
}

// GetBalance returns the projected balance for an owner.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner := engine.OwnerID(chi.URLParam(r, "id"))

	balance, err := h.Service.Balance(r.Context(), owner)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{OwnerID: string(owner), Balance: balance})
}

// GetEntries returns a page of the owner's ledger history.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	owner := engine.OwnerID(chi.URLParam(r, "id"))
	cursor := r.URL.Query().Get("cursor")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	entries, next, err := h.Service.EntryHistory(r.Context(), owner, cursor, limit)
	if err != nil {
		writeDomainError(w, "Failed to list entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, EntryPageDTO{Entries: dtos, NextCursor: next})
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking creates a booking and places the escrow hold.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Service.CreateBooking(r.Context(), escrow.CreateBookingRequest{
		ClientID:       engine.OwnerID(req.ClientID),
		CleanerID:      engine.OwnerID(req.CleanerID),
		ScheduledStart: req.ScheduledStart,
		DurationHours:  req.DurationHours,
		HourlyRate:     req.HourlyRate,
		AddOns:         req.AddOns,
	})
	if err != nil {
		writeDomainError(w, "Failed to create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(b))
}

// GetBooking returns a single booking.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	b, err := h.Service.GetBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// RespondToBooking records the cleaner's accept/decline decision.
func (h *Handler) RespondToBooking(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Service.RespondToBooking(r.Context(), id, req.Accept)
	if err != nil {
		writeDomainError(w, "Failed to respond to booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// CheckIn records the cleaner's arrival.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req GeoDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Service.CheckIn(r.Context(), id, engine.GeoPoint{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeDomainError(w, "Failed to check in", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// CheckOut records the cleaner's departure; actual hours come from the
// check-in/check-out timestamps.
func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req GeoDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Service.CheckOut(r.Context(), id, engine.GeoPoint{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeDomainError(w, "Failed to check out", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// SubmitCompletion attaches completion photos and hands the booking to the
// client for review.
func (h *Handler) SubmitCompletion(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Service.SubmitCompletion(r.Context(), id, req.Photos)
	if err != nil {
		writeDomainError(w, "Failed to submit completion", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// ApprovePayment settles the booking on client approval. Losing the race
// against the settlement timer is not an error; the response carries
// already_settled instead.
func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	result, err := h.Service.ApprovePayment(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to approve payment", err)
		return
	}
	writeJSON(w, http.StatusOK, SettlementDTO{
		Booking:        toBookingDTO(result.Booking),
		FinalPrice:     result.FinalPrice,
		AlreadySettled: result.AlreadySettled,
	})
}

// CancelBooking cancels with the time-based fee policy. A repeated cancel
// returns the recorded outcome with already_cancelled set.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	actor := engine.Actor(req.Actor)
	switch actor {
	case engine.ActorClient, engine.ActorCleaner, engine.ActorAdmin:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid actor %q", req.Actor), nil)
		return
	}

	result, err := h.Service.CancelBooking(r.Context(), id, actor, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, CancellationDTO{
		Booking:          toBookingDTO(result.Booking),
		Fee:              result.Fee,
		UsedGrace:        result.UsedGrace,
		Reason:           result.Reason,
		AlreadyCancelled: result.AlreadyCancelled,
	})
}

// FileDispute freezes settlement pending external resolution.
func (h *Handler) FileDispute(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "Dispute reason is required", nil)
		return
	}

	b, err := h.Service.FileDispute(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to file dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// ResolveDispute applies the admin's resolution: settle or refund.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	outcome := escrow.DisputeOutcome(req.Outcome)
	if outcome != escrow.DisputeSettle && outcome != escrow.DisputeRefund {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid outcome %q", req.Outcome), nil)
		return
	}

	b, err := h.Service.ResolveDispute(r.Context(), id, outcome)
	if err != nil {
		writeDomainError(w, "Failed to resolve dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// =============================================================================
// TEMPLATE HANDLERS
// =============================================================================

// CreateTemplate registers a recurring cleaning subscription.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t, err := h.Service.CreateTemplate(r.Context(), escrow.CreateTemplateRequest{
		ClientID:        engine.OwnerID(req.ClientID),
		CleanerID:       engine.OwnerID(req.CleanerID),
		Frequency:       engine.Frequency(req.Frequency),
		FirstOccurrence: req.FirstOccurrence,
		DurationHours:   req.DurationHours,
		HourlyRate:      req.HourlyRate,
		AddOns:          req.AddOns,
	})
	if err != nil {
		writeDomainError(w, "Failed to create template", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateDTO(t))
}

// DeactivateTemplate stops future generation; existing bookings keep their
// own lifecycle.
func (h *Handler) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	id := engine.TemplateID(chi.URLParam(r, "id"))

	t, err := h.Service.DeactivateTemplate(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to deactivate template", err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateDTO(t))
}

// =============================================================================
// ADMIN SWEEP HANDLERS
// =============================================================================

// RunSettlementSweep runs the auto-settlement pass once.
func (h *Handler) RunSettlementSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.Settlement.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Settlement sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RunExpirySweep runs the unconfirmed-expiry and no-show pass once.
func (h *Handler) RunExpirySweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.Expiry.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Expiry sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RunRecurringSweep materializes due recurring bookings once.
func (h *Handler) RunRecurringSweep(w http.ResponseWriter, r *http.Request) {
	generated, err := h.Recurring.GenerateDueBookings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Recurring generation failed", err)
		return
	}
	dtos := make([]BookingDTO, len(generated))
	for i := range generated {
		dtos[i] = toBookingDTO(&generated[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"generated": dtos})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case engine.IsInsufficientFunds(err):
		writeError(w, http.StatusPaymentRequired, message, err)
	case engine.IsStale(err):
		writeError(w, http.StatusConflict, message, err)
	case engine.IsInvariantViolation(err):
		// Money-safety rule tripped; surface loudly for operators.
		log.Printf("[API] INVARIANT VIOLATION: %v", err)
		writeError(w, http.StatusInternalServerError, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
