/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/cleanslate/escrow-engine/engine"
)

// =============================================================================
// ACCOUNT TYPES
// =============================================================================

// PurchaseRequest tops up a credit balance.
type PurchaseRequest struct {
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// BalanceDTO is the current projected balance.
type BalanceDTO struct {
	OwnerID string `json:"owner_id"`
	Balance int64  `json:"balance"`
}

// EntryDTO represents one ledger entry.
type EntryDTO struct {
	ID               string `json:"id"`
	OwnerID          string `json:"owner_id"`
	Amount           int64  `json:"amount"`
	Kind             string `json:"kind"`
	RelatedBookingID string `json:"related_booking_id,omitempty"`
	Note             string `json:"note,omitempty"`
	BalanceAfter     int64  `json:"balance_after"`
	IdempotencyKey   string `json:"idempotency_key"`
	CreatedAt        string `json:"created_at"`
}

// EntryPageDTO is a cursor-paginated slice of the entry history.
type EntryPageDTO struct {
	Entries    []EntryDTO `json:"entries"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// =============================================================================
// BOOKING TYPES
// =============================================================================

// CreateBookingDTO is the request body for a new booking.
type CreateBookingDTO struct {
	ClientID       string    `json:"client_id"`
	CleanerID      string    `json:"cleaner_id"`
	ScheduledStart time.Time `json:"scheduled_start"`
	DurationHours  int       `json:"duration_hours"`
	HourlyRate     int64     `json:"hourly_rate"`
	AddOns         int64     `json:"add_ons"`
}

// RespondRequest is the cleaner's accept/decline decision.
type RespondRequest struct {
	Accept bool `json:"accept"`
}

// GeoDTO is a GPS coordinate attached to check-in/check-out.
type GeoDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CompletionRequest carries the cleaner's completion evidence.
type CompletionRequest struct {
	Photos []string `json:"photos"`
}

// CancelRequest identifies who is cancelling and why.
type CancelRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// DisputeRequest opens a dispute on a completed booking.
type DisputeRequest struct {
	Reason string `json:"reason"`
}

// ResolveRequest closes a dispute; outcome is "approved" or "cancelled".
type ResolveRequest struct {
	Outcome string `json:"outcome"`
}

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID              string  `json:"id"`
	ClientID        string  `json:"client_id"`
	CleanerID       string  `json:"cleaner_id"`
	Status          string  `json:"status"`
	ScheduledStart  string  `json:"scheduled_start"`
	DurationHours   int     `json:"duration_hours"`
	HourlyRate      int64   `json:"hourly_rate"`
	AddOns          int64   `json:"add_ons"`
	EstimatedPrice  int64   `json:"estimated_price"`
	FinalPrice      *int64  `json:"final_price,omitempty"`
	EscrowHeld      int64   `json:"escrow_held"`
	CheckedInAt     *string `json:"checked_in_at,omitempty"`
	CheckedOutAt    *string `json:"checked_out_at,omitempty"`
	CompletedAt     *string `json:"completed_at,omitempty"`
	PaymentCaptured bool    `json:"payment_captured"`
	CancellationFee *int64  `json:"cancellation_fee,omitempty"`
	CancelledBy     string  `json:"cancelled_by,omitempty"`
	CancelReason    string  `json:"cancel_reason,omitempty"`
	DisputeReason   string  `json:"dispute_reason,omitempty"`
	TemplateID      string  `json:"recurring_template_id,omitempty"`
}

// SettlementDTO reports an approval outcome, including the idempotent
// already-settled case.
type SettlementDTO struct {
	Booking        BookingDTO `json:"booking"`
	FinalPrice     int64      `json:"final_price"`
	AlreadySettled bool       `json:"already_settled"`
}

// CancellationDTO reports the fee breakdown of a cancellation.
type CancellationDTO struct {
	Booking          BookingDTO `json:"booking"`
	Fee              int64      `json:"fee"`
	UsedGrace        bool       `json:"used_grace"`
	Reason           string     `json:"reason"`
	AlreadyCancelled bool       `json:"already_cancelled"`
}

// =============================================================================
// TEMPLATE TYPES
// =============================================================================

// CreateTemplateDTO is the request body for a recurring template.
type CreateTemplateDTO struct {
	ClientID        string    `json:"client_id"`
	CleanerID       string    `json:"cleaner_id"`
	Frequency       string    `json:"frequency"`
	FirstOccurrence time.Time `json:"first_occurrence"`
	DurationHours   int       `json:"duration_hours"`
	HourlyRate      int64     `json:"hourly_rate"`
	AddOns          int64     `json:"add_ons"`
}

// TemplateDTO represents a recurring template in API responses.
type TemplateDTO struct {
	ID             string `json:"id"`
	ClientID       string `json:"client_id"`
	CleanerID      string `json:"cleaner_id"`
	Frequency      string `json:"frequency"`
	NextOccurrence string `json:"next_occurrence"`
	Active         bool   `json:"active"`
	DurationHours  int    `json:"duration_hours"`
	HourlyRate     int64  `json:"hourly_rate"`
	AddOns         int64  `json:"add_ons"`
	EstimatedPrice int64  `json:"estimated_price"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toEntryDTO(e engine.Entry) EntryDTO {
	dto := EntryDTO{
		ID:             string(e.ID),
		OwnerID:        string(e.OwnerID),
		Amount:         e.Amount,
		Kind:           string(e.Kind),
		Note:           e.Note,
		BalanceAfter:   e.BalanceAfter,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
	if e.RelatedBookingID != nil {
		dto.RelatedBookingID = string(*e.RelatedBookingID)
	}
	return dto
}

func toBookingDTO(b *engine.Booking) BookingDTO {
	dto := BookingDTO{
		ID:              string(b.ID),
		ClientID:        string(b.ClientID),
		CleanerID:       string(b.CleanerID),
		Status:          string(b.Status),
		ScheduledStart:  b.ScheduledStart.Format(time.RFC3339),
		DurationHours:   b.DurationHours,
		HourlyRate:      b.HourlyRate,
		AddOns:          b.AddOns,
		EstimatedPrice:  b.EstimatedPrice,
		FinalPrice:      b.FinalPrice,
		EscrowHeld:      b.EscrowHeld,
		CheckedInAt:     fmtTimePtr(b.CheckedInAt),
		CheckedOutAt:    fmtTimePtr(b.CheckedOutAt),
		CompletedAt:     fmtTimePtr(b.CompletedAt),
		PaymentCaptured: b.PaymentCaptured,
		CancellationFee: b.CancellationFee,
		CancelledBy:     string(b.CancelledBy),
		CancelReason:    b.CancelReason,
		DisputeReason:   b.DisputeReason,
	}
	if b.RecurringTemplateID != nil {
		dto.TemplateID = string(*b.RecurringTemplateID)
	}
	return dto
}

func toTemplateDTO(t *engine.RecurringTemplate) TemplateDTO {
	return TemplateDTO{
		ID:             string(t.ID),
		ClientID:       string(t.ClientID),
		CleanerID:      string(t.CleanerID),
		Frequency:      string(t.Frequency),
		NextOccurrence: t.NextOccurrence.Format(time.RFC3339),
		Active:         t.Active,
		DurationHours:  t.DurationHours,
		HourlyRate:     t.HourlyRate,
		AddOns:         t.AddOns,
		EstimatedPrice: t.EstimatedPrice,
	}
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
