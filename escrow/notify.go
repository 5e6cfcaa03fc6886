package escrow

import (
	"context"
	"log"
)

// =============================================================================
// NOTIFICATION DISPATCHER - External collaborator, interface only
// =============================================================================

// Event types published after committed transitions.
const (
	EventBookingRequested = "booking_requested"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingDeclined  = "booking_declined"
	EventCleanerArrived   = "cleaner_arrived"
	EventReviewRequested  = "review_requested"
	EventPaymentReleased  = "payment_released"
	EventBookingCancelled = "booking_cancelled"
	EventDisputeFiled     = "dispute_filed"
	EventDisputeResolved  = "dispute_resolved"
)

// Notifier delivers best-effort notifications. It is called AFTER the state
// transition commits: a delivery failure is logged and never retried
// synchronously, a financial-transition failure never sends a notification.
type Notifier interface {
	Notify(ctx context.Context, recipient string, eventType string, payload map[string]any) error
}

// LogNotifier writes notifications to the process log. The real dispatcher
// (email/SMS/push) lives outside this core.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, recipient, eventType string, payload map[string]any) error {
	log.Printf("[Notify] %s -> %s %v", eventType, recipient, payload)
	return nil
}

// NopNotifier discards everything. Used in tests.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string, map[string]any) error { return nil }
