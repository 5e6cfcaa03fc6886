package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cleanslate/escrow-engine/engine"
)

// =============================================================================
// RECURRING TEMPLATES
// =============================================================================

type CreateTemplateRequest struct {
	ClientID       engine.OwnerID
	CleanerID      engine.OwnerID
	Frequency      engine.Frequency
	FirstOccurrence time.Time
	DurationHours  int
	HourlyRate     int64
	AddOns         int64
}

// CreateTemplate registers a recurring/subscription template. The generator
// sweep materializes the concrete bookings; next_occurrence starts at the
// first requested date.
func (s *Service) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*engine.RecurringTemplate, error) {
	switch req.Frequency {
	case engine.FreqWeekly, engine.FreqBiweekly, engine.FreqMonthly:
	default:
		return nil, fmt.Errorf("create template: unknown frequency %q", req.Frequency)
	}
	if req.ClientID == "" || req.CleanerID == "" {
		return nil, fmt.Errorf("create template: client and cleaner are required")
	}
	if req.DurationHours <= 0 || req.HourlyRate <= 0 {
		return nil, fmt.Errorf("create template: duration and rate must be positive")
	}
	if err := s.ensureClient(ctx, req.ClientID); err != nil {
		return nil, err
	}

	t := engine.RecurringTemplate{
		ID:             engine.TemplateID(uuid.NewString()),
		ClientID:       req.ClientID,
		CleanerID:      req.CleanerID,
		Frequency:      req.Frequency,
		NextOccurrence: req.FirstOccurrence,
		Active:         true,
		DurationHours:  req.DurationHours,
		HourlyRate:     req.HourlyRate,
		AddOns:         req.AddOns,
		EstimatedPrice: engine.EstimatePrice(req.DurationHours, req.HourlyRate, req.AddOns),
		CreatedAt:      s.Clock.Now(),
	}
	if err := s.Store.PutTemplate(ctx, t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeactivateTemplate stops future generation. Existing bookings are
// unaffected; the client cancels those individually.
func (s *Service) DeactivateTemplate(ctx context.Context, id engine.TemplateID) (*engine.RecurringTemplate, error) {
	t, err := s.Store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Active = false
	if err := s.Store.PutTemplate(ctx, *t); err != nil {
		return nil, err
	}
	return t, nil
}
