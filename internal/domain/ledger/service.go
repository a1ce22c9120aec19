package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service owns all writes to the event store and the snapshot reads the
// reconciliation engine consumes. Writes are append-only; after a
// successful write the notifier is told which claims changed.
type Service struct {
	claims        ClaimRepository
	activities    ActivityRepository
	remittances   RemittanceRepository
	resubmissions ResubmissionRepository
	notifier      Notifier
	log           zerolog.Logger
}

func NewService(claims ClaimRepository, acts ActivityRepository, remits RemittanceRepository, resubs ResubmissionRepository, log zerolog.Logger) *Service {
	return &Service{
		claims:        claims,
		activities:    acts,
		remittances:   remits,
		resubmissions: resubs,
		log:           log,
	}
}

// SetNotifier attaches the change-notification sink (may be nil).
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SubmitClaim records a new claim and its activities. A claim is immutable
// once created; resubmission is a separate event, not a new claim.
func (s *Service) SubmitClaim(ctx context.Context, c *Claim, acts []*Activity) error {
	if c.ClaimID == "" {
		return fmt.Errorf("claim_id is required")
	}
	if c.PayerID == "" || c.ProviderID == "" {
		return fmt.Errorf("payer_id and provider_id are required")
	}
	if c.Net.IsNegative() {
		return fmt.Errorf("claim %s: net amount must not be negative", c.ClaimID)
	}
	if len(acts) == 0 {
		return fmt.Errorf("claim %s: at least one activity is required", c.ClaimID)
	}
	seen := make(map[string]bool, len(acts))
	for _, a := range acts {
		if a.ActivityID == "" {
			return fmt.Errorf("claim %s: activity_id is required", c.ClaimID)
		}
		if seen[a.ActivityID] {
			return fmt.Errorf("claim %s: duplicate activity_id %s", c.ClaimID, a.ActivityID)
		}
		seen[a.ActivityID] = true
		if a.Net.IsNegative() {
			return fmt.Errorf("claim %s activity %s: net amount must not be negative", c.ClaimID, a.ActivityID)
		}
	}
	if c.SubmittedAt.IsZero() {
		c.SubmittedAt = time.Now().UTC()
	}
	if err := s.claims.Create(ctx, c, acts); err != nil {
		return err
	}
	s.log.Info().
		Str("claim_id", c.ClaimID).
		Int("activities", len(acts)).
		Str("net", c.Net.String()).
		Msg("claim submitted")
	s.notifyClaim(c.ID)
	return nil
}

// RemittanceBatch is one payer remittance advice: a settlement of many
// activities, possibly across many claims, under one batch id.
type RemittanceBatch struct {
	RemittanceID string                  `json:"remittance_id"`
	Claims       []RemittanceClaimInput  `json:"claims"`
}

type RemittanceClaimInput struct {
	ClaimID          string                     `json:"claim_id"` // external id
	PaymentReference string                     `json:"payment_reference"`
	DateSettlement   time.Time                  `json:"date_settlement"`
	Activities       []RemittanceActivityInput  `json:"activities"`
}

type RemittanceActivityInput struct {
	ActivityID    string          `json:"activity_id"` // external id, unique within claim
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	DenialCode    *string         `json:"denial_code,omitempty"`
}

// AppendRemittance appends one remittance batch to the store. Lines
// referencing unknown claims or activities are logged and skipped so one
// bad record cannot block the rest of the batch; the error from Append
// covers only storage failures.
func (s *Service) AppendRemittance(ctx context.Context, batch *RemittanceBatch) (int, error) {
	if batch.RemittanceID == "" {
		return 0, fmt.Errorf("remittance_id is required")
	}
	var (
		events  []*RemittanceEvent
		touched = make(map[uuid.UUID]bool)
	)
	for _, rc := range batch.Claims {
		cl, err := s.claims.GetByClaimID(ctx, rc.ClaimID)
		if err != nil {
			s.log.Warn().
				Str("remittance_id", batch.RemittanceID).
				Str("claim_id", rc.ClaimID).
				Msg("remittance references unknown claim, skipping")
			continue
		}
		settledAt := rc.DateSettlement
		if settledAt.IsZero() {
			settledAt = time.Now().UTC()
		}
		for _, ra := range rc.Activities {
			act, err := s.activities.GetByClaimAndActivityID(ctx, cl.ID, ra.ActivityID)
			if err != nil {
				s.log.Warn().
					Str("remittance_id", batch.RemittanceID).
					Str("claim_id", rc.ClaimID).
					Str("activity_id", ra.ActivityID).
					Msg("remittance references unknown activity, skipping")
				continue
			}
			events = append(events, &RemittanceEvent{
				ID:               uuid.New(),
				ClaimID:          cl.ID,
				ActivityID:       act.ID,
				RemittanceID:     batch.RemittanceID,
				PaymentReference: rc.PaymentReference,
				PaymentAmount:    ra.PaymentAmount,
				DenialCode:       ra.DenialCode,
				DateSettlement:   settledAt,
			})
			touched[cl.ID] = true
		}
	}
	if len(events) == 0 {
		return 0, nil
	}
	if err := s.remittances.Append(ctx, events); err != nil {
		return 0, err
	}
	s.log.Info().
		Str("remittance_id", batch.RemittanceID).
		Int("events", len(events)).
		Int("claims", len(touched)).
		Msg("remittance appended")
	for id := range touched {
		s.notifyClaim(id)
	}
	return len(events), nil
}

// AppendResubmission records a provider resubmission against a claim.
func (s *Service) AppendResubmission(ctx context.Context, claimID uuid.UUID, resubType, comment string) (*ResubmissionEvent, error) {
	if resubType == "" {
		return nil, fmt.Errorf("resubmission_type is required")
	}
	if comment == "" {
		return nil, fmt.Errorf("comment is required")
	}
	if _, err := s.claims.GetByID(ctx, claimID); err != nil {
		return nil, err
	}
	ev := &ResubmissionEvent{
		ID:      uuid.New(),
		ClaimID: claimID,
		Type:    resubType,
		Comment: comment,
	}
	if err := s.resubmissions.Append(ctx, ev); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("claim_id", claimID.String()).
		Str("resubmission_type", resubType).
		Msg("resubmission appended")
	s.notifyClaim(claimID)
	return ev, nil
}

// Snapshot assembles the current event-store state for one claim.
func (s *Service) Snapshot(ctx context.Context, claimID uuid.UUID) (*ClaimSnapshot, error) {
	cl, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	acts, err := s.activities.ListByClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	events, err := s.remittances.ListByClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	resubs, err := s.resubmissions.ListByClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	byActivity := make(map[uuid.UUID][]*RemittanceEvent)
	for _, ev := range events {
		byActivity[ev.ActivityID] = append(byActivity[ev.ActivityID], ev)
	}
	return &ClaimSnapshot{
		Claim:         cl,
		Activities:    acts,
		Remittances:   byActivity,
		Resubmissions: resubs,
	}, nil
}

// OwnerOfActivity resolves an activity to its owning claim.
func (s *Service) OwnerOfActivity(ctx context.Context, activityID uuid.UUID) (uuid.UUID, error) {
	act, err := s.activities.GetByID(ctx, activityID)
	if err != nil {
		return uuid.Nil, err
	}
	return act.ClaimID, nil
}

// ClaimIDs lists every claim in the store.
func (s *Service) ClaimIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.claims.ListIDs(ctx)
}

// ClaimIDsChangedSince lists claims touched by any event since the given time.
func (s *Service) ClaimIDsChangedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	return s.claims.ListIDsChangedSince(ctx, since)
}

// GetClaim returns one claim with its activities.
func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, []*Activity, error) {
	cl, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	acts, err := s.activities.ListByClaim(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return cl, acts, nil
}

// GetClaimByClaimID returns one claim by its external identifier.
func (s *Service) GetClaimByClaimID(ctx context.Context, claimID string) (*Claim, error) {
	return s.claims.GetByClaimID(ctx, claimID)
}

// ListRemittanceEvents returns a claim's full remittance history.
func (s *Service) ListRemittanceEvents(ctx context.Context, claimID uuid.UUID) ([]*RemittanceEvent, error) {
	return s.remittances.ListByClaim(ctx, claimID)
}

// ListResubmissions returns a claim's resubmission history.
func (s *Service) ListResubmissions(ctx context.Context, claimID uuid.UUID) ([]*ResubmissionEvent, error) {
	return s.resubmissions.ListByClaim(ctx, claimID)
}

func (s *Service) notifyClaim(id uuid.UUID) {
	if s.notifier != nil {
		s.notifier.ClaimChanged(id)
	}
}
