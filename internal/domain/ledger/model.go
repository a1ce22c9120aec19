// Package ledger holds the append-only event store for the reconciliation
// engine: claim submissions, their billable activities, payer remittance
// events and provider resubmission events. Records are immutable once
// written; corrections arrive as new events, never as updates.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Claim is one submitted insurance claim. The submitted net amount lives
// here at claim grain and is never re-derived from child rows.
type Claim struct {
	ID           uuid.UUID       `json:"id"`
	ClaimID      string          `json:"claim_id"` // external payer-facing identifier
	PayerID      string          `json:"payer_id"`
	ProviderID   string          `json:"provider_id"`
	MemberID     *string         `json:"member_id,omitempty"`
	Gross        decimal.Decimal `json:"gross"`
	PatientShare decimal.Decimal `json:"patient_share"`
	Net          decimal.Decimal `json:"net"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Activity is one billable line item within a claim, unique by
// (claim, activity_id).
type Activity struct {
	ID         uuid.UUID       `json:"id"`
	ClaimID    uuid.UUID       `json:"claim_id"`
	ActivityID string          `json:"activity_id"` // unique within the claim
	StartAt    time.Time       `json:"start_at"`
	Type       string          `json:"type"`
	Code       string          `json:"code"`
	Quantity   decimal.Decimal `json:"quantity"`
	Net        decimal.Decimal `json:"net"`
	Clinician  string          `json:"clinician"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RemittanceEvent is one payer response to one activity at one point in
// time. PaymentAmount is signed: a negative amount is a take-back of a
// previously remitted payment.
type RemittanceEvent struct {
	ID               uuid.UUID       `json:"id"`
	ClaimID          uuid.UUID       `json:"claim_id"`
	ActivityID       uuid.UUID       `json:"activity_id"`
	RemittanceID     string          `json:"remittance_id"` // originating batch
	PaymentReference string          `json:"payment_reference"`
	PaymentAmount    decimal.Decimal `json:"payment_amount"`
	DenialCode       *string         `json:"denial_code,omitempty"`
	DateSettlement   time.Time       `json:"date_settlement"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Denied reports whether the event carries a denial code.
func (e *RemittanceEvent) Denied() bool {
	return e.DenialCode != nil && *e.DenialCode != ""
}

// ResubmissionEvent is a provider's re-filing of a rejected or partially
// paid claim.
type ResubmissionEvent struct {
	ID        uuid.UUID `json:"id"`
	ClaimID   uuid.UUID `json:"claim_id"`
	Type      string    `json:"resubmission_type"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// ClaimSnapshot is a point-in-time view of everything the reconciliation
// engine needs for one claim: the claim, its activities, each activity's
// remittance history and the claim's resubmission stream.
type ClaimSnapshot struct {
	Claim         *Claim
	Activities    []*Activity
	Remittances   map[uuid.UUID][]*RemittanceEvent // keyed by activity surrogate id
	Resubmissions []*ResubmissionEvent
}

// LatestEventAt returns the newest remittance event creation time for the
// given activity, or the zero time when the activity has no events.
func (s *ClaimSnapshot) LatestEventAt(activityID uuid.UUID) time.Time {
	var latest time.Time
	for _, ev := range s.Remittances[activityID] {
		if ev.CreatedAt.After(latest) {
			latest = ev.CreatedAt
		}
	}
	return latest
}
