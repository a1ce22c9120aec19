// Package recon is the financial reconciliation core. It folds a claim's
// append-only remittance and resubmission history into derived,
// cap-safe aggregates at activity and claim grain: one ActivitySummary per
// activity, one ClaimPayment per claim. Aggregates are recomputed in full
// from current event-store state and never patched incrementally.
package recon

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActivityStatus is the categorical settlement state of one activity.
type ActivityStatus string

const (
	ActivityPending            ActivityStatus = "PENDING"
	ActivityPartiallyPaid      ActivityStatus = "PARTIALLY_PAID"
	ActivityFullyPaid          ActivityStatus = "FULLY_PAID"
	ActivityRejected           ActivityStatus = "REJECTED"
	ActivityTakenBack          ActivityStatus = "TAKEN_BACK"
	ActivityPartiallyTakenBack ActivityStatus = "PARTIALLY_TAKEN_BACK"
)

// PaymentStatus is the overall settlement state of one claim.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "PENDING"
	PaymentPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentFullyPaid     PaymentStatus = "FULLY_PAID"
	PaymentRejected      PaymentStatus = "REJECTED"
)

// ActivitySummary is the derived financial state of one activity: one
// current row per activity, owned entirely by the activity aggregation
// pass. Invariants: 0 <= PaidAmount <= SubmittedAmount, and
// DeniedAmount > 0 implies PaidAmount == 0.
type ActivitySummary struct {
	ActivityID      uuid.UUID       `json:"activity_id"`
	ClaimID         uuid.UUID       `json:"claim_id"`
	ActivityRef     string          `json:"activity_ref"` // external activity id
	SubmittedAmount decimal.Decimal `json:"submitted_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	DeniedAmount    decimal.Decimal `json:"denied_amount"`
	TakenBackAmount decimal.Decimal `json:"taken_back_amount"`
	RemittanceCount int             `json:"remittance_count"`
	DenialCodes     []string        `json:"denial_codes,omitempty"` // deduplicated, sorted
	Status          ActivityStatus  `json:"activity_status"`

	// Date fields are carried at activity grain so the claim pass never
	// reads raw remittance events.
	FirstRemittanceDate    *time.Time `json:"first_remittance_date,omitempty"`
	LastRemittanceDate     *time.Time `json:"last_remittance_date,omitempty"`
	FirstPaymentDate       *time.Time `json:"first_payment_date,omitempty"`
	LastPaymentDate        *time.Time `json:"last_payment_date,omitempty"`
	LatestSettlementDate   *time.Time `json:"latest_settlement_date,omitempty"`
	LatestPaymentReference string     `json:"latest_payment_reference,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

// Settled reports whether the activity has reached a terminal state.
func (s *ActivitySummary) Settled() bool {
	return s.Status == ActivityFullyPaid || s.Status == ActivityRejected
}

// ClaimPayment is the derived financial and lifecycle state of one claim:
// one current row per claim, recomputed from the current set of
// ActivitySummary rows. TotalPaid is the plain sum of activity paid
// amounts; RemittanceCount is the max across activities, never a sum.
type ClaimPayment struct {
	ClaimID        uuid.UUID       `json:"claim_id"`
	ClaimRef       string          `json:"claim_ref"` // external claim id
	TotalSubmitted decimal.Decimal `json:"total_submitted"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	TotalRejected  decimal.Decimal `json:"total_rejected"`
	TotalTakenBack decimal.Decimal `json:"total_taken_back"`
	TotalPending   decimal.Decimal `json:"total_pending"`

	TotalActivities             int `json:"total_activities"`
	PaidActivities              int `json:"paid_activities"`
	PartiallyPaidActivities     int `json:"partially_paid_activities"`
	RejectedActivities          int `json:"rejected_activities"`
	PendingActivities           int `json:"pending_activities"`
	TakenBackActivities         int `json:"taken_back_activities"`
	PartiallyTakenBackActivities int `json:"partially_taken_back_activities"`

	RemittanceCount   int `json:"remittance_count"`
	ResubmissionCount int `json:"resubmission_count"`
	ProcessingCycles  int `json:"processing_cycles"`

	Status PaymentStatus `json:"payment_status"`

	FirstRemittanceDate    *time.Time `json:"first_remittance_date,omitempty"`
	LastRemittanceDate     *time.Time `json:"last_remittance_date,omitempty"`
	FirstPaymentDate       *time.Time `json:"first_payment_date,omitempty"`
	LastPaymentDate        *time.Time `json:"last_payment_date,omitempty"`
	LatestSettlementDate   *time.Time `json:"latest_settlement_date,omitempty"`
	LatestPaymentReference string     `json:"latest_payment_reference,omitempty"`

	DaysToFirstPayment    *int `json:"days_to_first_payment,omitempty"`
	DaysToFinalSettlement *int `json:"days_to_final_settlement,omitempty"`

	Cycles []ResubmissionCycle `json:"resubmission_cycles,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

// OutstandingAmount is the submitted amount not yet paid.
func (p *ClaimPayment) OutstandingAmount() decimal.Decimal {
	return p.TotalSubmitted.Sub(p.TotalPaid)
}

// CompletionPercentage is the share of the submitted amount that has been
// paid, in the range 0-100. Zero-submitted claims report zero.
func (p *ClaimPayment) CompletionPercentage() decimal.Decimal {
	if p.TotalSubmitted.IsZero() {
		return decimal.Zero
	}
	return p.TotalPaid.Div(p.TotalSubmitted).Mul(decimal.NewFromInt(100)).Round(2)
}

// HasBeenResubmitted reports whether the claim went through at least one
// resubmission cycle.
func (p *ClaimPayment) HasBeenResubmitted() bool { return p.ResubmissionCount > 0 }

// ResubmissionCycle is one entry in a claim's ordered resubmission
// sequence (cycle 1 is the first resubmission).
type ResubmissionCycle struct {
	Number  int       `json:"number"`
	Type    string    `json:"resubmission_type"`
	Comment string    `json:"comment,omitempty"`
	At      time.Time `json:"at"`
}

// Lifecycle holds the elapsed-time metrics and cycle sequencing derived
// from a claim's event timeline.
type Lifecycle struct {
	Cycles                []ResubmissionCycle
	ProcessingCycles      int
	DaysToFirstPayment    *int
	DaysToFinalSettlement *int
}
