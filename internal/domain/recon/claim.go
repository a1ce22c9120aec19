package recon

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/recon/recon/internal/domain/ledger"
)

// ActivityFreshness maps an activity's surrogate id to its newest
// remittance event creation time. The claim pass uses it to refuse stale
// summaries instead of reading raw events itself.
type ActivityFreshness map[uuid.UUID]time.Time

// AggregateClaim folds a claim's current ActivitySummary rows into one
// ClaimPayment. It never reads raw remittance events: the activity pass is
// the single source of truth for per-line cap and denial logic, and this
// pass only sums the records that pass owns.
//
// The submitted total is read once from the claim row. Summing a
// claim-grain value across joined child rows is exactly the fan-out bug
// this two-phase rollup exists to prevent.
//
// If any summary is older than its activity's latest event per freshness,
// AggregateClaim returns a StaleDependencyError and no payment.
func AggregateClaim(cl *ledger.Claim, sums []*ActivitySummary, resubs []*ledger.ResubmissionEvent, freshness ActivityFreshness) (*ClaimPayment, error) {
	if cl == nil {
		return nil, &DataIntegrityError{Entity: "claim", ID: "", Reason: "claim is nil"}
	}
	if cl.Net.IsNegative() {
		return nil, &DataIntegrityError{Entity: "claim", ID: cl.ClaimID, Reason: "submitted net amount is negative"}
	}
	for _, s := range sums {
		if latest, ok := freshness[s.ActivityID]; ok && s.ComputedAt.Before(latest) {
			return nil, &StaleDependencyError{
				ActivityID:    s.ActivityID,
				ComputedAt:    s.ComputedAt,
				LatestEventAt: latest,
			}
		}
	}

	p := &ClaimPayment{
		ClaimID:         cl.ID,
		ClaimRef:        cl.ClaimID,
		TotalSubmitted:  cl.Net,
		TotalPaid:       decimal.Zero,
		TotalRejected:   decimal.Zero,
		TotalTakenBack:  decimal.Zero,
		TotalActivities: len(sums),
		Status:          PaymentPending,
	}

	for _, s := range sums {
		p.TotalPaid = p.TotalPaid.Add(s.PaidAmount)
		p.TotalRejected = p.TotalRejected.Add(s.DeniedAmount)
		p.TotalTakenBack = p.TotalTakenBack.Add(s.TakenBackAmount)
		if s.RemittanceCount > p.RemittanceCount {
			// A claim-level remittance batch touches many activities at
			// once: the claim saw max(counts) batches, not their sum.
			p.RemittanceCount = s.RemittanceCount
		}
		switch s.Status {
		case ActivityFullyPaid:
			p.PaidActivities++
		case ActivityPartiallyPaid:
			p.PartiallyPaidActivities++
		case ActivityRejected:
			p.RejectedActivities++
		case ActivityTakenBack:
			p.TakenBackActivities++
		case ActivityPartiallyTakenBack:
			p.PartiallyTakenBackActivities++
		default:
			p.PendingActivities++
		}
		p.mergeDates(s)
	}

	p.TotalPending = cl.Net.Sub(p.TotalPaid).Sub(p.TotalRejected)
	if p.TotalPending.IsNegative() {
		p.TotalPending = decimal.Zero
	}

	p.ResubmissionCount = len(resubs)

	lc := TrackLifecycle(cl.SubmittedAt, sums, resubs)
	p.Cycles = lc.Cycles
	p.ProcessingCycles = lc.ProcessingCycles
	p.DaysToFirstPayment = lc.DaysToFirstPayment
	p.DaysToFinalSettlement = lc.DaysToFinalSettlement

	p.Status = classifyClaim(p.TotalSubmitted, p.TotalPaid, p.TotalRejected)
	return p, nil
}

func (p *ClaimPayment) mergeDates(s *ActivitySummary) {
	p.FirstRemittanceDate = minDate(p.FirstRemittanceDate, s.FirstRemittanceDate)
	p.LastRemittanceDate = maxDate(p.LastRemittanceDate, s.LastRemittanceDate)
	p.FirstPaymentDate = minDate(p.FirstPaymentDate, s.FirstPaymentDate)
	if newer := maxDate(p.LastPaymentDate, s.LastPaymentDate); newer != p.LastPaymentDate {
		p.LastPaymentDate = newer
		p.LatestPaymentReference = s.LatestPaymentReference
	}
	p.LatestSettlementDate = maxDate(p.LatestSettlementDate, s.LatestSettlementDate)
}

func classifyClaim(submitted, paid, rejected decimal.Decimal) PaymentStatus {
	switch {
	case submitted.IsPositive() && paid.Equal(submitted):
		return PaymentFullyPaid
	case paid.IsPositive():
		return PaymentPartiallyPaid
	case rejected.IsPositive():
		return PaymentRejected
	default:
		return PaymentPending
	}
}

func minDate(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Before(*a):
		return b
	default:
		return a
	}
}

func maxDate(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
