package recon

import (
	"sort"
	"time"

	"github.com/recon/recon/internal/domain/ledger"
)

// TrackLifecycle derives a claim's resubmission cycle sequence and
// elapsed-time metrics from already-aggregated activity summaries and the
// claim's resubmission stream. It is a pure function with no side effects.
//
// Cycle numbering: resubmissions are ordered ascending by creation time
// and numbered from 1. The claim's processing cycle count is the
// resubmission count plus the original submission.
//
// DaysToFirstPayment is measured from submission to the earliest
// remittance that actually paid something; it is nil while the claim is
// unpaid. DaysToFinalSettlement is measured to the latest settlement date
// and only set once every activity is terminally settled (fully paid or
// rejected).
func TrackLifecycle(submittedAt time.Time, sums []*ActivitySummary, resubs []*ledger.ResubmissionEvent) Lifecycle {
	lc := Lifecycle{
		ProcessingCycles: len(resubs) + 1,
	}

	if len(resubs) > 0 {
		ordered := make([]*ledger.ResubmissionEvent, len(resubs))
		copy(ordered, resubs)
		sort.SliceStable(ordered, func(i, j int) bool {
			if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
				return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
			}
			return ordered[i].ID.String() < ordered[j].ID.String()
		})
		lc.Cycles = make([]ResubmissionCycle, len(ordered))
		for i, ev := range ordered {
			lc.Cycles[i] = ResubmissionCycle{
				Number:  i + 1,
				Type:    ev.Type,
				Comment: ev.Comment,
				At:      ev.CreatedAt,
			}
		}
	}

	var firstPayment, latestSettlement *time.Time
	settled := len(sums) > 0
	for _, s := range sums {
		firstPayment = minDate(firstPayment, s.FirstPaymentDate)
		latestSettlement = maxDate(latestSettlement, s.LatestSettlementDate)
		if !s.Settled() {
			settled = false
		}
	}

	if firstPayment != nil {
		lc.DaysToFirstPayment = intPtr(daysBetween(submittedAt, *firstPayment))
	}
	if settled && latestSettlement != nil {
		lc.DaysToFinalSettlement = intPtr(daysBetween(submittedAt, *latestSettlement))
	}
	return lc
}

func daysBetween(from, to time.Time) int {
	d := int(to.Sub(from).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

func intPtr(v int) *int { return &v }
