package recon

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/recon/recon/internal/domain/ledger"
)

// AggregateActivity folds one activity's ordered remittance history into a
// fresh ActivitySummary. It is a pure function of its inputs: recomputing
// an unchanged history yields an identical summary (ComputedAt is stamped
// by the caller).
//
// Rules:
//   - paid = min(sum of positive payment amounts, submitted amount); the
//     cap absorbs corrective remittances that re-pay an already-paid line.
//   - negative payment amounts are take-backs: they accumulate in
//     TakenBackAmount as a separate signed ledger and never push the paid
//     amount below zero.
//   - denial is latest-wins: the denied amount equals the submitted amount
//     only when the most recent event carries a denial code and the
//     cumulative paid amount is zero. A denial superseded by a later
//     payment counts for nothing.
//
// An empty history is not an error; it yields a PENDING summary with zero
// amounts.
func AggregateActivity(act *ledger.Activity, events []*ledger.RemittanceEvent) (*ActivitySummary, error) {
	if act == nil {
		return nil, &DataIntegrityError{Entity: "activity", ID: "", Reason: "activity is nil"}
	}
	if act.Net.IsNegative() {
		return nil, &DataIntegrityError{
			Entity: "activity",
			ID:     act.ActivityID,
			Reason: "submitted net amount is negative",
		}
	}

	ordered := make([]*ledger.RemittanceEvent, 0, len(events))
	for _, ev := range events {
		if ev.ActivityID != act.ID {
			return nil, &DataIntegrityError{
				Entity: "activity",
				ID:     act.ActivityID,
				Reason: "remittance event references a different activity",
			}
		}
		ordered = append(ordered, ev)
	}
	sortEventsLatestFirst(ordered)

	summary := &ActivitySummary{
		ActivityID:      act.ID,
		ClaimID:         act.ClaimID,
		ActivityRef:     act.ActivityID,
		SubmittedAmount: act.Net,
		PaidAmount:      decimal.Zero,
		DeniedAmount:    decimal.Zero,
		TakenBackAmount: decimal.Zero,
		RemittanceCount: len(ordered),
		Status:          ActivityPending,
	}
	if len(ordered) == 0 {
		return summary, nil
	}

	gross := decimal.Zero
	codes := make(map[string]bool)
	for _, ev := range ordered {
		switch {
		case ev.PaymentAmount.IsPositive():
			gross = gross.Add(ev.PaymentAmount)
		case ev.PaymentAmount.IsNegative():
			summary.TakenBackAmount = summary.TakenBackAmount.Add(ev.PaymentAmount.Neg())
		}
		if ev.Denied() {
			codes[strings.TrimSpace(*ev.DenialCode)] = true
		}
	}
	summary.PaidAmount = decimal.Min(gross, act.Net)

	latest := ordered[0]
	if latest.Denied() && summary.PaidAmount.IsZero() {
		summary.DeniedAmount = act.Net
	}

	if len(codes) > 0 {
		summary.DenialCodes = make([]string, 0, len(codes))
		for code := range codes {
			summary.DenialCodes = append(summary.DenialCodes, code)
		}
		sort.Strings(summary.DenialCodes)
	}

	summary.applyDates(ordered)
	summary.Status = classifyActivity(act.Net, summary.PaidAmount, summary.DeniedAmount, gross, summary.TakenBackAmount)
	return summary, nil
}

// sortEventsLatestFirst orders remittance events by settlement time, then
// creation time, then id, newest first. The id tiebreak makes the order
// total so recomputes are deterministic.
func sortEventsLatestFirst(events []*ledger.RemittanceEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.DateSettlement.Equal(b.DateSettlement) {
			return a.DateSettlement.After(b.DateSettlement)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() > b.ID.String()
	})
}

func (s *ActivitySummary) applyDates(latestFirst []*ledger.RemittanceEvent) {
	oldest := latestFirst[len(latestFirst)-1]
	newest := latestFirst[0]
	s.FirstRemittanceDate = timePtr(oldest.DateSettlement)
	s.LastRemittanceDate = timePtr(newest.DateSettlement)
	s.LatestSettlementDate = timePtr(newest.DateSettlement)

	// Payment dates and reference consider only events that actually paid.
	for i := len(latestFirst) - 1; i >= 0; i-- {
		if latestFirst[i].PaymentAmount.IsPositive() {
			s.FirstPaymentDate = timePtr(latestFirst[i].DateSettlement)
			break
		}
	}
	for _, ev := range latestFirst {
		if ev.PaymentAmount.IsPositive() {
			s.LastPaymentDate = timePtr(ev.DateSettlement)
			s.LatestPaymentReference = ev.PaymentReference
			break
		}
	}
}

// classifyActivity maps the folded amounts to a categorical status.
// Precedence: a current denial wins, then take-back states, then the
// paid-versus-submitted comparison.
func classifyActivity(submitted, paid, denied, gross, takenBack decimal.Decimal) ActivityStatus {
	switch {
	case denied.IsPositive():
		return ActivityRejected
	case takenBack.IsPositive() && takenBack.GreaterThanOrEqual(gross):
		return ActivityTakenBack
	case takenBack.IsPositive():
		return ActivityPartiallyTakenBack
	case submitted.IsPositive() && paid.Equal(submitted):
		return ActivityFullyPaid
	case paid.IsPositive():
		return ActivityPartiallyPaid
	default:
		return ActivityPending
	}
}

func timePtr(t time.Time) *time.Time { return &t }
