package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type summaryRepoPG struct{ pool *pgxpool.Pool }

func NewSummaryRepoPG(pool *pgxpool.Pool) SummaryRepository { return &summaryRepoPG{pool: pool} }

const summaryCols = `activity_id, claim_id, activity_ref, submitted_amount, paid_amount,
	denied_amount, taken_back_amount, remittance_count, denial_codes, activity_status,
	first_remittance_date, last_remittance_date, first_payment_date, last_payment_date,
	latest_settlement_date, latest_payment_reference, computed_at`

const paymentCols = `claim_id, claim_ref, total_submitted, total_paid, total_rejected,
	total_taken_back, total_pending, total_activities, paid_activities,
	partially_paid_activities, rejected_activities, pending_activities,
	taken_back_activities, partially_taken_back_activities,
	remittance_count, resubmission_count, processing_cycles, payment_status,
	first_remittance_date, last_remittance_date, first_payment_date, last_payment_date,
	latest_settlement_date, latest_payment_reference,
	days_to_first_payment, days_to_final_settlement, resubmission_cycles, computed_at`

// SaveClaimAggregates replaces a claim's derived rows in one transaction.
// Summaries for activities excluded from this recompute (integrity
// failures) are removed so readers never see a leftover row computed from
// a since-invalidated pass.
func (r *summaryRepoPG) SaveClaimAggregates(ctx context.Context, p *ClaimPayment, sums []*ActivitySummary) error {
	cycles, err := json.Marshal(p.Cycles)
	if err != nil {
		return fmt.Errorf("marshal resubmission cycles: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	keep := make([]uuid.UUID, 0, len(sums))
	for _, s := range sums {
		keep = append(keep, s.ActivityID)
	}
	_, err = tx.Exec(ctx,
		`DELETE FROM activity_summaries WHERE claim_id = $1 AND activity_id != ALL($2)`,
		p.ClaimID, keep)
	if err != nil {
		return err
	}

	for _, s := range sums {
		_, err = tx.Exec(ctx, `
			INSERT INTO activity_summaries (`+summaryCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			ON CONFLICT (activity_id) DO UPDATE SET
				submitted_amount = EXCLUDED.submitted_amount,
				paid_amount = EXCLUDED.paid_amount,
				denied_amount = EXCLUDED.denied_amount,
				taken_back_amount = EXCLUDED.taken_back_amount,
				remittance_count = EXCLUDED.remittance_count,
				denial_codes = EXCLUDED.denial_codes,
				activity_status = EXCLUDED.activity_status,
				first_remittance_date = EXCLUDED.first_remittance_date,
				last_remittance_date = EXCLUDED.last_remittance_date,
				first_payment_date = EXCLUDED.first_payment_date,
				last_payment_date = EXCLUDED.last_payment_date,
				latest_settlement_date = EXCLUDED.latest_settlement_date,
				latest_payment_reference = EXCLUDED.latest_payment_reference,
				computed_at = EXCLUDED.computed_at`,
			s.ActivityID, s.ClaimID, s.ActivityRef, s.SubmittedAmount, s.PaidAmount,
			s.DeniedAmount, s.TakenBackAmount, s.RemittanceCount, s.DenialCodes, s.Status,
			s.FirstRemittanceDate, s.LastRemittanceDate, s.FirstPaymentDate, s.LastPaymentDate,
			s.LatestSettlementDate, s.LatestPaymentReference, s.ComputedAt)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO claim_payments (`+paymentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
		ON CONFLICT (claim_id) DO UPDATE SET
			total_submitted = EXCLUDED.total_submitted,
			total_paid = EXCLUDED.total_paid,
			total_rejected = EXCLUDED.total_rejected,
			total_taken_back = EXCLUDED.total_taken_back,
			total_pending = EXCLUDED.total_pending,
			total_activities = EXCLUDED.total_activities,
			paid_activities = EXCLUDED.paid_activities,
			partially_paid_activities = EXCLUDED.partially_paid_activities,
			rejected_activities = EXCLUDED.rejected_activities,
			pending_activities = EXCLUDED.pending_activities,
			taken_back_activities = EXCLUDED.taken_back_activities,
			partially_taken_back_activities = EXCLUDED.partially_taken_back_activities,
			remittance_count = EXCLUDED.remittance_count,
			resubmission_count = EXCLUDED.resubmission_count,
			processing_cycles = EXCLUDED.processing_cycles,
			payment_status = EXCLUDED.payment_status,
			first_remittance_date = EXCLUDED.first_remittance_date,
			last_remittance_date = EXCLUDED.last_remittance_date,
			first_payment_date = EXCLUDED.first_payment_date,
			last_payment_date = EXCLUDED.last_payment_date,
			latest_settlement_date = EXCLUDED.latest_settlement_date,
			latest_payment_reference = EXCLUDED.latest_payment_reference,
			days_to_first_payment = EXCLUDED.days_to_first_payment,
			days_to_final_settlement = EXCLUDED.days_to_final_settlement,
			resubmission_cycles = EXCLUDED.resubmission_cycles,
			computed_at = EXCLUDED.computed_at`,
		p.ClaimID, p.ClaimRef, p.TotalSubmitted, p.TotalPaid, p.TotalRejected,
		p.TotalTakenBack, p.TotalPending, p.TotalActivities, p.PaidActivities,
		p.PartiallyPaidActivities, p.RejectedActivities, p.PendingActivities,
		p.TakenBackActivities, p.PartiallyTakenBackActivities,
		p.RemittanceCount, p.ResubmissionCount, p.ProcessingCycles, p.Status,
		p.FirstRemittanceDate, p.LastRemittanceDate, p.FirstPaymentDate, p.LastPaymentDate,
		p.LatestSettlementDate, p.LatestPaymentReference,
		p.DaysToFirstPayment, p.DaysToFinalSettlement, cycles, p.ComputedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// prefixCols qualifies every column in a comma-separated column list with
// the given table alias.
func prefixCols(cols, prefix string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanSummary(row pgx.Row) (*ActivitySummary, error) {
	var s ActivitySummary
	err := row.Scan(&s.ActivityID, &s.ClaimID, &s.ActivityRef, &s.SubmittedAmount, &s.PaidAmount,
		&s.DeniedAmount, &s.TakenBackAmount, &s.RemittanceCount, &s.DenialCodes, &s.Status,
		&s.FirstRemittanceDate, &s.LastRemittanceDate, &s.FirstPaymentDate, &s.LastPaymentDate,
		&s.LatestSettlementDate, &s.LatestPaymentReference, &s.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *summaryRepoPG) GetActivitySummary(ctx context.Context, activityID uuid.UUID) (*ActivitySummary, error) {
	return scanSummary(r.pool.QueryRow(ctx,
		`SELECT `+summaryCols+` FROM activity_summaries WHERE activity_id = $1`, activityID))
}

func (r *summaryRepoPG) ListActivitySummaries(ctx context.Context, claimID uuid.UUID) ([]*ActivitySummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+summaryCols+` FROM activity_summaries WHERE claim_id = $1 ORDER BY activity_ref`,
		claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sums []*ActivitySummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		sums = append(sums, s)
	}
	return sums, rows.Err()
}

func scanPayment(row pgx.Row) (*ClaimPayment, error) {
	var (
		p      ClaimPayment
		cycles []byte
	)
	err := row.Scan(&p.ClaimID, &p.ClaimRef, &p.TotalSubmitted, &p.TotalPaid, &p.TotalRejected,
		&p.TotalTakenBack, &p.TotalPending, &p.TotalActivities, &p.PaidActivities,
		&p.PartiallyPaidActivities, &p.RejectedActivities, &p.PendingActivities,
		&p.TakenBackActivities, &p.PartiallyTakenBackActivities,
		&p.RemittanceCount, &p.ResubmissionCount, &p.ProcessingCycles, &p.Status,
		&p.FirstRemittanceDate, &p.LastRemittanceDate, &p.FirstPaymentDate, &p.LastPaymentDate,
		&p.LatestSettlementDate, &p.LatestPaymentReference,
		&p.DaysToFirstPayment, &p.DaysToFinalSettlement, &cycles, &p.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(cycles) > 0 {
		if err := json.Unmarshal(cycles, &p.Cycles); err != nil {
			return nil, fmt.Errorf("unmarshal resubmission cycles: %w", err)
		}
	}
	return &p, nil
}

func (r *summaryRepoPG) GetClaimPayment(ctx context.Context, claimID uuid.UUID) (*ClaimPayment, error) {
	return scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentCols+` FROM claim_payments WHERE claim_id = $1`, claimID))
}

func (r *summaryRepoPG) ListClaimPayments(ctx context.Context, filter ClaimPaymentFilter, limit, offset int) ([]*ClaimPayment, int, error) {
	where := ` FROM claim_payments cp JOIN claims c ON c.id = cp.claim_id WHERE 1=1`
	args := []interface{}{}
	n := 0
	if filter.Status != "" {
		n++
		where += fmt.Sprintf(" AND cp.payment_status = $%d", n)
		args = append(args, filter.Status)
	}
	if filter.PayerID != "" {
		n++
		where += fmt.Sprintf(" AND c.payer_id = $%d", n)
		args = append(args, filter.PayerID)
	}
	if filter.SettledAfter != nil {
		n++
		where += fmt.Sprintf(" AND cp.latest_settlement_date >= $%d", n)
		args = append(args, *filter.SettledAfter)
	}
	if filter.SettledBefore != nil {
		n++
		where += fmt.Sprintf(" AND cp.latest_settlement_date <= $%d", n)
		args = append(args, *filter.SettledBefore)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + prefixCols(paymentCols, "cp.") + where +
		fmt.Sprintf(` ORDER BY c.submitted_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var payments []*ClaimPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	return payments, total, rows.Err()
}
