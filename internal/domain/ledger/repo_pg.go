package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recon/recon/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Claim Repository ===========

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewClaimRepoPG(pool *pgxpool.Pool) ClaimRepository { return &claimRepoPG{pool: pool} }

func (r *claimRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const claimCols = `id, claim_id, payer_id, provider_id, member_id,
	gross, patient_share, net, submitted_at, created_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ClaimID, &c.PayerID, &c.ProviderID, &c.MemberID,
		&c.Gross, &c.PatientShare, &c.Net, &c.SubmittedAt, &c.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &c, nil
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim, acts []*Activity) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c.ID = uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO claims (id, claim_id, payer_id, provider_id, member_id,
			gross, patient_share, net, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.ClaimID, c.PayerID, c.ProviderID, c.MemberID,
		c.Gross, c.PatientShare, c.Net, c.SubmittedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateClaim
		}
		return err
	}
	for _, a := range acts {
		a.ID = uuid.New()
		a.ClaimID = c.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO activities (id, claim_id, activity_id, start_at, type,
				code, quantity, net, clinician)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			a.ID, a.ClaimID, a.ActivityID, a.StartAt, a.Type,
			a.Code, a.Quantity, a.Net, a.Clinician)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return scanClaim(r.conn(ctx).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
}

func (r *claimRepoPG) GetByClaimID(ctx context.Context, claimID string) (*Claim, error) {
	return scanClaim(r.conn(ctx).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claims WHERE claim_id = $1`, claimID))
}

func (r *claimRepoPG) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id FROM claims ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *claimRepoPG) ListIDsChangedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id FROM claims WHERE created_at >= $1
		UNION
		SELECT claim_id FROM remittance_events WHERE created_at >= $1
		UNION
		SELECT claim_id FROM resubmission_events WHERE created_at >= $1`,
		since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =========== Activity Repository ===========

type activityRepoPG struct{ pool *pgxpool.Pool }

func NewActivityRepoPG(pool *pgxpool.Pool) ActivityRepository { return &activityRepoPG{pool: pool} }

func (r *activityRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const activityCols = `id, claim_id, activity_id, start_at, type,
	code, quantity, net, clinician, created_at`

func scanActivity(row pgx.Row) (*Activity, error) {
	var a Activity
	err := row.Scan(&a.ID, &a.ClaimID, &a.ActivityID, &a.StartAt, &a.Type,
		&a.Code, &a.Quantity, &a.Net, &a.Clinician, &a.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &a, nil
}

func (r *activityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Activity, error) {
	return scanActivity(r.conn(ctx).QueryRow(ctx,
		`SELECT `+activityCols+` FROM activities WHERE id = $1`, id))
}

func (r *activityRepoPG) GetByClaimAndActivityID(ctx context.Context, claimID uuid.UUID, activityID string) (*Activity, error) {
	return scanActivity(r.conn(ctx).QueryRow(ctx,
		`SELECT `+activityCols+` FROM activities WHERE claim_id = $1 AND activity_id = $2`,
		claimID, activityID))
}

func (r *activityRepoPG) ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*Activity, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+activityCols+` FROM activities WHERE claim_id = $1 ORDER BY activity_id`,
		claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var acts []*Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

// =========== Remittance Repository ===========

type remittanceRepoPG struct{ pool *pgxpool.Pool }

func NewRemittanceRepoPG(pool *pgxpool.Pool) RemittanceRepository { return &remittanceRepoPG{pool: pool} }

func (r *remittanceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const remittanceCols = `id, claim_id, activity_id, remittance_id, payment_reference,
	payment_amount, denial_code, date_settlement, created_at`

func scanRemittance(row pgx.Row) (*RemittanceEvent, error) {
	var ev RemittanceEvent
	err := row.Scan(&ev.ID, &ev.ClaimID, &ev.ActivityID, &ev.RemittanceID, &ev.PaymentReference,
		&ev.PaymentAmount, &ev.DenialCode, &ev.DateSettlement, &ev.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &ev, nil
}

func (r *remittanceRepoPG) Append(ctx context.Context, events []*RemittanceEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, ev := range events {
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO remittance_events (id, claim_id, activity_id, remittance_id,
				payment_reference, payment_amount, denial_code, date_settlement)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			ev.ID, ev.ClaimID, ev.ActivityID, ev.RemittanceID,
			ev.PaymentReference, ev.PaymentAmount, ev.DenialCode, ev.DateSettlement)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *remittanceRepoPG) list(ctx context.Context, where string, arg interface{}) ([]*RemittanceEvent, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+remittanceCols+` FROM remittance_events WHERE `+where+
			` ORDER BY date_settlement, created_at, id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []*RemittanceEvent
	for rows.Next() {
		ev, err := scanRemittance(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *remittanceRepoPG) ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*RemittanceEvent, error) {
	return r.list(ctx, `claim_id = $1`, claimID)
}

func (r *remittanceRepoPG) ListByActivity(ctx context.Context, activityID uuid.UUID) ([]*RemittanceEvent, error) {
	return r.list(ctx, `activity_id = $1`, activityID)
}

// =========== Resubmission Repository ===========

type resubmissionRepoPG struct{ pool *pgxpool.Pool }

func NewResubmissionRepoPG(pool *pgxpool.Pool) ResubmissionRepository {
	return &resubmissionRepoPG{pool: pool}
}

func (r *resubmissionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *resubmissionRepoPG) Append(ctx context.Context, ev *ResubmissionEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO resubmission_events (id, claim_id, resubmission_type, comment)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		ev.ID, ev.ClaimID, ev.Type, ev.Comment).Scan(&ev.CreatedAt)
}

func (r *resubmissionRepoPG) ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*ResubmissionEvent, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, resubmission_type, comment, created_at
		FROM resubmission_events WHERE claim_id = $1
		ORDER BY created_at, id`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []*ResubmissionEvent
	for rows.Next() {
		var ev ResubmissionEvent
		if err := rows.Scan(&ev.ID, &ev.ClaimID, &ev.Type, &ev.Comment, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
