package recon

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service runs the full recompute pipeline for a claim and serves the
// derived aggregates. A recompute is a pure function of current
// event-store state: it loads one snapshot, folds every activity, folds
// the claim, and atomically replaces both aggregate sets.
type Service struct {
	source  EventSource
	repo    SummaryRepository
	log     zerolog.Logger
	shards  int // bounded parallelism for batch recomputes
}

func NewService(source EventSource, repo SummaryRepository, log zerolog.Logger) *Service {
	return &Service{source: source, repo: repo, log: log, shards: 8}
}

// SetBatchShards bounds the number of claims recomputed in parallel by
// RecomputeAll / RecomputeSince.
func (s *Service) SetBatchShards(n int) {
	if n > 0 {
		s.shards = n
	}
}

// RecomputeClaim re-derives every aggregate for one claim. Activities
// whose history fails integrity checks are logged and excluded so one bad
// line cannot block the claim's healthy siblings; the claim-level fold
// then covers only the summaries that exist.
func (s *Service) RecomputeClaim(ctx context.Context, claimID uuid.UUID) error {
	snap, err := s.source.Snapshot(ctx, claimID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	freshness := make(ActivityFreshness, len(snap.Activities))
	sums := make([]*ActivitySummary, 0, len(snap.Activities))

	// Deterministic activity order keeps recomputes reproducible.
	acts := snap.Activities
	sort.SliceStable(acts, func(i, j int) bool { return acts[i].ActivityID < acts[j].ActivityID })

	for _, act := range acts {
		sum, err := AggregateActivity(act, snap.Remittances[act.ID])
		if err != nil {
			if IsDataIntegrity(err) {
				s.log.Error().Err(err).
					Str("claim_id", snap.Claim.ClaimID).
					Str("activity_id", act.ActivityID).
					Msg("activity excluded from recompute")
				continue
			}
			return err
		}
		sum.ComputedAt = now
		sums = append(sums, sum)
		freshness[act.ID] = snap.LatestEventAt(act.ID)
	}

	payment, err := AggregateClaim(snap.Claim, sums, snap.Resubmissions, freshness)
	if err != nil {
		return err
	}
	payment.ComputedAt = now

	if err := s.repo.SaveClaimAggregates(ctx, payment, sums); err != nil {
		return err
	}
	s.log.Debug().
		Str("claim_id", snap.Claim.ClaimID).
		Str("payment_status", string(payment.Status)).
		Str("total_paid", payment.TotalPaid.String()).
		Msg("claim recomputed")
	return nil
}

// RecomputeAll rebuilds the aggregates for the entire claim population,
// sharded across an errgroup. Per-claim failures are logged and do not
// abort unrelated claims; only a cancelled context stops the batch.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	ids, err := s.source.ClaimIDs(ctx)
	if err != nil {
		return 0, err
	}
	return s.recomputeBatch(ctx, ids)
}

// RecomputeSince rebuilds the aggregates for claims touched by any event
// since the given time.
func (s *Service) RecomputeSince(ctx context.Context, since time.Time) (int, error) {
	ids, err := s.source.ClaimIDsChangedSince(ctx, since)
	if err != nil {
		return 0, err
	}
	return s.recomputeBatch(ctx, ids)
}

func (s *Service) recomputeBatch(ctx context.Context, ids []uuid.UUID) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.shards)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := s.RecomputeClaim(gctx, id); err != nil {
				s.log.Error().Err(err).
					Str("claim_id", id.String()).
					Msg("batch recompute: claim failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// GetActivitySummary returns the current summary for one activity.
func (s *Service) GetActivitySummary(ctx context.Context, activityID uuid.UUID) (*ActivitySummary, error) {
	return s.repo.GetActivitySummary(ctx, activityID)
}

// GetClaimPayment returns the current payment record for one claim.
func (s *Service) GetClaimPayment(ctx context.Context, claimID uuid.UUID) (*ClaimPayment, error) {
	return s.repo.GetClaimPayment(ctx, claimID)
}

// ListActivitySummaries returns the current summaries for one claim.
func (s *Service) ListActivitySummaries(ctx context.Context, claimID uuid.UUID) ([]*ActivitySummary, error) {
	return s.repo.ListActivitySummaries(ctx, claimID)
}

// ListClaimPayments returns a filtered, paginated page of claim payments
// for batch reporting consumers.
func (s *Service) ListClaimPayments(ctx context.Context, filter ClaimPaymentFilter, limit, offset int) ([]*ClaimPayment, int, error) {
	return s.repo.ListClaimPayments(ctx, filter, limit, offset)
}
