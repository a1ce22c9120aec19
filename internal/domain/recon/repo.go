package recon

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/recon/recon/internal/domain/ledger"
)

// ClaimPaymentFilter narrows bulk ClaimPayment reads for batch reporting
// consumers.
type ClaimPaymentFilter struct {
	Status        PaymentStatus
	PayerID       string
	SettledAfter  *time.Time
	SettledBefore *time.Time
}

// SummaryRepository persists the derived aggregates. SaveClaimAggregates
// must replace a claim's ClaimPayment and ActivitySummary rows atomically:
// readers see either the previous complete set or the new complete set,
// never a partial write.
type SummaryRepository interface {
	SaveClaimAggregates(ctx context.Context, payment *ClaimPayment, sums []*ActivitySummary) error
	GetActivitySummary(ctx context.Context, activityID uuid.UUID) (*ActivitySummary, error)
	GetClaimPayment(ctx context.Context, claimID uuid.UUID) (*ClaimPayment, error)
	ListActivitySummaries(ctx context.Context, claimID uuid.UUID) ([]*ActivitySummary, error)
	ListClaimPayments(ctx context.Context, filter ClaimPaymentFilter, limit, offset int) ([]*ClaimPayment, int, error)
}

// EventSource is the engine's read view of the event store. The ledger
// service implements it; tests substitute in-memory fixtures.
type EventSource interface {
	Snapshot(ctx context.Context, claimID uuid.UUID) (*ledger.ClaimSnapshot, error)
	ClaimIDs(ctx context.Context) ([]uuid.UUID, error)
	ClaimIDsChangedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error)
	OwnerOfActivity(ctx context.Context, activityID uuid.UUID) (uuid.UUID, error)
}
