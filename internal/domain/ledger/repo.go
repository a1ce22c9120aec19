package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateClaim is returned when a claim with the same external id
// already exists.
var ErrDuplicateClaim = errors.New("claim already exists")

type ClaimRepository interface {
	// Create inserts a claim together with its activities in one
	// transaction.
	Create(ctx context.Context, c *Claim, acts []*Activity) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	GetByClaimID(ctx context.Context, claimID string) (*Claim, error)
	// ListIDs returns the surrogate ids of every claim.
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
	// ListIDsChangedSince returns ids of claims with any event (submission,
	// remittance or resubmission) created at or after the given time.
	ListIDsChangedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}

type ActivityRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Activity, error)
	GetByClaimAndActivityID(ctx context.Context, claimID uuid.UUID, activityID string) (*Activity, error)
	ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*Activity, error)
}

type RemittanceRepository interface {
	Append(ctx context.Context, events []*RemittanceEvent) error
	ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*RemittanceEvent, error)
	ListByActivity(ctx context.Context, activityID uuid.UUID) ([]*RemittanceEvent, error)
}

type ResubmissionRepository interface {
	Append(ctx context.Context, ev *ResubmissionEvent) error
	ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*ResubmissionEvent, error)
}

// Notifier receives change notifications after events are durably written.
// Implementations must not block: notification is a scheduling hint, the
// recompute itself always re-reads current store state.
type Notifier interface {
	ClaimChanged(claimID uuid.UUID)
	ActivityChanged(activityID uuid.UUID)
}
