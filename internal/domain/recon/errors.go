package recon

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested aggregate does not exist.
var ErrNotFound = errors.New("not found")

// DataIntegrityError marks a single entity whose event history cannot be
// reconciled (missing or negative submitted amount, event referencing the
// wrong activity). It is fatal for that entity's recompute only: callers
// log it against the entity and keep going.
type DataIntegrityError struct {
	Entity string // "claim" or "activity"
	ID     string
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s %s: %s", e.Entity, e.ID, e.Reason)
}

// IsDataIntegrity reports whether err is (or wraps) a DataIntegrityError.
func IsDataIntegrity(err error) bool {
	var die *DataIntegrityError
	return errors.As(err, &die)
}

// StaleDependencyError means the claim pass was handed an ActivitySummary
// older than its activity's latest remittance event. It is a scheduling
// condition, never surfaced to external callers: the coordinator responds
// by running the activity pass first.
type StaleDependencyError struct {
	ActivityID    uuid.UUID
	ComputedAt    time.Time
	LatestEventAt time.Time
}

func (e *StaleDependencyError) Error() string {
	return fmt.Sprintf("stale dependency: activity %s summary computed at %s is older than latest event at %s",
		e.ActivityID, e.ComputedAt.Format(time.RFC3339), e.LatestEventAt.Format(time.RFC3339))
}

// IsStaleDependency reports whether err is (or wraps) a StaleDependencyError.
func IsStaleDependency(err error) bool {
	var sde *StaleDependencyError
	return errors.As(err, &sde)
}
