package recon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recon/recon/internal/domain/ledger"
)

type fakeEventSource struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]*ledger.ClaimSnapshot
	err       error
}

func newFakeEventSource() *fakeEventSource {
	return &fakeEventSource{snapshots: make(map[uuid.UUID]*ledger.ClaimSnapshot)}
}

func (f *fakeEventSource) add(snap *ledger.ClaimSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[snap.Claim.ID] = snap
}

func (f *fakeEventSource) Snapshot(ctx context.Context, claimID uuid.UUID) (*ledger.ClaimSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	snap, ok := f.snapshots[claimID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return snap, nil
}

func (f *fakeEventSource) ClaimIDs(ctx context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(f.snapshots))
	for id := range f.snapshots {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeEventSource) ClaimIDsChangedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, snap := range f.snapshots {
		if !snap.Claim.CreatedAt.Before(since) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeEventSource) OwnerOfActivity(ctx context.Context, activityID uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, snap := range f.snapshots {
		for _, act := range snap.Activities {
			if act.ID == activityID {
				return id, nil
			}
		}
	}
	return uuid.Nil, ledger.ErrNotFound
}

type fakeSummaryRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*ClaimPayment
	sums     map[uuid.UUID][]*ActivitySummary // keyed by claim id
	saves    int
	err      error
}

func newFakeSummaryRepo() *fakeSummaryRepo {
	return &fakeSummaryRepo{
		payments: make(map[uuid.UUID]*ClaimPayment),
		sums:     make(map[uuid.UUID][]*ActivitySummary),
	}
}

func (f *fakeSummaryRepo) SaveClaimAggregates(ctx context.Context, payment *ClaimPayment, sums []*ActivitySummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves++
	f.payments[payment.ClaimID] = payment
	f.sums[payment.ClaimID] = sums
	return nil
}

func (f *fakeSummaryRepo) GetActivitySummary(ctx context.Context, activityID uuid.UUID) (*ActivitySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sums := range f.sums {
		for _, s := range sums {
			if s.ActivityID == activityID {
				return s, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (f *fakeSummaryRepo) GetClaimPayment(ctx context.Context, claimID uuid.UUID) (*ClaimPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[claimID]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (f *fakeSummaryRepo) ListActivitySummaries(ctx context.Context, claimID uuid.UUID) ([]*ActivitySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sums[claimID], nil
}

func (f *fakeSummaryRepo) ListClaimPayments(ctx context.Context, filter ClaimPaymentFilter, limit, offset int) ([]*ClaimPayment, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*ClaimPayment
	for _, p := range f.payments {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

// snapshotFixture builds a claim with two activities, one fully paid
// across two remittance batches and one denied.
func snapshotFixture() *ledger.ClaimSnapshot {
	cl := newTestClaim("1000.00")
	paidAct := &ledger.Activity{
		ID: uuid.New(), ClaimID: cl.ID, ActivityID: "ACT-1", Net: dec("600.00"),
	}
	deniedAct := &ledger.Activity{
		ID: uuid.New(), ClaimID: cl.ID, ActivityID: "ACT-2", Net: dec("400.00"),
	}
	denial := "CLAIM-001"
	return &ledger.ClaimSnapshot{
		Claim:      cl,
		Activities: []*ledger.Activity{paidAct, deniedAct},
		Remittances: map[uuid.UUID][]*ledger.RemittanceEvent{
			paidAct.ID: {
				{
					ID: uuid.New(), ClaimID: cl.ID, ActivityID: paidAct.ID,
					PaymentAmount: dec("300.00"), PaymentReference: "PR-1",
					DateSettlement: testBase.AddDate(0, 0, 5), CreatedAt: testBase.AddDate(0, 0, 5),
				},
				{
					ID: uuid.New(), ClaimID: cl.ID, ActivityID: paidAct.ID,
					PaymentAmount: dec("300.00"), PaymentReference: "PR-2",
					DateSettlement: testBase.AddDate(0, 0, 9), CreatedAt: testBase.AddDate(0, 0, 9),
				},
			},
			deniedAct.ID: {
				{
					ID: uuid.New(), ClaimID: cl.ID, ActivityID: deniedAct.ID,
					PaymentAmount: dec("0.00"), DenialCode: &denial,
					DateSettlement: testBase.AddDate(0, 0, 5), CreatedAt: testBase.AddDate(0, 0, 5),
				},
			},
		},
	}
}

func TestService_RecomputeClaim(t *testing.T) {
	source := newFakeEventSource()
	repo := newFakeSummaryRepo()
	snap := snapshotFixture()
	source.add(snap)

	svc := NewService(source, repo, zerolog.Nop())
	if err := svc.RecomputeClaim(context.Background(), snap.Claim.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := svc.GetClaimPayment(context.Background(), snap.Claim.ID)
	if err != nil {
		t.Fatalf("get claim payment: %v", err)
	}
	if !p.TotalSubmitted.Equal(dec("1000.00")) {
		t.Errorf("total submitted = %s, want 1000.00", p.TotalSubmitted)
	}
	if !p.TotalPaid.Equal(dec("600.00")) {
		t.Errorf("total paid = %s, want 600.00", p.TotalPaid)
	}
	if !p.TotalRejected.Equal(dec("400.00")) {
		t.Errorf("total rejected = %s, want 400.00", p.TotalRejected)
	}
	if p.RemittanceCount != 2 {
		t.Errorf("remittance count = %d, want max 2", p.RemittanceCount)
	}
	if p.Status != PaymentPartiallyPaid {
		t.Errorf("status = %s, want PARTIALLY_PAID", p.Status)
	}

	sums, err := svc.ListActivitySummaries(context.Background(), snap.Claim.ID)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("summaries = %d, want 2", len(sums))
	}
	// All aggregates of one recompute carry the same timestamp.
	for _, s := range sums {
		if !s.ComputedAt.Equal(p.ComputedAt) {
			t.Errorf("summary computed at %v, payment at %v", s.ComputedAt, p.ComputedAt)
		}
	}
}

// Recomputing an unchanged history produces the same aggregates apart
// from the computation timestamp.
func TestService_RecomputeClaim_Idempotent(t *testing.T) {
	source := newFakeEventSource()
	repo := newFakeSummaryRepo()
	snap := snapshotFixture()
	source.add(snap)

	svc := NewService(source, repo, zerolog.Nop())
	ctx := context.Background()
	if err := svc.RecomputeClaim(ctx, snap.Claim.ID); err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	first, _ := svc.GetClaimPayment(ctx, snap.Claim.ID)

	if err := svc.RecomputeClaim(ctx, snap.Claim.ID); err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	second, _ := svc.GetClaimPayment(ctx, snap.Claim.ID)

	if !first.TotalPaid.Equal(second.TotalPaid) ||
		!first.TotalRejected.Equal(second.TotalRejected) ||
		first.Status != second.Status ||
		first.RemittanceCount != second.RemittanceCount {
		t.Errorf("recompute is not idempotent: %+v vs %+v", first, second)
	}
	if repo.saves != 2 {
		t.Errorf("saves = %d, want 2", repo.saves)
	}
}

// One activity with a corrupt history is excluded; the claim fold covers
// its healthy siblings.
func TestService_RecomputeClaim_ExcludesCorruptActivity(t *testing.T) {
	source := newFakeEventSource()
	repo := newFakeSummaryRepo()
	snap := snapshotFixture()
	snap.Activities = append(snap.Activities, &ledger.Activity{
		ID: uuid.New(), ClaimID: snap.Claim.ID, ActivityID: "ACT-BAD", Net: dec("-10.00"),
	})
	source.add(snap)

	svc := NewService(source, repo, zerolog.Nop())
	if err := svc.RecomputeClaim(context.Background(), snap.Claim.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sums, _ := svc.ListActivitySummaries(context.Background(), snap.Claim.ID)
	if len(sums) != 2 {
		t.Errorf("summaries = %d, want 2 (corrupt activity excluded)", len(sums))
	}
	p, _ := svc.GetClaimPayment(context.Background(), snap.Claim.ID)
	if p.TotalActivities != 2 {
		t.Errorf("total activities = %d, want 2", p.TotalActivities)
	}
}

func TestService_RecomputeClaim_UnknownClaim(t *testing.T) {
	svc := NewService(newFakeEventSource(), newFakeSummaryRepo(), zerolog.Nop())
	err := svc.RecomputeClaim(context.Background(), uuid.New())
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_RecomputeClaim_RepoErrorPropagates(t *testing.T) {
	source := newFakeEventSource()
	repo := newFakeSummaryRepo()
	repo.err = errors.New("connection reset")
	snap := snapshotFixture()
	source.add(snap)

	svc := NewService(source, repo, zerolog.Nop())
	if err := svc.RecomputeClaim(context.Background(), snap.Claim.ID); err == nil {
		t.Fatal("expected storage error to propagate")
	}
}

func TestService_RecomputeAll(t *testing.T) {
	source := newFakeEventSource()
	repo := newFakeSummaryRepo()
	for i := 0; i < 5; i++ {
		snap := snapshotFixture()
		snap.Claim.ID = uuid.New()
		for _, act := range snap.Activities {
			act.ClaimID = snap.Claim.ID
		}
		source.add(snap)
	}

	svc := NewService(source, repo, zerolog.Nop())
	svc.SetBatchShards(2)
	n, err := svc.RecomputeAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("recomputed = %d, want 5", n)
	}
	if repo.saves != 5 {
		t.Errorf("saves = %d, want 5", repo.saves)
	}
}

func TestService_RecomputeSince(t *testing.T) {
	source := newFakeEventSource()
	repo := newFakeSummaryRepo()

	old := snapshotFixture()
	old.Claim.CreatedAt = testBase.AddDate(0, 0, -30)
	source.add(old)
	recent := snapshotFixture()
	recent.Claim.ID = uuid.New()
	for _, act := range recent.Activities {
		act.ClaimID = recent.Claim.ID
	}
	recent.Claim.CreatedAt = testBase
	source.add(recent)

	svc := NewService(source, repo, zerolog.Nop())
	n, err := svc.RecomputeSince(context.Background(), testBase.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("recomputed = %d, want 1", n)
	}
	if _, err := svc.GetClaimPayment(context.Background(), old.Claim.ID); !errors.Is(err, ErrNotFound) {
		t.Error("old claim should not have been recomputed")
	}
}
