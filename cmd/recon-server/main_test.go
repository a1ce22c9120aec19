package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestResolveRecomputeTarget_All(t *testing.T) {
	target, err := resolveRecomputeTarget(true, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !target.all {
		t.Error("expected all=true")
	}
	if target.claimID != nil || target.since != nil {
		t.Error("expected claimID and since to be unset")
	}
}

func TestResolveRecomputeTarget_Claim(t *testing.T) {
	id := uuid.New()
	target, err := resolveRecomputeTarget(false, "", id.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.claimID == nil {
		t.Fatal("expected claimID to be set")
	}
	if *target.claimID != id {
		t.Errorf("claimID = %s, want %s", target.claimID, id)
	}
}

func TestResolveRecomputeTarget_Since(t *testing.T) {
	target, err := resolveRecomputeTarget(false, "2024-03-01T00:00:00Z", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.since == nil {
		t.Fatal("expected since to be set")
	}
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !target.since.Equal(want) {
		t.Errorf("since = %s, want %s", target.since, want)
	}
}

func TestResolveRecomputeTarget_NoFlags(t *testing.T) {
	_, err := resolveRecomputeTarget(false, "", "")
	if err == nil {
		t.Fatal("expected error when no flag is set")
	}
}

func TestResolveRecomputeTarget_MutuallyExclusive(t *testing.T) {
	_, err := resolveRecomputeTarget(true, "2024-03-01T00:00:00Z", "")
	if err == nil {
		t.Fatal("expected error when both --all and --since are set")
	}
}

func TestResolveRecomputeTarget_InvalidClaimID(t *testing.T) {
	_, err := resolveRecomputeTarget(false, "", "not-a-uuid")
	if err == nil {
		t.Fatal("expected error for malformed claim id")
	}
}

func TestResolveRecomputeTarget_InvalidSince(t *testing.T) {
	_, err := resolveRecomputeTarget(false, "03/01/2024", "")
	if err == nil {
		t.Fatal("expected error for non-RFC3339 timestamp")
	}
}
