package store

import (
	"context"
	"testing"
)

func TestLeaseExclusivity(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	ctx := context.Background()
	if err := s.EnsureLeaseTable(ctx); err != nil {
		t.Fatal(err)
	}

	const name = "alert-engine"
	now := int64(1_000_000)
	ttl := int64(15_000)

	ok, err := s.ClaimLease(ctx, name, "A", now, now+ttl, "")
	if err != nil || !ok {
		t.Fatalf("A initial claim = %v, %v", ok, err)
	}

	// B cannot take an unexpired lease.
	ok, err = s.ClaimLease(ctx, name, "B", now+1000, now+1000+ttl, "")
	if err != nil || ok {
		t.Fatalf("B claim against live lease = %v, %v", ok, err)
	}

	// A reclaiming its own lease succeeds (restart within TTL).
	ok, err = s.ClaimLease(ctx, name, "A", now+2000, now+2000+ttl, "")
	if err != nil || !ok {
		t.Fatalf("A re-claim = %v, %v", ok, err)
	}

	// After expiry B takes over.
	ok, err = s.ClaimLease(ctx, name, "B", now+2000+ttl, now+2000+2*ttl, "")
	if err != nil || !ok {
		t.Fatalf("B claim after expiry = %v, %v", ok, err)
	}

	lease, err := s.GetLease(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	if lease == nil || lease.OwnerID != "B" {
		t.Fatalf("lease = %+v, want owner B", lease)
	}
}

func TestLeaseRenew(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	ctx := context.Background()
	if err := s.EnsureLeaseTable(ctx); err != nil {
		t.Fatal(err)
	}

	const name = "alert-engine"
	now := int64(1_000_000)
	ttl := int64(15_000)

	if ok, _ := s.ClaimLease(ctx, name, "A", now, now+ttl, ""); !ok {
		t.Fatal("claim failed")
	}

	// Owner renews while live.
	ok, err := s.RenewLease(ctx, name, "A", now+5000, now+5000+ttl)
	if err != nil || !ok {
		t.Fatalf("owner renew = %v, %v", ok, err)
	}

	// A non-owner never renews.
	ok, err = s.RenewLease(ctx, name, "B", now+6000, now+6000+ttl)
	if err != nil || ok {
		t.Fatalf("non-owner renew = %v, %v", ok, err)
	}

	// Renewal after expiry fails; the owner must re-claim.
	expired := now + 5000 + ttl + 1
	ok, err = s.RenewLease(ctx, name, "A", expired, expired+ttl)
	if err != nil || ok {
		t.Fatalf("expired renew = %v, %v", ok, err)
	}
}

func TestLeaseRelease(t *testing.T) {
	t.Parallel()
	s := openTest(t)
	ctx := context.Background()
	if err := s.EnsureLeaseTable(ctx); err != nil {
		t.Fatal(err)
	}

	const name = "alert-engine"
	now := int64(1_000_000)
	ttl := int64(15_000)

	if ok, _ := s.ClaimLease(ctx, name, "A", now, now+ttl, ""); !ok {
		t.Fatal("claim failed")
	}

	// A release by a non-owner is a no-op.
	if err := s.ReleaseLease(ctx, name, "B"); err != nil {
		t.Fatal(err)
	}
	if lease, _ := s.GetLease(ctx, name); lease == nil || lease.OwnerID != "A" {
		t.Fatalf("lease after foreign release = %+v", lease)
	}

	if err := s.ReleaseLease(ctx, name, "A"); err != nil {
		t.Fatal(err)
	}
	// B claims immediately after an explicit release, before TTL expiry.
	ok, err := s.ClaimLease(ctx, name, "B", now+1000, now+1000+ttl, "")
	if err != nil || !ok {
		t.Fatalf("B claim after release = %v, %v", ok, err)
	}
}
