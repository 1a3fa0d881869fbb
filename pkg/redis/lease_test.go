package redis

import (
	"context"
	"testing"
	"time"
)

func TestLeaseAcquireRelease(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	first, err := NewLease(client, "pl:lease:poll:1", time.Minute)
	if err != nil {
		t.Fatalf("new lease: %v", err)
	}
	second, _ := NewLease(client, "pl:lease:poll:1", time.Minute)

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got %v %v", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("expected second acquire to fail, got %v %v", ok, err)
	}

	// a non-owner release must not drop the holder's lease
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if _, err := client.Get(ctx, "pl:lease:poll:1"); err != nil {
		t.Fatalf("lease should still be held: %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release, got %v %v", ok, err)
	}
}

func TestLeaseReleaseSkipsForeignOwner(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	lease, _ := NewLease(client, "k", time.Minute)
	if ok, _ := lease.Acquire(ctx); !ok {
		t.Fatal("expected acquire")
	}
	// simulate expiry and takeover
	_ = client.Set(ctx, "k", "someone-else", time.Minute)
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if v, _ := client.Get(ctx, "k"); v != "someone-else" {
		t.Fatalf("foreign lease must survive, got %q", v)
	}
}

func TestNewLeaseValidation(t *testing.T) {
	if _, err := NewLease(nil, "k", time.Second); err == nil {
		t.Fatal("expected store validation error")
	}
	if _, err := NewLease(&Client{store: newMockCmdable()}, "", time.Second); err == nil {
		t.Fatal("expected key validation error")
	}
}
