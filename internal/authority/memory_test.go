package authority

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCodesPurgeExpiredOnFind(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	codes := store.LoginCodes(ctx)

	now := time.Now()
	expired := &LoginCode{
		Username:    "alice",
		CodeHash:    "h1",
		ChatID:      1,
		ExpiresAt:   now.Add(-time.Minute),
		MaxAttempts: 5,
	}
	if err := codes.Replace(ctx, expired); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if _, err := codes.FindLive(ctx, "alice", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired code, got %v", err)
	}
	// The expired record must be gone, not just skipped.
	if _, err := codes.IncrementAttempts(ctx, expired.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired code deleted, got %v", err)
	}
}

func TestMemoryCodesFindLiveKeepsCurrent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	codes := store.LoginCodes(ctx)

	now := time.Now()
	live := &LoginCode{
		Username:    "alice",
		CodeHash:    "h2",
		ChatID:      1,
		ExpiresAt:   now.Add(5 * time.Minute),
		MaxAttempts: 5,
	}
	if err := codes.Replace(ctx, live); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := codes.FindLive(ctx, "alice", now)
	if err != nil {
		t.Fatalf("FindLive: %v", err)
	}
	if got.ID != live.ID || got.CodeHash != "h2" {
		t.Fatalf("unexpected code: %+v", got)
	}
}
