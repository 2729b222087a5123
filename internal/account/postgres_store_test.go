package account_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumenlock/lumenlock/internal/account"
	"github.com/lumenlock/lumenlock/internal/testutil"
)

func TestPostgresStore_CompareAndUpdate(t *testing.T) {
	pool := testutil.PostgresDB(t)
	store := account.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := &account.Record{
		PublicKey:   "GPGTESTACCOUNT",
		DisplayName: "pg",
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     0,
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	next := *rec
	next.DisplayName = "pg2"
	next.Version = 1
	if err := store.CompareAndUpdate(ctx, &next, 0); err != nil {
		t.Fatalf("CompareAndUpdate failed: %v", err)
	}

	stale := *rec
	stale.DisplayName = "stale"
	stale.Version = 1
	err := store.CompareAndUpdate(ctx, &stale, 0)
	if !errors.Is(err, account.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var ce *account.ConflictError
	if !errors.As(err, &ce) || ce.Current.Version != 1 {
		t.Fatalf("expected ConflictError at version 1, got %v", err)
	}

	got, err := store.Get(ctx, rec.PublicKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.DisplayName != "pg2" || got.Version != 1 {
		t.Errorf("unexpected record after conflict: %+v", got)
	}
}

func TestPostgresStore_GetMissing(t *testing.T) {
	pool := testutil.PostgresDB(t)
	store := account.NewPostgresStore(pool)

	_, err := store.Get(context.Background(), "GMISSING")
	if !errors.Is(err, account.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
