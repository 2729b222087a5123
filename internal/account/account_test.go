package account

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/lumenlock/lumenlock/internal/strkey"
)

func newTestAddress(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr, err := strkey.Encode(pub)
	if err != nil {
		t.Fatalf("encode key: %v", err)
	}
	return addr
}

func newTestService() *Service {
	return NewService(NewMemoryStore(), slog.Default())
}

func TestLoadOrCreate_CreatesAtVersionZero(t *testing.T) {
	svc := newTestService()
	addr := newTestAddress(t)

	rec, err := svc.LoadOrCreate(context.Background(), addr)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if rec.Version != 0 {
		t.Errorf("expected version 0, got %d", rec.Version)
	}
	if rec.PublicKey != addr {
		t.Errorf("expected record keyed by %s, got %s", addr, rec.PublicKey)
	}
	if rec.DisplayName == "" {
		t.Error("expected a default display name")
	}
}

func TestLoadOrCreate_ReturnsExisting(t *testing.T) {
	svc := newTestService()
	addr := newTestAddress(t)
	ctx := context.Background()

	first, err := svc.LoadOrCreate(ctx, addr)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	if _, err := svc.Update(ctx, addr, func(r *Record) error {
		r.DisplayName = "alice"
		return nil
	}, first.Version); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	again, err := svc.LoadOrCreate(ctx, addr)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if again.DisplayName != "alice" {
		t.Errorf("expected existing record, got %+v", again)
	}
	if again.Version != 1 {
		t.Errorf("expected version 1, got %d", again.Version)
	}
}

func TestLoadOrCreate_RejectsMalformedKey(t *testing.T) {
	svc := newTestService()
	if _, err := svc.LoadOrCreate(context.Background(), "G_ALICE"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestUpdate_IncrementsVersionByOne(t *testing.T) {
	svc := newTestService()
	addr := newTestAddress(t)
	ctx := context.Background()

	rec, _ := svc.LoadOrCreate(ctx, addr)
	for i := int64(0); i < 3; i++ {
		var err error
		rec, err = svc.Update(ctx, addr, func(r *Record) error {
			r.DisplayName = "name"
			return nil
		}, rec.Version)
		if err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
		if rec.Version != i+1 {
			t.Errorf("expected version %d, got %d", i+1, rec.Version)
		}
	}
}

func TestUpdate_StaleVersionConflicts(t *testing.T) {
	// Scenario: two callers read version 0; the first commits, the
	// second must fail with Conflict and the version must be 1, not 2.
	svc := newTestService()
	addr := newTestAddress(t)
	ctx := context.Background()

	if _, err := svc.LoadOrCreate(ctx, addr); err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	if _, err := svc.Update(ctx, addr, func(r *Record) error {
		r.DisplayName = "first"
		return nil
	}, 0); err != nil {
		t.Fatalf("first Update failed: %v", err)
	}

	_, err := svc.Update(ctx, addr, func(r *Record) error {
		r.DisplayName = "second"
		return nil
	}, 0)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatal("expected ConflictError with current record")
	}
	if ce.Current.Version != 1 {
		t.Errorf("expected current version 1, got %d", ce.Current.Version)
	}
	if ce.Current.DisplayName != "first" {
		t.Errorf("expected committed value from first writer, got %q", ce.Current.DisplayName)
	}
}

func TestUpdate_ConcurrentWritersOneWins(t *testing.T) {
	svc := newTestService()
	addr := newTestAddress(t)
	ctx := context.Background()

	if _, err := svc.LoadOrCreate(ctx, addr); err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Update(ctx, addr, func(r *Record) error {
				r.DisplayName = "w"
				return nil
			}, 0)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}

	rec, err := svc.LoadOrCreate(ctx, addr)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("expected final version 1, got %d", rec.Version)
	}
}

func TestUpdateWithRetry_RefreshesVersionOnce(t *testing.T) {
	svc := newTestService()
	addr := newTestAddress(t)
	ctx := context.Background()

	if _, err := svc.LoadOrCreate(ctx, addr); err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	// Advance the record so expectedVersion 0 is stale.
	if _, err := svc.Update(ctx, addr, func(r *Record) error {
		r.DisplayName = "first"
		return nil
	}, 0); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	rec, err := svc.UpdateWithRetry(ctx, addr, func(r *Record) error {
		r.DisplayName = "second"
		return nil
	}, 0)
	if err != nil {
		t.Fatalf("UpdateWithRetry failed: %v", err)
	}
	if rec.Version != 2 {
		t.Errorf("expected version 2 after refreshed retry, got %d", rec.Version)
	}
	if rec.DisplayName != "second" {
		t.Errorf("expected second write applied, got %q", rec.DisplayName)
	}
}

func TestUpdate_MutatorErrorAborts(t *testing.T) {
	svc := newTestService()
	addr := newTestAddress(t)
	ctx := context.Background()

	if _, err := svc.LoadOrCreate(ctx, addr); err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	boom := errors.New("boom")
	if _, err := svc.Update(ctx, addr, func(r *Record) error { return boom }, 0); !errors.Is(err, boom) {
		t.Errorf("expected mutator error surfaced, got %v", err)
	}

	rec, _ := svc.LoadOrCreate(ctx, addr)
	if rec.Version != 0 {
		t.Errorf("aborted update must not bump version, got %d", rec.Version)
	}
}

func TestUpdate_MissingRecord(t *testing.T) {
	svc := newTestService()
	addr := newTestAddress(t)

	_, err := svc.Update(context.Background(), addr, func(r *Record) error { return nil }, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
