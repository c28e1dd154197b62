package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestGormStore_ClosedIsUnavailable(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	st, err := OpenGorm(GormOptions{Dialect: DialectSQLite, DSN: dsn})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Init(ctx); err != nil {
		t.Fatal(err)
	}
	mustUpsert(t, st, newCandidate(t, "123456", "A", baseTime))
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := st.Upsert(ctx, newCandidate(t, "123456", "B", baseTime)); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("upsert: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := st.Stats(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("stats: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := st.Latest(ctx, "123456"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("latest: expected ErrStoreUnavailable, got %v", err)
	}
	if err := st.Ping(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("ping: expected ErrStoreUnavailable, got %v", err)
	}

	reopened, err := OpenGorm(GormOptions{Dialect: DialectSQLite, DSN: dsn})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	if err := reopened.Init(ctx); err != nil {
		t.Fatal(err)
	}
	e, err := reopened.Latest(ctx, "123456")
	if err != nil || e == nil {
		t.Fatalf("latest after reopen: %v %v", e, err)
	}
	if e.Content != "A" || e.Version != 1 || e.SeenCount != 1 {
		t.Fatalf("failed upsert changed the row: %+v", e)
	}
	stats, err := reopened.Stats(ctx)
	if err != nil || stats.TotalHistoryRows != 0 {
		t.Fatalf("stats after reopen: %+v %v", stats, err)
	}
}
