package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_FileBackend(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(context.Background(), StoreConfig{Backend: "FILE", DataDir: dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, ok := st.(*FileStore); !ok {
		t.Fatalf("expected *FileStore, got %T", st)
	}
	if _, err := os.Stat(filepath.Join(dir, latestFileName)); err != nil {
		t.Fatalf("expected initialized files: %v", err)
	}
}

func TestOpen_DefaultSQLitePath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	st, err := Open(context.Background(), StoreConfig{DataDir: dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	gs, ok := st.(*GormStore)
	if !ok || gs.Dialect() != DialectSQLite {
		t.Fatalf("expected sqlite store, got %T", st)
	}
	if _, err := os.Stat(filepath.Join(dir, sqliteFileName)); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), StoreConfig{Backend: "oracle", DSN: "x"}, nil); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestOpen_FallbackToFile(t *testing.T) {
	dir := t.TempDir()
	// a directory where the database file should be makes sqlite fail to open
	dbPath := filepath.Join(dir, "db-is-a-dir")
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := StoreConfig{Backend: DialectSQLite, DSN: dbPath, DataDir: filepath.Join(dir, "files")}

	if _, err := Open(context.Background(), cfg, nil); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable without fallback, got %v", err)
	}

	cfg.FallbackToFile = true
	st, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, ok := st.(*FileStore); !ok {
		t.Fatalf("expected fallback to *FileStore, got %T", st)
	}
}
