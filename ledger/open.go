package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	BackendFile = "file"

	sqliteFileName = "group_ledger.db"
)

type StoreConfig struct {
	Backend string `yaml:"backend"` // sqlite, postgres, mysql or file
	DSN     string `yaml:"dsn"`
	// DataDir holds the file backend and the default SQLite database.
	DataDir string `yaml:"data_dir"`
	// FallbackToFile opens the file backend when the relational one cannot be reached.
	FallbackToFile bool `yaml:"fallback_to_file"`
}

// Open builds and initializes the configured store. The caller owns Close.
func Open(ctx context.Context, cfg StoreConfig, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = DialectSQLite
	}
	if backend == BackendFile {
		return openFile(ctx, cfg, log)
	}

	st, err := openRelational(ctx, backend, cfg, log)
	if err == nil {
		return st, nil
	}
	if !cfg.FallbackToFile {
		return nil, err
	}
	log.Warn("relational store unavailable, falling back to file store",
		zap.String("backend", backend), zap.String("data_dir", cfg.DataDir), zap.Error(err))
	return openFile(ctx, cfg, log)
}

func openRelational(ctx context.Context, backend string, cfg StoreConfig, log *zap.Logger) (Store, error) {
	dsn := cfg.DSN
	if dsn == "" && backend == DialectSQLite {
		dir := cfg.DataDir
		if dir == "" {
			dir = "."
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, unavailable("open sqlite", err)
		}
		dsn = filepath.Join(dir, sqliteFileName)
	}
	st, err := OpenGorm(GormOptions{Dialect: backend, DSN: dsn, Logger: log})
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func openFile(ctx context.Context, cfg StoreConfig, log *zap.Logger) (Store, error) {
	st, err := OpenFileStore(cfg.DataDir, log)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}
	return st, nil
}
