package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Spooler drains event files dropped by a OneBot client into spool directories.
type Spooler struct {
	inputs       []SpoolInput
	concurrency  int
	pollInterval time.Duration
	pipeline     *Pipeline
	filter       *EventFilter
	log          *zap.Logger
}

type SpoolStats struct {
	Files       int
	FilesDone   int
	FilesFailed int
	FilesKept   int
	Messages    int
	Inserted    int
	Unchanged   int
	NewVersions int
	Skipped     int
	Errors      int
}

func NewSpooler(cfg SpoolConfig, p *Pipeline, f *EventFilter, log *zap.Logger) (*Spooler, error) {
	if p == nil {
		return nil, errors.New("spool: pipeline is required")
	}
	inputs := make([]SpoolInput, 0, len(cfg.Inputs.Items))
	for _, in := range cfg.Inputs.Items {
		if strings.TrimSpace(in.Glob) != "" {
			inputs = append(inputs, in)
		}
	}
	if len(inputs) == 0 {
		return nil, errors.New("spool: no inputs configured")
	}
	if f == nil {
		f = NewEventFilter(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Spooler{
		inputs:       inputs,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		pipeline:     p,
		filter:       f,
		log:          log.Named("spool"),
	}, nil
}

// Run polls until ctx is done.
func (s *Spooler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("spool run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce ingests every matching file once. It stops at the first store
// failure and leaves that file in place for the next run.
func (s *Spooler) RunOnce(ctx context.Context) (SpoolStats, error) {
	start := time.Now()
	log := s.log.With(zap.String("run_id", uuid.NewString()))
	var stats SpoolStats

	items, err := s.expandInputs()
	if err != nil {
		return stats, err
	}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.ingestFile(ctx, it, &stats, log); err != nil {
			if isStoreFault(err) {
				return stats, err
			}
			log.Warn("ingest file failed", zap.String("path", it.path), zap.Error(err))
		}
	}
	log.Info("spool run done",
		zap.Int("files", stats.Files),
		zap.Int("done", stats.FilesDone),
		zap.Int("failed", stats.FilesFailed),
		zap.Int("messages", stats.Messages),
		zap.Int("inserted", stats.Inserted),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("new_versions", stats.NewVersions),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("elapsed", time.Since(start)),
	)
	return stats, nil
}

func isStoreFault(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrMalformedState) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type spoolItem struct {
	path  string
	input SpoolInput
}

func (s *Spooler) expandInputs() ([]spoolItem, error) {
	seen := make(map[string]struct{})
	var out []spoolItem
	for _, in := range s.inputs {
		matches, err := expandGlobWithDoubleStar(in.Glob)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", in.Glob, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, spoolItem{path: m, input: in})
		}
	}
	return out, nil
}

func (s *Spooler) ingestFile(ctx context.Context, it spoolItem, stats *SpoolStats, log *zap.Logger) error {
	info, err := os.Stat(it.path)
	if err != nil {
		return err
	}
	if info.IsDir() || info.Size() == 0 {
		return nil
	}
	stats.Files++
	log = log.With(zap.String("input", it.input.Name), zap.String("path", it.path))

	data, err := os.ReadFile(it.path)
	if err != nil {
		stats.FilesFailed++
		s.quarantine(it, log)
		return err
	}
	events, err := DecodeEvents(data)
	if err != nil {
		stats.FilesFailed++
		log.Warn("undecodable event file", zap.Error(err))
		s.quarantine(it, log)
		return nil
	}

	msgs := s.filter.Messages(events)
	stats.Messages += len(msgs)
	outcomes, err := s.pipeline.IngestBatch(ctx, msgs, s.concurrency)
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			stats.Skipped++
		case o.Err != nil:
			stats.Errors++
		case o.Result.Action == ActionInserted:
			stats.Inserted++
		case o.Result.Action == ActionUpdatedNoChange:
			stats.Unchanged++
		case o.Result.Action == ActionUpdatedNewVersion:
			stats.NewVersions++
		}
	}
	if err != nil {
		stats.FilesKept++
		return fmt.Errorf("ingest %s: %w", it.path, err)
	}

	if it.input.DoneDir != "" {
		if _, err := moveSpoolFile(it.path, it.input.DoneDir); err != nil {
			return err
		}
	} else if err := os.Remove(it.path); err != nil {
		return err
	}
	stats.FilesDone++
	log.Debug("file ingested", zap.Int("events", len(events)), zap.Int("messages", len(msgs)))
	return nil
}

// quarantine moves a bad file out of the way when the input has an error dir.
// Without one the file stays and is retried next run.
func (s *Spooler) quarantine(it spoolItem, log *zap.Logger) {
	if strings.TrimSpace(it.input.ErrorDir) == "" {
		return
	}
	dst, err := moveSpoolFile(it.path, it.input.ErrorDir)
	if err != nil {
		log.Warn("quarantine failed", zap.Error(err))
		return
	}
	log.Info("file quarantined", zap.String("dst", dst))
}

// expandGlobWithDoubleStar extends filepath.Glob with a single ** segment that
// matches any directory depth.
func expandGlobWithDoubleStar(pattern string) ([]string, error) {
	idx := strings.Index(pattern, "**")
	if idx < 0 {
		return filepath.Glob(pattern)
	}

	root := filepath.Clean(strings.TrimRight(pattern[:idx], `/\`))
	suffix := filepath.ToSlash(strings.TrimLeft(pattern[idx+2:], `/\`))
	if suffix == "" {
		suffix = "*"
	}
	baseOnly := !strings.Contains(suffix, "/")
	rootSlash := filepath.ToSlash(root)

	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := strings.TrimLeft(strings.TrimPrefix(filepath.ToSlash(p), rootSlash), "/")
		candidate := rel
		if baseOnly {
			candidate = path.Base(rel)
		}
		ok, err := path.Match(suffix, candidate)
		if err != nil {
			return err
		}
		if ok {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}
