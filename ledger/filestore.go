package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const (
	latestFileName  = "group_raw_latest.json"
	historyFileName = "group_raw_history.json"
	lockFileName    = "group_raw.lock"
	fileLockRetry   = 25 * time.Millisecond
)

type historyFile struct {
	NextSequence int64          `json:"next_sequence"`
	Rows         []HistoryEntry `json:"rows"`
}

type fileStamp struct {
	exists  bool
	size    int64
	modNano int64
}

// fileState is an immutable snapshot of both files. err is set when the files
// could not be read or failed validation.
type fileState struct {
	latest       map[string]LatestEntry
	history      []HistoryEntry
	nextSeq      int64
	latestStamp  fileStamp
	historyStamp fileStamp
	err          error
}

func (st *fileState) clone() *fileState {
	ns := &fileState{
		latest:  make(map[string]LatestEntry, len(st.latest)+1),
		history: make([]HistoryEntry, len(st.history), len(st.history)+1),
		nextSeq: st.nextSeq,
	}
	for k, v := range st.latest {
		ns.latest[k] = v
	}
	copy(ns.history, st.history)
	return ns
}

// FileStore keeps the latest map and the history log in two JSON files. Every
// write replaces a whole file via rename. Content changes write history before
// latest, reset writes latest before history, and load drops history rows that
// latest does not account for, so an interrupted write reads back as the state
// before it.
type FileStore struct {
	dir   string
	log   *zap.Logger
	flock *flock.Flock

	// rflock is a second handle on the lock file. flock locks belong to the
	// open file, so its shared lock also excludes writers in this process.
	rflock    *flock.Flock
	writeFile func(path string, data []byte) error

	resetMu  sync.RWMutex
	writeMu  sync.Mutex
	reloadMu sync.Mutex
	state    atomic.Pointer[fileState]
}

func OpenFileStore(dir string, log *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file store: data dir is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, unavailable("file store", err)
	}
	lockPath := filepath.Join(dir, lockFileName)
	return &FileStore{
		dir:       dir,
		log:       log.With(zap.String("backend", "file"), zap.String("dir", dir)),
		flock:     flock.New(lockPath),
		rflock:    flock.New(lockPath),
		writeFile: writeFileAtomic,
	}, nil
}

func (s *FileStore) latestPath() string  { return filepath.Join(s.dir, latestFileName) }
func (s *FileStore) historyPath() string { return filepath.Join(s.dir, historyFileName) }

func (s *FileStore) lockFiles(ctx context.Context) (func(), error) {
	locked, err := s.flock.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		return nil, unavailable("lock "+s.flock.Path(), err)
	}
	if !locked {
		return nil, unavailable("lock "+s.flock.Path(), errors.New("not acquired"))
	}
	return func() {
		if err := s.flock.Unlock(); err != nil {
			s.log.Warn("unlock failed", zap.Error(err))
		}
	}, nil
}

func (s *FileStore) Init(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	unlock, err := s.lockFiles(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	empty := &fileState{latest: map[string]LatestEntry{}, nextSeq: 1}
	if _, err := os.Stat(s.latestPath()); errors.Is(err, os.ErrNotExist) {
		if err := s.writeLatest(empty); err != nil {
			return unavailable("init", err)
		}
	}
	if _, err := os.Stat(s.historyPath()); errors.Is(err, os.ErrNotExist) {
		if err := s.writeHistory(empty); err != nil {
			return unavailable("init", err)
		}
	}
	st := s.load()
	s.state.Store(st)
	return st.err
}

func stampOf(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fileStamp{}, nil
	}
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{exists: true, size: info.Size(), modNano: info.ModTime().UnixNano()}, nil
}

func (s *FileStore) load() *fileState {
	st := &fileState{latest: map[string]LatestEntry{}, nextSeq: 1}
	var err error
	// Stamp before reading: a concurrent rewrite then shows up as a changed stamp later.
	if st.latestStamp, err = stampOf(s.latestPath()); err != nil {
		st.err = unavailable("stat latest", err)
		return st
	}
	if st.historyStamp, err = stampOf(s.historyPath()); err != nil {
		st.err = unavailable("stat history", err)
		return st
	}

	if st.latestStamp.exists {
		b, err := os.ReadFile(s.latestPath())
		if err != nil {
			st.err = unavailable("read latest", err)
			return st
		}
		if err := json.Unmarshal(b, &st.latest); err != nil {
			st.err = fmt.Errorf("%w: %s: %w", ErrMalformedState, latestFileName, err)
			return st
		}
		if st.latest == nil {
			st.latest = map[string]LatestEntry{}
		}
	}
	if st.historyStamp.exists {
		b, err := os.ReadFile(s.historyPath())
		if err != nil {
			st.err = unavailable("read history", err)
			return st
		}
		var hf historyFile
		if err := json.Unmarshal(b, &hf); err != nil {
			st.err = fmt.Errorf("%w: %s: %w", ErrMalformedState, historyFileName, err)
			return st
		}
		st.history = hf.Rows
		st.nextSeq = hf.NextSequence
	}

	dropped, err := st.reconcile()
	if err != nil {
		st.err = err
		return st
	}
	if dropped > 0 {
		s.log.Warn("dropped history rows from an interrupted write", zap.Int("rows", dropped))
	}
	return st
}

// reconcile drops orphaned history rows and verifies the remaining state.
func (st *fileState) reconcile() (int, error) {
	for id, e := range st.latest {
		switch {
		case e.EntityID != id:
			return 0, malformed("latest key %q holds entity %q", id, e.EntityID)
		case e.Version < 1 || e.SeenCount < 1:
			return 0, malformed("entity %s: version %d seen_count %d", id, e.Version, e.SeenCount)
		case HashContent(e.Content) != e.ContentHash:
			return 0, malformed("entity %s: content hash mismatch", id)
		}
	}
	if st.nextSeq < 1 {
		return 0, malformed("next_sequence %d", st.nextSeq)
	}

	kept := make([]HistoryEntry, 0, len(st.history))
	versions := make(map[string][]int)
	seqs := make(map[int64]struct{}, len(st.history))
	dropped := 0
	for _, h := range st.history {
		cur, ok := st.latest[h.EntityID]
		if !ok || h.Version >= cur.Version {
			dropped++
			continue
		}
		if _, dup := seqs[h.SequenceID]; dup || h.SequenceID < 1 || h.SequenceID >= st.nextSeq {
			return 0, malformed("history sequence %d", h.SequenceID)
		}
		seqs[h.SequenceID] = struct{}{}
		versions[h.EntityID] = append(versions[h.EntityID], h.Version)
		kept = append(kept, h)
	}
	for id, e := range st.latest {
		vs := versions[id]
		if len(vs) != e.Version-1 {
			return 0, malformed("entity %s: %d history rows for version %d", id, len(vs), e.Version)
		}
		sort.Ints(vs)
		for i, v := range vs {
			if v != i+1 {
				return 0, malformed("entity %s: history version gap at %d", id, i+1)
			}
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].SequenceID < kept[j].SequenceID })
	st.history = kept
	return dropped, nil
}

func (s *FileStore) changedOnDisk(st *fileState) bool {
	ls, err := stampOf(s.latestPath())
	if err != nil || ls != st.latestStamp {
		return true
	}
	hs, err := stampOf(s.historyPath())
	return err != nil || hs != st.historyStamp
}

// snapshot returns the current state, reloading when another writer touched
// the files. A reload holds the shared file lock so it never sees half of a
// two-file write.
func (s *FileStore) snapshot(ctx context.Context) (*fileState, error) {
	cur := s.state.Load()
	if cur != nil && !s.changedOnDisk(cur) {
		return cur, cur.err
	}

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	if cur = s.state.Load(); cur != nil && !s.changedOnDisk(cur) {
		return cur, cur.err
	}
	locked, err := s.rflock.TryRLockContext(ctx, fileLockRetry)
	if err == nil && !locked {
		err = errors.New("not acquired")
	}
	if err != nil {
		return nil, unavailable("read lock "+s.rflock.Path(), err)
	}
	defer func() {
		if err := s.rflock.Unlock(); err != nil {
			s.log.Warn("unlock failed", zap.Error(err))
		}
	}()

	st := s.load()
	s.state.CompareAndSwap(cur, st)
	return st, st.err
}

func (s *FileStore) restamp(st *fileState) {
	st.latestStamp, _ = stampOf(s.latestPath())
	st.historyStamp, _ = stampOf(s.historyPath())
}

func (s *FileStore) writeLatest(st *fileState) error {
	b, err := json.MarshalIndent(st.latest, "", "  ")
	if err != nil {
		return err
	}
	return s.writeFile(s.latestPath(), b)
}

func (s *FileStore) writeHistory(st *fileState) error {
	rows := st.history
	if rows == nil {
		rows = []HistoryEntry{}
	}
	b, err := json.MarshalIndent(historyFile{NextSequence: st.nextSeq, Rows: rows}, "", "  ")
	if err != nil {
		return err
	}
	return s.writeFile(s.historyPath(), b)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (s *FileStore) Upsert(ctx context.Context, c Candidate) (UpsertResult, error) {
	if err := c.validate(); err != nil {
		return UpsertResult{}, err
	}
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	// Each write rewrites the whole file, so writers serialize store-wide.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	unlock, err := s.lockFiles(ctx)
	if err != nil {
		return UpsertResult{}, err
	}
	defer unlock()

	// Stamps can miss a same-size rewrite inside one mtime tick; writers always re-read.
	st := s.load()
	s.state.Store(st)
	if st.err != nil {
		return UpsertResult{}, fmt.Errorf("upsert %s: %w", c.EntityID, st.err)
	}

	var cur *LatestEntry
	if e, ok := st.latest[c.EntityID]; ok {
		cur = &e
	}
	next, hist, res := applyCandidate(cur, c)

	ns := st.clone()
	ns.latest[c.EntityID] = next
	if hist != nil {
		hist.SequenceID = ns.nextSeq
		ns.nextSeq++
		ns.history = append(ns.history, *hist)
		if err := s.writeHistory(ns); err != nil {
			return UpsertResult{}, unavailable("upsert "+c.EntityID, err)
		}
	}
	if err := s.writeLatest(ns); err != nil {
		return UpsertResult{}, unavailable("upsert "+c.EntityID, err)
	}
	s.restamp(ns)
	s.state.Store(ns)
	return res, nil
}

func (s *FileStore) Latest(ctx context.Context, entityID string) (*LatestEntry, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := st.latest[entityID]
	if !ok {
		return nil, nil
	}
	e.Tags = cloneTags(e.Tags)
	return &e, nil
}

func (s *FileStore) History(ctx context.Context, entityID string, limit int) ([]HistoryEntry, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := []HistoryEntry{}
	if limit <= 0 {
		return out, nil
	}
	for _, h := range st.history {
		if h.EntityID == entityID {
			h.Tags = cloneTags(h.Tags)
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) Search(ctx context.Context, keyword string, limit int) ([]LatestEntry, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	keyword = asciiLower(strings.TrimSpace(keyword))
	out := []LatestEntry{}
	if keyword == "" || limit <= 0 {
		return out, nil
	}
	for _, e := range st.latest {
		if strings.Contains(asciiLower(e.Content), keyword) {
			e.Tags = cloneTags(e.Tags)
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SeenCount != out[j].SeenCount {
			return out[i].SeenCount > out[j].SeenCount
		}
		return out[i].EntityID < out[j].EntityID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// asciiLower folds A-Z only, matching LOWER() in SQLite.
func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{
		TotalEntities:     int64(len(st.latest)),
		TotalHistoryRows:  int64(len(st.history)),
		CountsByGroupType: map[GroupType]int64{},
	}
	for _, e := range st.latest {
		out.TotalSeenCount += e.SeenCount
		if e.Classification.GroupType != "" {
			out.CountsByGroupType[e.Classification.GroupType]++
		}
	}
	return out, nil
}

func (s *FileStore) ListLatest(ctx context.Context) ([]LatestEntry, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]LatestEntry, 0, len(st.latest))
	for _, e := range st.latest {
		e.Tags = cloneTags(e.Tags)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// Reset empties both files. It also recovers a store whose files are malformed.
func (s *FileStore) Reset(ctx context.Context) error {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	unlock, err := s.lockFiles(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	ns := &fileState{latest: map[string]LatestEntry{}, nextSeq: 1}
	if st := s.load(); st.err == nil {
		ns.nextSeq = st.nextSeq
	}
	if err := s.writeLatest(ns); err != nil {
		return unavailable("reset", err)
	}
	if err := s.writeHistory(ns); err != nil {
		return unavailable("reset", err)
	}
	s.restamp(ns)
	s.state.Store(ns)
	s.log.Info("store reset")
	return nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return unavailable("ping", err)
	}
	if !info.IsDir() {
		return unavailable("ping", fmt.Errorf("%s is not a directory", s.dir))
	}
	_, err = s.snapshot(ctx)
	return err
}

func (s *FileStore) Close() error { return nil }
