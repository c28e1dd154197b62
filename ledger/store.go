package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Candidate is one observation of an entity, ready to be upserted.
type Candidate struct {
	EntityID       string         `json:"entity_id"`
	Content        string         `json:"content"`
	ContentHash    string         `json:"content_hash"`
	Tags           []string       `json:"tags"`
	Classification Classification `json:"classification"`
	SourceLabel    string         `json:"source"`
	BatchID        string         `json:"batch_id"`
	ObservedAt     time.Time      `json:"observed_at"`
}

func (c Candidate) validate() error {
	n := len(c.EntityID)
	if n < minEntityIDLen || n > maxEntityIDLen || strings.Trim(c.EntityID, "0123456789") != "" {
		return fmt.Errorf("%w: entity id %q", ErrInvalidCandidate, c.EntityID)
	}
	if c.ContentHash != HashContent(c.Content) {
		return fmt.Errorf("%w: content hash mismatch for %s", ErrInvalidCandidate, c.EntityID)
	}
	return nil
}

// LatestEntry is the current state of an entity.
type LatestEntry struct {
	EntityID             string         `json:"entity_id"`
	Content              string         `json:"content"`
	ContentHash          string         `json:"content_hash"`
	Version              int            `json:"version"`
	Tags                 []string       `json:"tags"`
	Classification       Classification `json:"classification"`
	SourceLabel          string         `json:"source"`
	BatchID              string         `json:"batch_id"`
	FirstSeenAt          time.Time      `json:"first_seen_at"`
	LastSeenAt           time.Time      `json:"last_seen_at"`
	LastContentChangedAt time.Time      `json:"last_content_changed_at"`
	SeenCount            int64          `json:"seen_count"`
}

// HistoryEntry is an immutable snapshot of a superseded version.
type HistoryEntry struct {
	SequenceID     int64          `json:"sequence_id"`
	EntityID       string         `json:"entity_id"`
	Version        int            `json:"version"`
	Content        string         `json:"content"`
	ContentHash    string         `json:"content_hash"`
	Tags           []string       `json:"tags"`
	Classification Classification `json:"classification"`
	SourceLabel    string         `json:"source"`
	BatchID        string         `json:"batch_id"`
	RecordedAt     time.Time      `json:"recorded_at"`
}

type Action int

const (
	ActionInserted Action = iota + 1
	ActionUpdatedNoChange
	ActionUpdatedNewVersion
)

func (a Action) String() string {
	switch a {
	case ActionInserted:
		return "inserted"
	case ActionUpdatedNoChange:
		return "updated_no_change"
	case ActionUpdatedNewVersion:
		return "updated_new_version"
	default:
		return "unknown"
	}
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

type UpsertResult struct {
	EntityID string `json:"entity_id"`
	Action   Action `json:"action"`
	Version  int    `json:"version"`
}

func (r UpsertResult) ContentChanged() bool {
	return r.Action == ActionInserted || r.Action == ActionUpdatedNewVersion
}

type Stats struct {
	TotalEntities     int64               `json:"total_groups"`
	TotalHistoryRows  int64               `json:"total_history_records"`
	TotalSeenCount    int64               `json:"total_seen_count"`
	CountsByGroupType map[GroupType]int64 `json:"group_type_stats"`
}

// Store is the versioned upsert store. Implementations must serialize upserts
// per entity and make each upsert all-or-nothing.
type Store interface {
	Init(ctx context.Context) error
	Upsert(ctx context.Context, c Candidate) (UpsertResult, error)
	// Latest returns nil, nil when the entity is unknown.
	Latest(ctx context.Context, entityID string) (*LatestEntry, error)
	// History returns at most limit rows, version descending.
	History(ctx context.Context, entityID string, limit int) ([]HistoryEntry, error)
	Search(ctx context.Context, keyword string, limit int) ([]LatestEntry, error)
	Stats(ctx context.Context) (Stats, error)
	ListLatest(ctx context.Context) ([]LatestEntry, error)
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// applyCandidate decides the upsert outcome for c against the current state.
// hist is non-nil only when the content changed.
func applyCandidate(cur *LatestEntry, c Candidate) (next LatestEntry, hist *HistoryEntry, res UpsertResult) {
	observed := c.ObservedAt.UTC()
	if c.ObservedAt.IsZero() {
		observed = time.Now().UTC()
	}
	res.EntityID = c.EntityID

	if cur == nil {
		next = LatestEntry{
			EntityID:             c.EntityID,
			Content:              c.Content,
			ContentHash:          c.ContentHash,
			Version:              1,
			Tags:                 cloneTags(c.Tags),
			Classification:       c.Classification,
			SourceLabel:          c.SourceLabel,
			BatchID:              c.BatchID,
			FirstSeenAt:          observed,
			LastSeenAt:           observed,
			LastContentChangedAt: observed,
			SeenCount:            1,
		}
		res.Action = ActionInserted
		res.Version = 1
		return next, nil, res
	}

	// Late arrivals never move timestamps backwards.
	if observed.Before(cur.LastSeenAt) {
		observed = cur.LastSeenAt
	}

	next = *cur
	next.Tags = cloneTags(cur.Tags)
	next.LastSeenAt = observed
	next.SeenCount = cur.SeenCount + 1

	if cur.ContentHash == c.ContentHash {
		res.Action = ActionUpdatedNoChange
		res.Version = cur.Version
		return next, nil, res
	}

	hist = &HistoryEntry{
		EntityID:       cur.EntityID,
		Version:        cur.Version,
		Content:        cur.Content,
		ContentHash:    cur.ContentHash,
		Tags:           cloneTags(cur.Tags),
		Classification: cur.Classification,
		SourceLabel:    cur.SourceLabel,
		BatchID:        cur.BatchID,
		RecordedAt:     observed,
	}
	next.Content = c.Content
	next.ContentHash = c.ContentHash
	next.Tags = cloneTags(c.Tags)
	next.Classification = c.Classification
	next.SourceLabel = c.SourceLabel
	next.BatchID = c.BatchID
	next.Version = cur.Version + 1
	next.LastContentChangedAt = observed

	res.Action = ActionUpdatedNewVersion
	res.Version = next.Version
	return next, hist, res
}

func cloneTags(tags []string) []string {
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}
