package ledger

import (
	"context"
	"sort"
	"strings"
)

type SortField string

const (
	SortFirstSeen SortField = "first_seen"
	SortLastSeen  SortField = "last_seen"

	defaultPerPage = 10
	maxPerPage     = 100
)

// ParseSortField also accepts the *_group spellings used by older clients.
func ParseSortField(v string) SortField {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(v)), "_group") {
	case string(SortFirstSeen):
		return SortFirstSeen
	default:
		return SortLastSeen
	}
}

// ListQuery filters and pages LatestEntry values. Zero values mean "no filter".
type ListQuery struct {
	Page             int
	PerPage          int
	EntityID         string // substring match
	GroupType        GroupType
	Worldview        Worldview
	HasSexualContent *bool
	NoAuditSetting   *bool
	SortBy           SortField
	Descending       bool
}

type ListResult struct {
	Items      []LatestEntry  `json:"groups"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PerPage    int            `json:"per_page"`
	TotalPages int            `json:"total_pages"`
	Debug      map[string]any `json:"debug"`
}

func (q ListQuery) normalized() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}
	if q.SortBy != SortFirstSeen {
		q.SortBy = SortLastSeen
	}
	q.EntityID = strings.TrimSpace(q.EntityID)
	return q
}

func (q ListQuery) Match(e LatestEntry) bool {
	if q.EntityID != "" && !strings.Contains(e.EntityID, q.EntityID) {
		return false
	}
	if q.GroupType != "" && e.Classification.GroupType != q.GroupType {
		return false
	}
	if q.Worldview != "" && e.Classification.Worldview != q.Worldview {
		return false
	}
	if q.HasSexualContent != nil && e.Classification.HasSexualContent != *q.HasSexualContent {
		return false
	}
	if q.NoAuditSetting != nil && e.Classification.NoAuditSetting != *q.NoAuditSetting {
		return false
	}
	return true
}

// debug echoes the applied filters back to the caller.
func (q ListQuery) debug(total int) map[string]any {
	filters := map[string]any{}
	if q.EntityID != "" {
		filters["group_id"] = q.EntityID
	}
	if q.GroupType != "" {
		filters["group_type"] = q.GroupType
	}
	if q.Worldview != "" {
		filters["worldview"] = q.Worldview
	}
	if q.HasSexualContent != nil {
		filters["has_sexual_content"] = *q.HasSexualContent
	}
	if q.NoAuditSetting != nil {
		filters["no_audit_setting"] = *q.NoAuditSetting
	}
	order := "asc"
	if q.Descending {
		order = "desc"
	}
	return map[string]any{
		"filters":     filters,
		"sort_by":     q.SortBy,
		"sort_order":  order,
		"total_count": total,
	}
}

// List applies q over every latest entry. Filtering runs here rather than in
// the backend so that both backends answer identically.
func List(ctx context.Context, s Store, q ListQuery) (ListResult, error) {
	q = q.normalized()
	all, err := s.ListLatest(ctx)
	if err != nil {
		return ListResult{}, err
	}
	matched := make([]LatestEntry, 0, len(all))
	for _, e := range all {
		if q.Match(e) {
			matched = append(matched, e)
		}
	}
	sortEntries(matched, q.SortBy, q.Descending)

	res := ListResult{
		Items:   []LatestEntry{},
		Total:   len(matched),
		Page:    q.Page,
		PerPage: q.PerPage,
		Debug:   q.debug(len(matched)),
	}
	res.TotalPages = (res.Total + q.PerPage - 1) / q.PerPage
	// Compare pages before multiplying: a huge page number would overflow the offset.
	if q.Page <= res.TotalPages {
		start := (q.Page - 1) * q.PerPage
		end := min(start+q.PerPage, len(matched))
		res.Items = matched[start:end]
	}
	return res, nil
}

// Recent returns the most recently seen entries.
func Recent(ctx context.Context, s Store, limit int) ([]LatestEntry, error) {
	all, err := s.ListLatest(ctx)
	if err != nil {
		return nil, err
	}
	sortEntries(all, SortLastSeen, true)
	if limit < 0 {
		limit = 0
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func sortEntries(entries []LatestEntry, by SortField, desc bool) {
	key := func(e LatestEntry) int64 {
		if by == SortFirstSeen {
			return e.FirstSeenAt.UnixNano()
		}
		return e.LastSeenAt.UnixNano()
	}
	sort.SliceStable(entries, func(i, j int) bool {
		ki, kj := key(entries[i]), key(entries[j])
		if ki != kj {
			if desc {
				return ki > kj
			}
			return ki < kj
		}
		return entries[i].EntityID < entries[j].EntityID
	})
}
