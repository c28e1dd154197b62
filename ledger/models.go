package ledger

import (
	"time"

	"gorm.io/datatypes"
)

const (
	latestTable  = "group_raw_latest"
	historyTable = "group_raw_history"
)

type LatestRow struct {
	EntityID             string                      `gorm:"primaryKey;size:16"`
	Content              string                      `gorm:"type:text"`
	ContentHash          string                      `gorm:"size:64;index"`
	Version              int                         `gorm:"not null"`
	Tags                 datatypes.JSONSlice[string] `gorm:"column:tags"`
	GroupType            string                      `gorm:"size:16;index"`
	Worldview            string                      `gorm:"size:16;index"`
	HasSexualContent     bool                        `gorm:"index"`
	NoAuditSetting       bool                        `gorm:"index"`
	SourceLabel          string                      `gorm:"size:128"`
	BatchID              string                      `gorm:"size:64"`
	FirstSeenAt          time.Time                   `gorm:"index"`
	LastSeenAt           time.Time                   `gorm:"index"`
	LastContentChangedAt time.Time
	SeenCount            int64 `gorm:"index"`
}

func (LatestRow) TableName() string { return latestTable }

type HistoryRow struct {
	ID               int64                       `gorm:"primaryKey;autoIncrement"`
	EntityID         string                      `gorm:"size:16;uniqueIndex:uniq_entity_version"`
	Version          int                         `gorm:"uniqueIndex:uniq_entity_version"`
	Content          string                      `gorm:"type:text"`
	ContentHash      string                      `gorm:"size:64"`
	Tags             datatypes.JSONSlice[string] `gorm:"column:tags"`
	GroupType        string                      `gorm:"size:16"`
	Worldview        string                      `gorm:"size:16"`
	HasSexualContent bool
	NoAuditSetting   bool
	SourceLabel      string    `gorm:"size:128"`
	BatchID          string    `gorm:"size:64"`
	RecordedAt       time.Time `gorm:"index"`
}

func (HistoryRow) TableName() string { return historyTable }

func latestRowFrom(e LatestEntry) LatestRow {
	return LatestRow{
		EntityID:             e.EntityID,
		Content:              e.Content,
		ContentHash:          e.ContentHash,
		Version:              e.Version,
		Tags:                 datatypes.JSONSlice[string](cloneTags(e.Tags)),
		GroupType:            string(e.Classification.GroupType),
		Worldview:            string(e.Classification.Worldview),
		HasSexualContent:     e.Classification.HasSexualContent,
		NoAuditSetting:       e.Classification.NoAuditSetting,
		SourceLabel:          e.SourceLabel,
		BatchID:              e.BatchID,
		FirstSeenAt:          e.FirstSeenAt.UTC(),
		LastSeenAt:           e.LastSeenAt.UTC(),
		LastContentChangedAt: e.LastContentChangedAt.UTC(),
		SeenCount:            e.SeenCount,
	}
}

func (r LatestRow) entry() LatestEntry {
	return LatestEntry{
		EntityID:    r.EntityID,
		Content:     r.Content,
		ContentHash: r.ContentHash,
		Version:     r.Version,
		Tags:        cloneTags(r.Tags),
		Classification: Classification{
			GroupType:        GroupType(r.GroupType),
			Worldview:        Worldview(r.Worldview),
			HasSexualContent: r.HasSexualContent,
			NoAuditSetting:   r.NoAuditSetting,
		},
		SourceLabel:          r.SourceLabel,
		BatchID:              r.BatchID,
		FirstSeenAt:          r.FirstSeenAt.UTC(),
		LastSeenAt:           r.LastSeenAt.UTC(),
		LastContentChangedAt: r.LastContentChangedAt.UTC(),
		SeenCount:            r.SeenCount,
	}
}

func historyRowFrom(h HistoryEntry) HistoryRow {
	return HistoryRow{
		EntityID:         h.EntityID,
		Version:          h.Version,
		Content:          h.Content,
		ContentHash:      h.ContentHash,
		Tags:             datatypes.JSONSlice[string](cloneTags(h.Tags)),
		GroupType:        string(h.Classification.GroupType),
		Worldview:        string(h.Classification.Worldview),
		HasSexualContent: h.Classification.HasSexualContent,
		NoAuditSetting:   h.Classification.NoAuditSetting,
		SourceLabel:      h.SourceLabel,
		BatchID:          h.BatchID,
		RecordedAt:       h.RecordedAt.UTC(),
	}
}

func (r HistoryRow) entry() HistoryEntry {
	return HistoryEntry{
		SequenceID:  r.ID,
		EntityID:    r.EntityID,
		Version:     r.Version,
		Content:     r.Content,
		ContentHash: r.ContentHash,
		Tags:        cloneTags(r.Tags),
		Classification: Classification{
			GroupType:        GroupType(r.GroupType),
			Worldview:        Worldview(r.Worldview),
			HasSexualContent: r.HasSexualContent,
			NoAuditSetting:   r.NoAuditSetting,
		},
		SourceLabel: r.SourceLabel,
		BatchID:     r.BatchID,
		RecordedAt:  r.RecordedAt.UTC(),
	}
}
