package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"

	latestFTSTable     = "group_raw_latest_fts"
	upsertMaxAttempts  = 3
	sqliteBusyPragmas  = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqliteFTSMinRunes  = 3
	mysqlFTSMinRunes   = 2
	mysqlFullTextIndex = "ft_content"
)

// GormStore is the relational backend. It runs on SQLite, PostgreSQL or MySQL.
type GormStore struct {
	db      *gorm.DB
	dialect string
	log     *zap.Logger

	keys    keyedMutex
	resetMu sync.RWMutex
	// SQLite admits a single writer; serialize in-process instead of spinning on SQLITE_BUSY.
	writeMu sync.Mutex
	fts     bool
}

type GormOptions struct {
	Dialect string
	DSN     string
	Logger  *zap.Logger
}

func OpenGorm(opts GormOptions) (*GormStore, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	dialect := strings.ToLower(strings.TrimSpace(opts.Dialect))
	if dialect == "" {
		dialect = DialectSQLite
	}
	dialector, err := dialectorFor(dialect, opts.DSN)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		zap.NewStdLog(log.Named("gorm")),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, unavailable("open "+dialect, err)
	}
	return &GormStore{db: db, dialect: dialect, log: log.With(zap.String("backend", dialect))}, nil
}

func dialectorFor(dialect string, dsn string) (gorm.Dialector, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s: dsn is required", dialect)
	}
	switch dialect {
	case DialectSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?" + sqliteBusyPragmas
		}
		return sqlite.Open(dsn), nil
	case DialectPostgres:
		return postgres.Open(dsn), nil
	case DialectMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func (s *GormStore) Dialect() string { return s.dialect }

func (s *GormStore) Init(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&LatestRow{}, &HistoryRow{}); err != nil {
		return unavailable("migrate", err)
	}
	switch s.dialect {
	case DialectSQLite:
		s.fts = s.initSQLiteFTS(db)
	case DialectMySQL:
		s.fts = s.initMySQLFullText(db)
	}
	s.log.Debug("store initialized", zap.Bool("fts", s.fts))
	return nil
}

func (s *GormStore) initSQLiteFTS(db *gorm.DB) bool {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS ` + latestFTSTable + ` USING fts5(entity_id UNINDEXED, content, tokenize='trigram')`,
		`CREATE TRIGGER IF NOT EXISTS group_raw_latest_ai AFTER INSERT ON ` + latestTable + ` BEGIN
			INSERT INTO ` + latestFTSTable + `(entity_id, content) VALUES (new.entity_id, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS group_raw_latest_ad AFTER DELETE ON ` + latestTable + ` BEGIN
			DELETE FROM ` + latestFTSTable + ` WHERE entity_id = old.entity_id;
		END`,
		`CREATE TRIGGER IF NOT EXISTS group_raw_latest_au AFTER UPDATE OF content ON ` + latestTable + ` BEGIN
			DELETE FROM ` + latestFTSTable + ` WHERE entity_id = old.entity_id;
			INSERT INTO ` + latestFTSTable + `(entity_id, content) VALUES (new.entity_id, new.content);
		END`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			s.log.Warn("fts5 unavailable, search falls back to LIKE", zap.Error(err))
			return false
		}
	}

	// Backfill rows written before the index existed.
	var indexed, total int64
	if err := db.Table(latestFTSTable).Count(&indexed).Error; err != nil {
		s.log.Warn("fts5 count failed", zap.Error(err))
		return false
	}
	if err := db.Model(&LatestRow{}).Count(&total).Error; err != nil {
		s.log.Warn("latest count failed", zap.Error(err))
		return false
	}
	if indexed != total {
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(`DELETE FROM ` + latestFTSTable).Error; err != nil {
				return err
			}
			return tx.Exec(`INSERT INTO ` + latestFTSTable + `(entity_id, content) SELECT entity_id, content FROM ` + latestTable).Error
		})
		if err != nil {
			s.log.Warn("fts5 backfill failed", zap.Error(err))
			return false
		}
	}
	return true
}

func (s *GormStore) initMySQLFullText(db *gorm.DB) bool {
	if db.Migrator().HasIndex(&LatestRow{}, mysqlFullTextIndex) {
		return true
	}
	stmt := `ALTER TABLE ` + latestTable + ` ADD FULLTEXT INDEX ` + mysqlFullTextIndex + ` (content) WITH PARSER ngram`
	if err := db.Exec(stmt).Error; err != nil {
		s.log.Warn("fulltext index unavailable, search falls back to LIKE", zap.Error(err))
		return false
	}
	return true
}

func (s *GormStore) Upsert(ctx context.Context, c Candidate) (UpsertResult, error) {
	if err := c.validate(); err != nil {
		return UpsertResult{}, err
	}
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	unlock := s.keys.Lock(c.EntityID)
	defer unlock()
	if s.dialect == DialectSQLite {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	for attempt := 1; ; attempt++ {
		res, err := s.upsertOnce(ctx, c)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, errVersionConflict) || attempt >= upsertMaxAttempts {
			return UpsertResult{}, unavailable("upsert "+c.EntityID, err)
		}
		s.log.Debug("upsert conflict, retrying", zap.String("entity_id", c.EntityID), zap.Int("attempt", attempt))
	}
}

func (s *GormStore) upsertOnce(ctx context.Context, c Candidate) (UpsertResult, error) {
	var res UpsertResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("entity_id = ?", c.EntityID)
		if s.dialect != DialectSQLite {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var row LatestRow
		var cur *LatestEntry
		err := q.Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			e := row.entry()
			cur = &e
		}

		next, hist, r := applyCandidate(cur, c)
		res = r
		nextRow := latestRowFrom(next)

		if cur == nil {
			if err := tx.Create(&nextRow).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return errVersionConflict
				}
				return err
			}
			return nil
		}

		// Compare-and-swap on the state we read; another process may share the database.
		upd := tx.Model(&LatestRow{EntityID: cur.EntityID}).
			Where("version = ? AND seen_count = ?", cur.Version, cur.SeenCount).
			Select("*").
			Omit("entity_id", "first_seen_at").
			Updates(&nextRow)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return errVersionConflict
		}
		if hist == nil {
			return nil
		}
		histRow := historyRowFrom(*hist)
		if err := tx.Create(&histRow).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errVersionConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return res, nil
}

func (s *GormStore) Latest(ctx context.Context, entityID string) (*LatestEntry, error) {
	var row LatestRow
	err := s.db.WithContext(ctx).Where("entity_id = ?", entityID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("latest "+entityID, err)
	}
	e := row.entry()
	return &e, nil
}

func (s *GormStore) History(ctx context.Context, entityID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		return []HistoryEntry{}, nil
	}
	var rows []HistoryRow
	err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("version desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("history "+entityID, err)
	}
	out := make([]HistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

func (s *GormStore) Search(ctx context.Context, keyword string, limit int) ([]LatestEntry, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" || limit <= 0 {
		return []LatestEntry{}, nil
	}
	q := s.db.WithContext(ctx).Model(&LatestRow{})
	runes := utf8.RuneCountInString(keyword)
	switch {
	case s.fts && s.dialect == DialectSQLite && runes >= sqliteFTSMinRunes:
		q = q.Where("entity_id IN (SELECT entity_id FROM "+latestFTSTable+" WHERE "+latestFTSTable+" MATCH ?)", ftsPhrase(keyword))
	case s.fts && s.dialect == DialectMySQL && runes >= mysqlFTSMinRunes:
		q = q.Where("MATCH(content) AGAINST (? IN BOOLEAN MODE)", ftsPhrase(keyword))
	default:
		q = q.Where("LOWER(content) LIKE ? ESCAPE '!'", "%"+escapeLike(asciiLower(keyword))+"%")
	}

	var rows []LatestRow
	if err := q.Order("seen_count desc").Order("entity_id asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, unavailable("search", err)
	}
	out := make([]LatestEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

func ftsPhrase(keyword string) string {
	return `"` + strings.ReplaceAll(keyword, `"`, `""`) + `"`
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

func (s *GormStore) Stats(ctx context.Context) (Stats, error) {
	db := s.db.WithContext(ctx)
	st := Stats{CountsByGroupType: map[GroupType]int64{}}
	if err := db.Model(&LatestRow{}).Count(&st.TotalEntities).Error; err != nil {
		return Stats{}, unavailable("stats", err)
	}
	if err := db.Model(&HistoryRow{}).Count(&st.TotalHistoryRows).Error; err != nil {
		return Stats{}, unavailable("stats", err)
	}
	if err := db.Model(&LatestRow{}).Select("COALESCE(SUM(seen_count), 0)").Scan(&st.TotalSeenCount).Error; err != nil {
		return Stats{}, unavailable("stats", err)
	}
	var groups []struct {
		GroupType string
		N         int64
	}
	err := db.Model(&LatestRow{}).
		Select("group_type, COUNT(*) AS n").
		Where("group_type <> ?", "").
		Group("group_type").
		Scan(&groups).Error
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	for _, g := range groups {
		st.CountsByGroupType[GroupType(g.GroupType)] = g.N
	}
	return st, nil
}

func (s *GormStore) ListLatest(ctx context.Context) ([]LatestEntry, error) {
	var rows []LatestRow
	if err := s.db.WithContext(ctx).Order("entity_id asc").Find(&rows).Error; err != nil {
		return nil, unavailable("list latest", err)
	}
	out := make([]LatestEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

// Reset clears both tables in one transaction. It waits for in-flight upserts.
func (s *GormStore) Reset(ctx context.Context) error {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM " + historyTable).Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM " + latestTable).Error
	})
	if err != nil {
		return unavailable("reset", err)
	}
	s.log.Info("store reset")
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	return unavailable("ping", sqlDB.PingContext(ctx))
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
