package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"group-ledger/ledger"
)

const (
	defaultRecentLimit  = 10
	defaultSearchLimit  = 20
	defaultHistoryLimit = 10
	maxLimit            = 500
	maxEventBody        = 8 << 20
)

type Options struct {
	CORSOrigins       []string
	IngestConcurrency int
}

// Server exposes the query surface and an event intake over HTTP.
type Server struct {
	router      *gin.Engine
	store       ledger.Store
	pipeline    *ledger.Pipeline
	filter      *ledger.EventFilter
	concurrency int
	logger      *zap.Logger
}

func NewServer(store ledger.Store, pipeline *ledger.Pipeline, filter *ledger.EventFilter, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if filter == nil {
		filter = ledger.NewEventFilter(nil)
	}
	if opts.IngestConcurrency <= 0 {
		opts.IngestConcurrency = 1
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(opts.CORSOrigins))

	s := &Server{
		router:      router,
		store:       store,
		pipeline:    pipeline,
		filter:      filter,
		concurrency: opts.IngestConcurrency,
		logger:      logger,
	}
	s.setupRoutes()
	return s
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Requested-With"},
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := s.router.Group("/api")
	{
		api.GET("/stats", s.handleStats)
		api.GET("/recent-groups", s.handleRecent)
		api.GET("/group/:id", s.handleGroup)
		api.GET("/search", s.handleSearch)
		api.GET("/history/:id", s.handleHistory)
		api.GET("/groups", s.handleGroups)
		api.POST("/events", s.handleEvents)
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ledger.ErrStoreUnavailable) {
		status = http.StatusServiceUnavailable
	}
	s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		badRequest(c, fmt.Sprintf("invalid limit %q", raw))
		return 0, false
	}
	return min(n, maxLimit), true
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleRecent(c *gin.Context) {
	limit, ok := queryLimit(c, defaultRecentLimit)
	if !ok {
		return
	}
	entries, err := ledger.Recent(c.Request.Context(), s.store, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleGroup(c *gin.Context) {
	id := c.Param("id")
	e, err := s.store.Latest(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if e == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "group " + id + " not found"})
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) handleSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		badRequest(c, "q is required")
		return
	}
	limit, ok := queryLimit(c, defaultSearchLimit)
	if !ok {
		return
	}
	entries, err := s.store.Search(c.Request.Context(), q, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, ok := queryLimit(c, defaultHistoryLimit)
	if !ok {
		return
	}
	rows, err := s.store.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleGroups(c *gin.Context) {
	q := ledger.ListQuery{
		EntityID:         c.Query("group_id"),
		GroupType:        ledger.GroupType(strings.TrimSpace(c.Query("group_type"))),
		Worldview:        ledger.Worldview(strings.TrimSpace(c.Query("worldview"))),
		HasSexualContent: parseBoolFilter(c.Query("has_sexual_content")),
		NoAuditSetting:   parseBoolFilter(c.DefaultQuery("no_audit_setting", c.Query("no_audit_no_setting"))),
		SortBy:           ledger.ParseSortField(c.Query("sort_by")),
		Descending:       !strings.EqualFold(strings.TrimSpace(c.Query("sort_order")), "asc"),
	}
	if gt, ok := ledger.ParseGroupType(string(q.GroupType)); ok {
		q.GroupType = gt
	}
	var err error
	if q.Page, err = intParam(c, "page"); err != nil {
		badRequest(c, err.Error())
		return
	}
	if q.PerPage, err = intParam(c, "per_page"); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := ledger.List(c.Request.Context(), s.store, q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func intParam(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}

// Only the literal strings true and false filter; anything else is ignored.
func parseBoolFilter(v string) *bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		b := true
		return &b
	case "false":
		b := false
		return &b
	default:
		return nil
	}
}

type ingestSummary struct {
	Events      int `json:"events"`
	Accepted    int `json:"accepted"`
	Inserted    int `json:"inserted"`
	Unchanged   int `json:"unchanged"`
	NewVersions int `json:"new_versions"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest disabled"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	events, err := ledger.DecodeEvents(body)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	msgs := s.filter.Messages(events)
	outcomes, err := s.pipeline.IngestBatch(c.Request.Context(), msgs, s.concurrency)
	if err != nil {
		s.fail(c, err)
		return
	}

	sum := ingestSummary{Events: len(events), Accepted: len(msgs)}
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			sum.Skipped++
		case o.Err != nil:
			sum.Errors++
		case o.Result.Action == ledger.ActionInserted:
			sum.Inserted++
		case o.Result.Action == ledger.ActionUpdatedNoChange:
			sum.Unchanged++
		case o.Result.Action == ledger.ActionUpdatedNewVersion:
			sum.NewVersions++
		}
	}
	c.JSON(http.StatusOK, sum)
}
