// Package server exposes conversions over HTTP: a streamed batch run, a
// single-record endpoint, run history, health and metrics.
package server

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/valpere/parserport/internal"
	"github.com/valpere/parserport/internal/artifact"
	"github.com/valpere/parserport/internal/metrics"
	"github.com/valpere/parserport/internal/orchestrator"
	"github.com/valpere/parserport/internal/pipeline"
	"github.com/valpere/parserport/internal/store"
)

//go:embed index.html
var indexPage []byte

type Options struct {
	Pipeline *pipeline.Pipeline
	// Driver serves single conversions; it should share the pipeline's loop.
	Driver  *orchestrator.Driver
	Store   *store.Store
	Metrics *metrics.Metrics
	Lang    string
	Version string
	Logger  *zap.Logger
}

type Server struct {
	opts    Options
	logger  *zap.Logger
	engine  *gin.Engine
	busy    atomic.Bool
	started time.Time
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Lang == "" {
		opts.Lang = artifact.DefaultLang
	}

	s := &Server{opts: opts, logger: logger, started: time.Now()}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	r.GET("/", s.index)
	r.GET("/start-conversion", s.startConversion)
	r.POST("/api/convert", s.convert)
	r.GET("/api/runs", s.listRuns)
	r.GET("/api/runs/:id", s.getRun)
	r.GET("/healthz", s.health)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexPage)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.opts.Version,
		"busy":    s.busy.Load(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

type convertRequest struct {
	internal.ParserRecord
	// Source overrides the lookup by filename when set.
	Source *string `json:"source"`
}

type convertResponse struct {
	Status   orchestrator.Status `json:"status"`
	Code     string              `json:"code,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	Attempts int                 `json:"attempts"`
	Cached   bool                `json:"cached"`
	Filename string              `json:"filename,omitempty"`
}

func (s *Server) convert(c *gin.Context) {
	if s.opts.Driver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "conversion is not configured"})
		return
	}

	var req convertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	var out orchestrator.Outcome
	if req.Source != nil {
		out = s.opts.Driver.ConvertSource(c.Request.Context(), req.ParserRecord, *req.Source)
	} else {
		out = s.opts.Driver.ConvertOne(c.Request.Context(), req.ParserRecord)
	}

	resp := convertResponse{
		Status:   out.Status,
		Code:     out.Code,
		Reason:   out.Reason,
		Attempts: out.Attempts,
		Cached:   out.Cached,
	}
	if out.Status == orchestrator.StatusSuccess {
		resp.Filename = artifact.RelPath(s.opts.Lang, req.ClassName)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listRuns(c *gin.Context) {
	if s.opts.Store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history is disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	runs, err := s.opts.Store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	if s.opts.Store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history is disabled"})
		return
	}
	ctx := c.Request.Context()
	run, err := s.opts.Store.GetRun(ctx, c.Param("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	outcomes, err := s.opts.Store.RunOutcomes(ctx, run.ID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load outcomes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "outcomes": outcomes})
}
