package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"backlab/internal/backtest"
	"backlab/internal/indicator"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/report"
	"backlab/internal/strategy"
)

// Server exposes the strategy catalog, the candle datasets and the
// backtest lifecycle over HTTP.
type Server struct {
	addr       string
	strategies *strategy.Store
	svc        *market.Service
	results    *backtest.ResultStore
	runner     *backtest.Runner
	hub        *backtest.Hub
	router     *gin.Engine
}

type Config struct {
	Addr       string
	Strategies *strategy.Store
	Market     *market.Service
	Results    *backtest.ResultStore
	Runner     *backtest.Runner
	Hub        *backtest.Hub
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Strategies == nil || cfg.Market == nil || cfg.Results == nil || cfg.Runner == nil {
		return nil, errors.New("strategies/market/results/runner are all required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:       cfg.Addr,
		strategies: cfg.Strategies,
		svc:        cfg.Market,
		results:    cfg.Results,
		runner:     cfg.Runner,
		hub:        cfg.Hub,
		router:     router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/indicators", s.handleIndicators)
	api.GET("/timeframes", s.handleTimeframes)

	api.POST("/strategies", s.handleStrategyCreate)
	api.GET("/strategies", s.handleStrategyList)
	api.GET("/strategies/:id", s.handleStrategyGet)
	api.PUT("/strategies/:id", s.handleStrategyUpdate)
	api.DELETE("/strategies/:id", s.handleStrategyDelete)

	data := api.Group("/data")
	data.POST("/fetch", s.handleFetch)
	data.GET("/fetch/:id", s.handleFetchStatus)
	data.GET("/jobs", s.handleJobs)
	data.GET("/manifest", s.handleManifest)
	data.GET("/candles", s.handleCandles)

	runs := api.Group("/backtests")
	runs.POST("", s.handleRunStart)
	runs.GET("", s.handleRunList)
	runs.GET("/:id", s.handleRunDetail)
	runs.GET("/:id/trades", s.handleRunTrades)
	runs.GET("/:id/equity", s.handleRunEquity)
	runs.GET("/:id/report", s.handleRunReport)
	runs.GET("/:id/events", s.handleRunEvents)
	runs.POST("/:id/cancel", s.handleRunCancel)
}

func (s *Server) handleIndicators(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"indicators": indicator.Names()})
}

func (s *Server) handleTimeframes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"timeframes": market.SupportedTimeframes()})
}

type strategyRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Config      map[string]any  `json:"config"`
	EntryRules  json.RawMessage `json:"entry_rules" binding:"required"`
	ExitRules   json.RawMessage `json:"exit_rules" binding:"required"`
	IsActive    bool            `json:"is_active"`
	IsPublic    bool            `json:"is_public"`
	Owner       string          `json:"owner"`
}

func (r strategyRequest) toStrategy() (strategy.Strategy, error) {
	entry, err := strategy.ParseRuleTree(r.EntryRules)
	if err != nil {
		return strategy.Strategy{}, err
	}
	exit, err := strategy.ParseRuleTree(r.ExitRules)
	if err != nil {
		return strategy.Strategy{}, err
	}
	return strategy.Strategy{
		Name:        r.Name,
		Description: r.Description,
		Config:      r.Config,
		EntryRules:  entry,
		ExitRules:   exit,
		IsActive:    r.IsActive,
		IsPublic:    r.IsPublic,
		Owner:       r.Owner,
	}, nil
}

func (s *Server) handleStrategyCreate(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := req.toStrategy()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	now := time.Now()
	st.CreatedAt = now
	st.UpdatedAt = now
	if err := s.strategies.Save(c.Request.Context(), &st); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"strategy": st})
}

func (s *Server) handleStrategyList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := s.strategies.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": list})
}

func (s *Server) handleStrategyGet(c *gin.Context) {
	st, err := s.strategies.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, strategy.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": st})
}

func (s *Server) handleStrategyUpdate(c *gin.Context) {
	existing, err := s.strategies.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, strategy.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := req.toStrategy()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st.ID = existing.ID
	st.CreatedAt = existing.CreatedAt
	st.UpdatedAt = time.Now()
	if err := s.strategies.Save(c.Request.Context(), &st); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": st})
}

func (s *Server) handleStrategyDelete(c *gin.Context) {
	if err := s.strategies.Delete(c.Request.Context(), c.Param("id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, strategy.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleFetch(c *gin.Context) {
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.svc.SubmitFetch(market.FetchParams{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	job, ok := s.svc.JobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.svc.JobsSnapshot()})
}

func (s *Server) handleManifest(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe are required"})
		return
	}
	info, err := s.svc.ManifestInfo(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe are required"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	data, err := s.svc.QueryCandles(c.Request.Context(), symbol, tf, start, end, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func (s *Server) handleRunStart(c *gin.Context) {
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := s.strategies.Get(c.Request.Context(), req.StrategyID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, strategy.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	run, err := s.results.CreateRun(c.Request.Context(), req)
	if err != nil {
		c.JSON(runErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.runner.Submit(run.ID)
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), c.Query("strategy_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(runErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	trades, err := s.results.ListTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunEquity(c *gin.Context) {
	equity, err := s.results.ListEquity(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": equity})
}

func (s *Server) handleRunReport(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	run, err := s.results.GetRun(ctx, id)
	if err != nil {
		c.JSON(runErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	trades, err := s.results.ListTrades(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	equity, err := s.results.ListEquity(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := report.Render(c.Writer, run, trades, equity); err != nil {
		logger.Warnf("[api] report for run %s failed: %v", id, err)
	}
}

func (s *Server) handleRunCancel(c *gin.Context) {
	if err := s.runner.Cancel(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "canceling"})
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleRunEvents streams run progress over a websocket. The stream ends
// when the run reaches a terminal status or the client goes away.
func (s *Server) handleRunEvents(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event hub not enabled"})
		return
	}
	runID := c.Param("id")
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.hub.Subscribe(runID)
	defer unsubscribe()

	// Drain reads so close frames are noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				unsubscribe()
				return
			}
		}
	}()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		if backtest.Terminal(ev.Status) {
			return
		}
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func runErrStatus(err error) int {
	switch {
	case backtest.IsConfigurationError(err):
		return http.StatusBadRequest
	case backtest.IsNoDataError(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Start runs the HTTP server until ctx is canceled or it fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[api] listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
