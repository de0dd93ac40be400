package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dcalab/internal/app"
	"dcalab/internal/backtest"
	"dcalab/internal/logger"
)

// Server 提供回测域的 HTTP API。
type Server struct {
	addr   string
	svc    *app.Service
	router *gin.Engine
}

// NewServer 构建 HTTP Server。
func NewServer(addr string, svc *app.Service) (*Server, error) {
	if svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if addr == "" {
		addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{addr: addr, svc: svc, router: router}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api/backtest")
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.DELETE("/runs/:id", s.handleRunDelete)
	api.GET("/presets", s.handlePresets)
	api.GET("/data", s.handleManifest)
	api.GET("/candles", s.handleCandles)
	api.POST("/sweeps", s.handleSweepSubmit)
	api.GET("/sweeps", s.handleSweepList)
	api.GET("/sweeps/:id", s.handleSweepDetail)
	api.POST("/sweeps/:id/cancel", s.handleSweepCancel)
}

func (s *Server) handleRunStart(c *gin.Context) {
	var params app.RunParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.svc.StartRun(params)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": rec})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	kind := c.Query("kind")
	runs, err := s.svc.ListRuns(c.Request.Context(), kind, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.svc.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunDelete(c *gin.Context) {
	if err := s.svc.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (s *Server) handlePresets(c *gin.Context) {
	snap, ok := s.svc.PresetSnapshot()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"presets": []string{}, "version": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"presets": s.svc.PresetNames(),
		"version": snap.Version,
	})
}

func (s *Server) handleManifest(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
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
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	data, err := s.svc.QueryCandles(c.Request.Context(), symbol, tf, start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func (s *Server) handleSweepSubmit(c *gin.Context) {
	var params app.SweepParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.svc.SubmitSweep(params)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleSweepList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.svc.SweepJobs()})
}

func (s *Server) handleSweepDetail(c *gin.Context) {
	job, ok := s.svc.SweepJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleSweepCancel(c *gin.Context) {
	if err := s.svc.CancelSweep(c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": c.Param("id")})
}

// statusForError 按错误类别决定 HTTP 状态码：配置/数据问题归咎请求方，
// 模拟器内部断言失败归咎服务端。
func statusForError(err error) int {
	switch {
	case backtest.IsConfigError(err), backtest.IsDataError(err):
		return http.StatusBadRequest
	case backtest.IsSimulationFault(err):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
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
