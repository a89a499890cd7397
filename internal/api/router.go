package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"panel-tracker/internal/engine"
	"panel-tracker/internal/types"
	"panel-tracker/internal/util"
	"panel-tracker/internal/web"
)

const traceIDKey = "trace_id"

// Server 把工作流引擎暴露为 HTTP 接口
type Server struct {
	engine  *engine.WorkflowEngine
	tracker *web.StateTracker
	hub     *web.Hub
	logger  *slog.Logger
}

// NewServer 创建 HTTP 适配层，tracker 和 hub 可以为 nil
func NewServer(eng *engine.WorkflowEngine, tracker *web.StateTracker, hub *web.Hub, logger *slog.Logger) *Server {
	return &Server{
		engine:  eng,
		tracker: tracker,
		hub:     hub,
		logger:  logger.With("component", "http-api"),
	}
}

// Router 注册全部路由
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.traceMiddleware())

	api := router.Group("/api")
	{
		api.POST("/panels", s.initializePanel)
		api.GET("/panels/:id", s.getPanel)
		api.POST("/panels/:id/transitions", s.transitionPanel)
		api.GET("/panels/:id/transitions/:state", s.validateTransition)
		api.POST("/panels/:id/inspections", s.processInspection)
		api.POST("/panels/:id/complete", s.completePanel)
		api.POST("/panels/:id/rework", s.reworkPanel)
		api.POST("/panels/:id/fail", s.failPanel)

		api.GET("/stations/:station/queue", s.getStationQueue)
		api.GET("/stations/:station/next", s.getNextPanel)
		api.POST("/stations/:station/queue", s.addToStationQueue)
		api.DELETE("/stations/:station/queue/:panel", s.removeFromStationQueue)

		api.GET("/statistics", s.getStatistics)
		api.GET("/board", s.getBoard)
		api.POST("/admin/reset", s.reset)
	}

	if s.hub != nil {
		router.GET("/ws", gin.WrapF(s.hub.ServeWs))
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// traceMiddleware 读取或生成 Trace ID，并记录访问日志
func (s *Server) traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(util.TraceHeader)
		if traceID == "" {
			traceID = util.NewTraceID()
		}
		c.Set(traceIDKey, traceID)
		c.Header(util.TraceHeader, traceID)
		c.Request = c.Request.WithContext(util.ContextWithTraceID(c.Request.Context(), traceID))

		start := time.Now()
		c.Next()

		s.logger.Debug("HTTP 请求",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"trace_id", traceID,
		)
	}
}

// statusFor 把错误分类映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidTransition), errors.Is(err, types.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("请求处理失败", "path", c.FullPath(), "trace_id", c.GetString(traceIDKey), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "trace_id": c.GetString(traceIDKey)})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "trace_id": c.GetString(traceIDKey)})
}
