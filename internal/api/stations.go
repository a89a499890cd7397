package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"panel-tracker/internal/types"
	"panel-tracker/internal/web"
)

type enqueueRequest struct {
	PanelID string `json:"panel_id" binding:"required"`
}

// QueueResponse 是工站队列的返回结构
type QueueResponse struct {
	StationID types.StationID `json:"station_id"`
	Panels    []string        `json:"panels"`
}

// NextPanelResponse 是队首面板的返回结构
type NextPanelResponse struct {
	StationID types.StationID `json:"station_id"`
	PanelID   string          `json:"panel_id"`
}

func (s *Server) getStationQueue(c *gin.Context) {
	station := types.StationID(c.Param("station"))
	panels, err := s.engine.GetStationQueue(station)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, QueueResponse{StationID: station, Panels: panels})
}

// getNextPanel 队列为空时返回 204
func (s *Server) getNextPanel(c *gin.Context) {
	station := types.StationID(c.Param("station"))
	panelID, ok, err := s.engine.GetNextPanelInQueue(station)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, NextPanelResponse{StationID: station, PanelID: panelID})
}

func (s *Server) addToStationQueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.engine.AddToStationQueue(types.StationID(c.Param("station")), req.PanelID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) removeFromStationQueue(c *gin.Context) {
	if err := s.engine.RemoveFromStationQueue(types.StationID(c.Param("station")), c.Param("panel")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetWorkflowStatistics())
}

func (s *Server) getBoard(c *gin.Context) {
	if s.tracker == nil {
		c.JSON(http.StatusOK, web.BoardState{Panels: map[string]web.PanelView{}})
		return
	}
	c.JSON(http.StatusOK, s.tracker.GetStateSnapshot())
}

func (s *Server) reset(c *gin.Context) {
	s.logger.Warn("收到清空注册表请求", "trace_id", c.GetString(traceIDKey))
	s.engine.Reset()
	c.Status(http.StatusNoContent)
}
