package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"panel-tracker/internal/engine"
	"panel-tracker/internal/types"
)

type initializeRequest struct {
	PanelID    string `json:"panel_id" binding:"required"`
	Barcode    string `json:"barcode" binding:"required"`
	LineNumber int    `json:"line_number"`
	PanelType  string `json:"panel_type"`
}

type transitionRequest struct {
	TargetState types.State     `json:"target_state" binding:"required"`
	Reason      string          `json:"reason"`
	StationID   types.StationID `json:"station_id"`
	Notes       string          `json:"notes"`
}

type inspectionRequest struct {
	StationID  types.StationID `json:"station_id" binding:"required"`
	Result     types.Verdict   `json:"result"`
	Criteria   map[string]bool `json:"criteria"`
	OperatorID string          `json:"operator_id"`
	Notes      string          `json:"notes"`
}

type completeRequest struct {
	QualityScore    *float64 `json:"quality_score" binding:"required"`
	CompletionNotes string   `json:"completion_notes"`
}

type reworkRequest struct {
	StationID types.StationID `json:"station_id" binding:"required"`
	Reason    string          `json:"reason"`
	Notes     string          `json:"notes"`
}

type failRequest struct {
	Reason    string          `json:"reason"`
	StationID types.StationID `json:"station_id"`
}

func (s *Server) initializePanel(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	inst, err := s.engine.InitializeWorkflow(req.PanelID, req.Barcode, engine.InitOptions{
		LineNumber: req.LineNumber,
		PanelType:  req.PanelType,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (s *Server) getPanel(c *gin.Context) {
	inst, err := s.engine.GetWorkflowState(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) transitionPanel(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	inst, err := s.engine.TransitionWorkflow(c.Param("id"), req.TargetState, engine.TransitionOptions{
		Reason:    req.Reason,
		StationID: req.StationID,
		Notes:     req.Notes,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) validateTransition(c *gin.Context) {
	target := types.State(c.Param("state"))
	ok, err := s.engine.ValidateTransition(c.Param("id"), target)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"panel_id": c.Param("id"), "target_state": target, "valid": ok})
}

func (s *Server) processInspection(c *gin.Context) {
	var req inspectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	result, err := s.engine.ProcessInspection(c.Param("id"), req.StationID, types.InspectionOutcome{
		Result:     req.Result,
		Criteria:   req.Criteria,
		StationID:  req.StationID,
		OperatorID: req.OperatorID,
		Notes:      req.Notes,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) completePanel(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	inst, err := s.engine.CompleteWorkflow(c.Param("id"), engine.CompleteOptions{
		QualityScore:    *req.QualityScore,
		CompletionNotes: req.CompletionNotes,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) reworkPanel(c *gin.Context) {
	var req reworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	inst, err := s.engine.ResetWorkflowForRework(c.Param("id"), req.StationID, engine.ReworkOptions{
		Reason: req.Reason,
		Notes:  req.Notes,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) failPanel(c *gin.Context) {
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	inst, err := s.engine.FailWorkflow(c.Param("id"), engine.FailOptions{
		Reason:    req.Reason,
		StationID: req.StationID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}
