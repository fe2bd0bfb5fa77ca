package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fleetguard/internal/model"
	"fleetguard/internal/normalize"
)

func (s *Server) listRawAlerts(c *gin.Context) {
	list, err := s.engine.RawAlerts(c.Request.Context(), "")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getRawAlert(c *gin.Context) {
	raw, err := s.engine.RawAlert(c.Request.Context(), c.Param("alert_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if raw == nil {
		notFound(c, "alert")
		return
	}
	c.JSON(http.StatusOK, raw)
}

// raiseAlert accepts a raw alert from an external producer and aggregates it
// like one emitted from telemetry.
func (s *Server) raiseAlert(c *gin.Context) {
	var req model.RawAlert
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	stored, incident, err := s.engine.Raise(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"alert": stored, "active_alert": incident})
}

func (s *Server) listIncidents(c *gin.Context) {
	var filter *model.Status
	if v := c.Query("status"); v != "" {
		status, err := normalize.ParseStatus(v)
		if err != nil {
			s.fail(c, err)
			return
		}
		filter = &status
	}
	list, err := s.engine.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getIncident(c *gin.Context) {
	incident, err := s.engine.GetByExternalID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if incident == nil {
		notFound(c, "active alert")
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (s *Server) updateIncident(c *gin.Context) {
	var upd model.StatusUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err)
		return
	}
	updated, err := s.engine.UpdateStatus(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		s.fail(c, err)
		return
	}
	if updated == nil {
		notFound(c, "active alert")
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) resolveIncident(c *gin.Context) {
	actor := strings.TrimSpace(c.Query("resolved_by"))
	if actor == "" {
		badRequest(c, &normalize.FieldError{Field: "resolved_by", Reason: "required"})
		return
	}
	updated, err := s.engine.Resolve(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		s.fail(c, err)
		return
	}
	if updated == nil {
		notFound(c, "active alert")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Alert resolved successfully", "alert": updated})
}

func (s *Server) acknowledgeIncident(c *gin.Context) {
	actor := strings.TrimSpace(c.Query("acknowledged_by"))
	if actor == "" {
		badRequest(c, &normalize.FieldError{Field: "acknowledged_by", Reason: "required"})
		return
	}
	updated, err := s.engine.Acknowledge(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		s.fail(c, err)
		return
	}
	if updated == nil {
		notFound(c, "active alert")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Alert acknowledged successfully", "alert": updated})
}

func (s *Server) incidentHistory(c *gin.Context) {
	history, err := s.engine.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if history == nil {
		notFound(c, "alert history")
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) vehicleIncidents(c *gin.Context) {
	list, err := s.engine.ListByVehicle(c.Request.Context(), c.Param("vin"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) dashboard(c *gin.Context) {
	summary, err := s.engine.Dashboard(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) analytics(c *gin.Context) {
	report, err := s.engine.Analytics(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
