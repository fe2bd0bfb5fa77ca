package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetguard/internal/model"
)

func (s *Server) createVehicle(c *gin.Context) {
	var req model.Vehicle
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	created, err := s.engine.CreateVehicle(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listVehicles(c *gin.Context) {
	list, err := s.engine.ListVehicles(c.Request.Context(), "")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) fleetVehicles(c *gin.Context) {
	list, err := s.engine.ListVehicles(c.Request.Context(), c.Param("fleet_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getVehicle(c *gin.Context) {
	v, err := s.engine.GetVehicle(c.Request.Context(), c.Param("vin"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if v == nil {
		notFound(c, "vehicle")
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) deleteVehicle(c *gin.Context) {
	deleted, err := s.engine.DeleteVehicle(c.Request.Context(), c.Param("vin"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !deleted {
		notFound(c, "vehicle")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) vehicleRawAlerts(c *gin.Context) {
	list, err := s.engine.RawAlerts(c.Request.Context(), c.Param("vin"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
