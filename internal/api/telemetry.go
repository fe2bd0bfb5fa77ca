package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fleetguard/internal/ingest"
	"fleetguard/internal/normalize"
)

const maxBodyBytes = 10 << 20

func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	return body, true
}

func (s *Server) postTelemetry(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	samples, err := ingest.DecodeTelemetry(body)
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(samples) != 1 {
		badRequest(c, &normalize.FieldError{Field: "body", Reason: "expected a single object, use /telemetry/batch for arrays"})
		return
	}
	res, err := s.engine.ProcessSample(c.Request.Context(), samples[0])
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// postTelemetryBatch answers 201 even when some items fail; failures are
// listed per index.
func (s *Server) postTelemetryBatch(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	samples, err := ingest.DecodeTelemetry(body)
	if err != nil {
		s.fail(c, err)
		return
	}
	if limit := s.cfg.Ingest.BatchLimit; limit > 0 && len(samples) > limit {
		badRequest(c, &normalize.FieldError{Field: "body", Reason: fmt.Sprintf("batch of %d exceeds limit %d", len(samples), limit)})
		return
	}
	c.JSON(http.StatusCreated, s.engine.ProcessBatch(c.Request.Context(), samples))
}

func (s *Server) latestTelemetry(c *gin.Context) {
	sample, err := s.engine.LatestTelemetry(c.Request.Context(), c.Param("vin"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if sample == nil {
		notFound(c, "telemetry")
		return
	}
	c.JSON(http.StatusOK, sample)
}

func (s *Server) telemetryHistory(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(c, &normalize.FieldError{Field: "limit", Reason: fmt.Sprintf("must be a positive integer, got %q", v)})
			return
		}
		limit = n
	}
	list, err := s.engine.TelemetryHistory(c.Request.Context(), c.Param("vin"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
