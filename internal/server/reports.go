package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	reportdomain "github.com/gridleaf/cellgauge/internal/report/domain"
)

type generateReportRequest struct {
	DeviceID string         `json:"device_id"`
	Params   map[string]any `json:"params"`
}

// GenerateReport charges a credit and blocks until the report
// resolves. A failed job still returns the record so the client sees
// its failure code alongside the error status.
func (s *Server) GenerateReport(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req generateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		AbortWithError(c, newValidationError("device_id", "required", "device_id is required"))
		return
	}

	job, err := s.reportSvc.Generate(c.Request.Context(), id, req.DeviceID, req.Params)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"report": job})
}

func (s *Server) GetReport(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	jobID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || jobID == 0 {
		AbortWithError(c, reportdomain.ErrNotFound)
		return
	}

	job, err := s.reportSvc.Get(c.Request.Context(), id, jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": job})
}

func (s *Server) ListReports(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit, offset, err := parsePagination(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	jobs, err := s.reportSvc.List(c.Request.Context(), id, limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": jobs})
}
