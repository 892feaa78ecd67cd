package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/audit"
	"example.com/backoffice/services/ledger/cache"
	"example.com/backoffice/services/ledger/eventstore"
)

// trailFilterFromQuery builds the audit filter from query parameters
func trailFilterFromQuery(c *gin.Context) audit.TrailFilter {
	filter := audit.TrailFilter{
		UserID:        c.Query("user_id"),
		EventTypes:    c.QueryArray("event_type"),
		CorrelationID: c.Query("correlation_id"),
		Severity:      c.Query("severity"),
		Tag:           c.Query("tag"),
	}
	if t, ok := parseTimeQuery(c, "from"); ok {
		filter.From = &t
	}
	if t, ok := parseTimeQuery(c, "to"); ok {
		filter.To = &t
	}
	return filter
}

// getAuditTrail returns the flat audit trail for an aggregate
func (s *Server) getAuditTrail(c *gin.Context) {
	trail, err := s.auditSvc.GetAuditTrail(c.Request.Context(), c.Param("id"), trailFilterFromQuery(c))
	if err != nil {
		if errors.Is(err, eventstore.ErrAggregateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "aggregate not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to build audit trail")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trail": trail})
}

// getEnhancedAuditTrail returns the trail with state deltas and summary
func (s *Server) getEnhancedAuditTrail(c *gin.Context) {
	trail, err := s.auditSvc.GetEnhancedAuditTrail(c.Request.Context(), c.Param("id"), trailFilterFromQuery(c))
	if err != nil {
		if errors.Is(err, eventstore.ErrAggregateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "aggregate not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to build enhanced audit trail")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trail": trail.Entries, "summary": trail.Summary})
}

// ComplianceReportRequest selects the standard and period
type ComplianceReportRequest struct {
	Standard    string     `json:"standard"`
	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
}

// generateComplianceReport runs the compliance analyzers
func (s *Server) generateComplianceReport(c *gin.Context) {
	var req ComplianceReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := audit.ReportOptions{Standard: audit.Standard(req.Standard)}
	if req.PeriodStart != nil {
		opts.PeriodStart = *req.PeriodStart
	}
	if req.PeriodEnd != nil {
		opts.PeriodEnd = *req.PeriodEnd
	}

	report, err := s.auditSvc.GenerateComplianceAuditReport(c.Request.Context(), opts)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate compliance report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.cache != nil && s.cache.Enabled() {
		key := cache.GetComplianceReportCacheKey(string(report.Standard))
		if err := s.cache.Set(c.Request.Context(), key, report, time.Hour); err != nil {
			log.Warn().Err(err).Msg("Failed to cache compliance report")
		}
	}

	c.JSON(http.StatusOK, report)
}

// getUserActions returns a user's action trail
func (s *Server) getUserActions(c *gin.Context) {
	var from, to *time.Time
	if t, ok := parseTimeQuery(c, "from"); ok {
		from = &t
	}
	if t, ok := parseTimeQuery(c, "to"); ok {
		to = &t
	}

	actions, err := s.auditSvc.GetUserActionAuditTrail(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get user actions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

// getUserRiskScore returns the risk grade for a user
func (s *Server) getUserRiskScore(c *gin.Context) {
	userID := c.Param("id")
	ctx := c.Request.Context()

	if s.cache != nil && s.cache.Enabled() {
		var cached audit.RiskScore
		if err := s.cache.Get(ctx, cache.GetRiskScoreCacheKey(userID), &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	score, err := s.auditSvc.CalculateUserRiskScore(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to calculate risk score")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.cache != nil && s.cache.Enabled() {
		if err := s.cache.Set(ctx, cache.GetRiskScoreCacheKey(userID), score, 10*time.Minute); err != nil {
			log.Warn().Err(err).Msg("Failed to cache risk score")
		}
	}

	c.JSON(http.StatusOK, score)
}

// getFinancialAnalytics rolls up event volume and amounts for a period
func (s *Server) getFinancialAnalytics(c *gin.Context) {
	var from, to *time.Time
	if t, ok := parseTimeQuery(c, "from"); ok {
		from = &t
	}
	if t, ok := parseTimeQuery(c, "to"); ok {
		to = &t
	}

	analytics, err := s.auditSvc.GetFinancialAnalytics(c.Request.Context(), from, to)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build analytics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, analytics)
}

// trackSensitiveAccess records a sensitive-data read
func (s *Server) trackSensitiveAccess(c *gin.Context) {
	var record audit.AccessRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if record.UserID == "" || record.Resource == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and resource are required"})
		return
	}

	event, err := s.auditSvc.TrackSensitiveDataAccess(c.Request.Context(), record)
	if err != nil {
		log.Error().Err(err).Msg("Failed to track sensitive access")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, event)
}
