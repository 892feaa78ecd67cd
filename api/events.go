package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/cache"
	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/models"
)

// storeEvent appends one event to the ledger
func (s *Server) storeEvent(c *gin.Context) {
	var input eventstore.StoreEventInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := s.store.StoreEvent(c.Request.Context(), input)
	if err != nil {
		var verr *eventstore.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		case errors.Is(err, eventstore.ErrVersionConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "version conflict, retry with current state"})
		default:
			log.Error().Err(err).Msg("Failed to store event")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, event)
}

// queryEvents searches events by criteria
func (s *Server) queryEvents(c *gin.Context) {
	criteria := eventstore.Criteria{
		AggregateType: c.Query("aggregate_type"),
		UserID:        c.Query("user_id"),
		PartnerID:     c.Query("partner_id"),
		BookingID:     c.Query("booking_id"),
		TransactionID: c.Query("transaction_id"),
		CorrelationID: c.Query("correlation_id"),
		Status:        models.EventStatus(c.Query("status")),
	}
	if types := c.QueryArray("event_type"); len(types) > 0 {
		criteria.EventTypes = types
	}
	if ids := c.QueryArray("aggregate_id"); len(ids) > 0 {
		criteria.AggregateIDs = ids
	}
	if from, ok := parseTimeQuery(c, "from"); ok {
		criteria.FromDate = &from
	}
	if to, ok := parseTimeQuery(c, "to"); ok {
		criteria.ToDate = &to
	}
	criteria.Limit = parseIntQuery(c, "limit", 50)
	criteria.Offset = parseIntQuery(c, "offset", 0)

	events, total, err := s.store.GetEventsByCriteria(c.Request.Context(), criteria)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"limit":  criteria.Limit,
		"offset": criteria.Offset,
	})
}

// getStatistics returns event table roll-ups
func (s *Server) getStatistics(c *gin.Context) {
	stats, err := s.store.GetStatistics(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to get statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getAggregateState returns the materialized state, cache-aside
func (s *Server) getAggregateState(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if s.cache != nil && s.cache.Enabled() {
		var cached models.Aggregate
		if err := s.cache.Get(ctx, cache.GetAggregateCacheKey(id), &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	aggregate, err := s.store.GetAggregateState(ctx, id)
	if err != nil {
		if errors.Is(err, eventstore.ErrAggregateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "aggregate not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to get aggregate state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.cache != nil && s.cache.Enabled() {
		if err := s.cache.Set(ctx, cache.GetAggregateCacheKey(id), aggregate, s.cfg.AggregateCacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache aggregate state")
		}
	}

	c.JSON(http.StatusOK, aggregate)
}

// getAggregateEvents returns the aggregate's event history
func (s *Server) getAggregateEvents(c *gin.Context) {
	filter := eventstore.EventFilter{
		FromVersion: parseIntQuery(c, "from_version", 0),
		ToVersion:   parseIntQuery(c, "to_version", 0),
	}
	if types := c.QueryArray("event_type"); len(types) > 0 {
		filter.EventTypes = types
	}

	events, err := s.store.GetEventsForAggregate(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get aggregate events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "aggregate not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

func parseTimeQuery(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
