package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/replay"
)

// replayAggregate rebuilds an aggregate's state from its events
func (s *Server) replayAggregate(c *gin.Context) {
	result, err := s.engine.ReplayEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, eventstore.ErrAggregateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "aggregate not found"})
			return
		}
		log.Error().Err(err).Msg("Replay failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// AdvancedReplayRequest selects advanced replay options
type AdvancedReplayRequest struct {
	StopAtVersion         int        `json:"stop_at_version"`
	StopAtTime            *time.Time `json:"stop_at_time"`
	EventTypes            []string   `json:"event_types"`
	ValidateBusinessRules bool       `json:"validate_business_rules"`
	ContinueOnError       bool       `json:"continue_on_error"`
}

// replayAggregateAdvanced replays with filtering and rule validation
func (s *Server) replayAggregateAdvanced(c *gin.Context) {
	var req AdvancedReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.ReplayEventsAdvanced(c.Request.Context(), c.Param("id"), replay.AdvancedOptions{
		StopAtVersion:         req.StopAtVersion,
		StopAtTime:            req.StopAtTime,
		EventTypes:            req.EventTypes,
		ValidateBusinessRules: req.ValidateBusinessRules,
		ContinueOnError:       req.ContinueOnError,
	})
	if err != nil && result == nil {
		log.Error().Err(err).Msg("Advanced replay failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// CheckpointReplayRequest selects checkpointed replay options
type CheckpointReplayRequest struct {
	CheckpointInterval int   `json:"checkpoint_interval"`
	CheckpointVersions []int `json:"checkpoint_versions"`
	RollbackOnError    bool  `json:"rollback_on_error"`
	DryRun             bool  `json:"dry_run"`
}

// replayAggregateWithCheckpoints replays with periodic snapshots
func (s *Server) replayAggregateWithCheckpoints(c *gin.Context) {
	var req CheckpointReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.ReplayEventsWithCheckpoints(c.Request.Context(), c.Param("id"), replay.CheckpointOptions{
		CheckpointInterval: req.CheckpointInterval,
		CheckpointVersions: req.CheckpointVersions,
		RollbackOnError:    req.RollbackOnError,
		DryRun:             req.DryRun,
	})
	if err != nil {
		if errors.Is(err, eventstore.ErrAggregateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "aggregate not found"})
			return
		}
		log.Error().Err(err).Msg("Checkpointed replay failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ParallelReplayRequest selects aggregates for parallel replay
type ParallelReplayRequest struct {
	AggregateIDs []string `json:"aggregate_ids" binding:"required"`
	Concurrency  int      `json:"concurrency"`
	FailFast     bool     `json:"fail_fast"`
}

// replayParallel replays several aggregates with bounded concurrency
func (s *Server) replayParallel(c *gin.Context) {
	var req ParallelReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.ReplayMultipleAggregatesParallel(c.Request.Context(), req.AggregateIDs, replay.ParallelOptions{
		Concurrency: req.Concurrency,
		FailFast:    req.FailFast,
	})
	if err != nil && req.FailFast {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  err.Error(),
			"result": result,
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// getSnapshot reconstructs the aggregate at a version and returns it
func (s *Server) getSnapshot(c *gin.Context) {
	upToVersion := parseIntQuery(c, "up_to_version", 0)

	snapshot, err := s.engine.CreateSnapshot(c.Request.Context(), c.Param("id"), upToVersion, nil)
	if err != nil {
		if errors.Is(err, eventstore.ErrAggregateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "aggregate not found"})
			return
		}
		log.Error().Err(err).Msg("Snapshot failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// validateConsistency diffs stored state against a fresh replay
func (s *Server) validateConsistency(c *gin.Context) {
	report, err := s.engine.ValidateAggregateConsistency(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, eventstore.ErrAggregateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "aggregate not found"})
			return
		}
		log.Error().Err(err).Msg("Consistency validation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
