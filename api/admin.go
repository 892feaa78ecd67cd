package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/dispatch"
	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/schema"
)

// getRegisteredTypes lists event types with registered schemas
func (s *Server) getRegisteredTypes(c *gin.Context) {
	types := s.registry.RegisteredEventTypes()
	out := make([]gin.H, 0, len(types))
	for _, t := range types {
		out = append(out, gin.H{
			"event_type":     t,
			"latest_version": s.registry.LatestVersion(t),
		})
	}
	c.JSON(http.StatusOK, gin.H{"types": out})
}

// MigrateRequest selects a schema migration run
type MigrateRequest struct {
	EventType        string `json:"event_type" binding:"required"`
	FromVersion      int    `json:"from_version" binding:"required"`
	ToVersion        int    `json:"to_version"`
	BatchSize        int    `json:"batch_size"`
	DryRun           bool   `json:"dry_run"`
	PreserveOriginal bool   `json:"preserve_original"`
	BackupOriginal   bool   `json:"backup_original"`
	StopOnError      bool   `json:"stop_on_error"`
}

// migrateEvents runs a batched schema migration
func (s *Server) migrateEvents(c *gin.Context) {
	var req MigrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := s.migrator.MigrateEvents(c.Request.Context(), schema.MigrateOptions{
		EventType:        req.EventType,
		FromVersion:      req.FromVersion,
		ToVersion:        req.ToVersion,
		BatchSize:        req.BatchSize,
		DryRun:           req.DryRun,
		PreserveOriginal: req.PreserveOriginal,
		BackupOriginal:   req.BackupOriginal,
		StopOnError:      req.StopOnError,
	})
	if err != nil {
		log.Error().Err(err).Msg("Schema migration failed")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// getSchemaHistory returns an event type's schema evolution
func (s *Server) getSchemaHistory(c *gin.Context) {
	history, err := s.registry.EvolutionHistory(c.Param("eventType"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event_type": c.Param("eventType"),
		"versions":   history,
	})
}

// getMigrationStatus reports how far stored events lag the latest schema
func (s *Server) getMigrationStatus(c *gin.Context) {
	status, err := s.migrator.MigrationStatus(c.Request.Context(), c.Param("eventType"))
	if err != nil {
		if errors.Is(err, schema.ErrUnknownEventType) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("Failed to build migration status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// rollbackMigration restores an event's pre-migration data
func (s *Server) rollbackMigration(c *gin.Context) {
	err := s.migrator.RollbackMigration(c.Request.Context(), c.Param("eventID"))
	if err != nil {
		switch {
		case errors.Is(err, schema.ErrNoBackup):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, eventstore.ErrEventNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		default:
			log.Error().Err(err).Msg("Migration rollback failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rolled back"})
}

// listDeadLetters returns dead letter entries, optionally by priority
func (s *Server) listDeadLetters(c *gin.Context) {
	priority := dispatch.Priority(c.Query("priority"))
	entries := s.dispatcher.DeadLetters().List(priority)
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   s.dispatcher.DeadLetters().Size(),
	})
}

// retryDeadLetter reruns one dead-lettered event
func (s *Server) retryDeadLetter(c *gin.Context) {
	if err := s.dispatcher.RetryDeadLetter(c.Request.Context(), c.Param("eventID")); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retried"})
}

// getDispatcherMetrics returns dispatcher counters and breaker states
func (s *Server) getDispatcherMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics":  s.dispatcher.Metrics().Snapshot(),
		"breakers": s.dispatcher.BreakerStates(),
	})
}
