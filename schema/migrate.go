package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/models"
)

// Metadata keys written by the migrator. Rollback depends on the backup
// key being present.
const (
	metaMigrationHistory = "migrationHistory"
	metaOriginalData     = "originalData"
	metaMigratedCopyOf   = "migratedCopyOf"
)

// ErrNoBackup is returned when a rollback is requested for an event whose
// migration did not keep the original data.
var ErrNoBackup = errors.New("no original data backup; migration cannot be rolled back")

// Migrator runs batched schema migrations over stored events
type Migrator struct {
	store    eventstore.Store
	registry *Registry
}

// NewMigrator creates a migrator over the given store and registry
func NewMigrator(store eventstore.Store, registry *Registry) *Migrator {
	return &Migrator{store: store, registry: registry}
}

// MigrateOptions controls one migration run
type MigrateOptions struct {
	EventType   string
	FromVersion int
	ToVersion   int
	// BatchSize bounds events loaded per pass (default 100)
	BatchSize int
	// DryRun transforms and validates without writing
	DryRun bool
	// PreserveOriginal inserts migrated copies instead of rewriting rows
	PreserveOriginal bool
	// BackupOriginal stores pre-migration data in event metadata so the
	// migration can be rolled back. Ignored with PreserveOriginal, which
	// keeps the original row itself.
	BackupOriginal bool
	// StopOnError promotes optional rule failures to event failures.
	// Required rule failures always fail the event.
	StopOnError bool
}

// MigrateError records a failure for one event during migration
type MigrateError struct {
	EventID string `json:"event_id"`
	Message string `json:"message"`
}

// MigrateReport is the outcome of one migration run
type MigrateReport struct {
	EventType   string         `json:"event_type"`
	FromVersion int            `json:"from_version"`
	ToVersion   int            `json:"to_version"`
	Scanned     int            `json:"scanned"`
	Migrated    int            `json:"migrated"`
	Failed      int            `json:"failed"`
	DryRun      bool           `json:"dry_run"`
	Errors      []MigrateError `json:"errors,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

// MigrateEvents migrates all events of one type from one schema version
// to another, in batches. Individual event failures are collected; the
// run continues.
func (m *Migrator) MigrateEvents(ctx context.Context, opts MigrateOptions) (*MigrateReport, error) {
	start := time.Now()

	if opts.EventType == "" {
		return nil, fmt.Errorf("migration requires an event type")
	}
	if opts.ToVersion == 0 {
		opts.ToVersion = m.registry.LatestVersion(opts.EventType)
	}
	path, err := m.registry.MigrationPath(opts.EventType, opts.FromVersion, opts.ToVersion)
	if err != nil {
		return nil, err
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	report := &MigrateReport{
		EventType:   opts.EventType,
		FromVersion: opts.FromVersion,
		ToVersion:   opts.ToVersion,
		DryRun:      opts.DryRun,
	}

	offset := 0
	for {
		events, _, err := m.store.GetEventsByCriteria(ctx, eventstore.Criteria{
			EventTypes:    []string{opts.EventType},
			SchemaVersion: opts.FromVersion,
			Limit:         batchSize,
			Offset:        offset,
		})
		if err != nil {
			return report, errors.Wrap(err, "failed to load migration batch")
		}
		if len(events) == 0 {
			break
		}

		failedInBatch := 0
		for i := range events {
			event := &events[i]
			report.Scanned++

			if err := m.migrateOne(ctx, event, path, opts); err != nil {
				report.Failed++
				failedInBatch++
				report.Errors = append(report.Errors, MigrateError{
					EventID: event.ID,
					Message: err.Error(),
				})
				continue
			}
			report.Migrated++
		}

		if opts.DryRun || opts.PreserveOriginal {
			// Source rows keep their schema version, so page forward.
			offset += len(events)
		} else {
			// Migrated rows leave the result set; failed rows stay and
			// must be skipped to avoid rescanning them.
			offset += failedInBatch
		}
		if len(events) < batchSize {
			break
		}
	}

	report.Duration = time.Since(start)

	log.Info().
		Str("eventType", opts.EventType).
		Int("from", opts.FromVersion).
		Int("to", opts.ToVersion).
		Int("migrated", report.Migrated).
		Int("failed", report.Failed).
		Bool("dryRun", opts.DryRun).
		Msg("Schema migration finished")

	return report, nil
}

func (m *Migrator) migrateOne(ctx context.Context, event *models.Event, path [][]MigrationRule, opts MigrateOptions) error {
	data := event.EventData.Copy()

	for _, rules := range path {
		for _, rule := range rules {
			next, err := rule.Apply(data)
			if err != nil {
				if rule.Required || opts.StopOnError {
					return errors.Wrapf(err, "migration rule %q failed", rule.Name)
				}
				log.Warn().
					Err(err).
					Str("eventID", event.ID).
					Str("rule", rule.Name).
					Msg("Optional migration rule skipped")
				continue
			}
			data = next
		}
	}

	if issues := m.registry.ValidateEventSchema(event.EventType, opts.ToVersion, data); len(issues) > 0 {
		return fmt.Errorf("migrated data fails v%d schema: %s: %s",
			opts.ToVersion, issues[0].Field, issues[0].Problem)
	}

	if opts.DryRun {
		return nil
	}

	if opts.PreserveOriginal {
		copyEvent := *event
		copyEvent.ID = uuid.New().String()
		copyEvent.EventData = data
		copyEvent.SchemaVersion = opts.ToVersion
		copyEvent.Metadata = event.Metadata.Copy()
		if copyEvent.Metadata == nil {
			copyEvent.Metadata = models.JSONMap{}
		}
		copyEvent.Metadata[metaMigratedCopyOf] = event.ID
		copyEvent.Metadata[metaMigrationHistory] = appendHistory(copyEvent.Metadata, opts)
		return m.store.InsertMigratedCopy(ctx, &copyEvent)
	}

	metadata := event.Metadata.Copy()
	if metadata == nil {
		metadata = models.JSONMap{}
	}
	if opts.BackupOriginal {
		metadata[metaOriginalData] = map[string]interface{}{
			"event_data":     map[string]interface{}(event.EventData),
			"schema_version": event.SchemaVersion,
		}
	}
	metadata[metaMigrationHistory] = appendHistory(metadata, opts)

	return m.store.UpdateEventMigration(ctx, event.ID, data, opts.ToVersion, metadata)
}

func appendHistory(metadata models.JSONMap, opts MigrateOptions) []interface{} {
	var history []interface{}
	if existing, ok := metadata[metaMigrationHistory].([]interface{}); ok {
		history = existing
	}
	return append(history, map[string]interface{}{
		"from":        opts.FromVersion,
		"to":          opts.ToVersion,
		"migrated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// RollbackMigration restores an event's pre-migration data from its
// metadata backup. Events migrated without BackupOriginal cannot be
// rolled back and return ErrNoBackup.
func (m *Migrator) RollbackMigration(ctx context.Context, eventID string) error {
	event, err := m.store.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}

	backup, ok := event.Metadata[metaOriginalData].(map[string]interface{})
	if !ok {
		return ErrNoBackup
	}

	originalData, ok := backup["event_data"].(map[string]interface{})
	if !ok {
		return ErrNoBackup
	}
	originalVersion := 1
	switch v := backup["schema_version"].(type) {
	case float64:
		originalVersion = int(v)
	case int:
		originalVersion = v
	}

	metadata := event.Metadata.Copy()
	delete(metadata, metaOriginalData)
	metadata[metaMigrationHistory] = append(historyOf(metadata), map[string]interface{}{
		"rolled_back_to": originalVersion,
		"rolled_back_at": time.Now().UTC().Format(time.RFC3339Nano),
	})

	if err := m.store.UpdateEventMigration(ctx, eventID, models.JSONMap(originalData), originalVersion, metadata); err != nil {
		return err
	}

	log.Info().
		Str("eventID", eventID).
		Int("schemaVersion", originalVersion).
		Msg("Migration rolled back")
	return nil
}

// MigrationStatus summarizes how far an event type's stored events are
// from the latest registered schema version.
type MigrationStatus struct {
	EventType     string        `json:"event_type"`
	LatestVersion int           `json:"latest_version"`
	TotalEvents   int64         `json:"total_events"`
	ByVersion     map[int]int64 `json:"by_version"`
	PendingEvents int64         `json:"pending_events"`
	UpToDate      bool          `json:"up_to_date"`
}

// MigrationStatus counts an event type's stored events per schema
// version. Events below the latest registered version count as pending.
func (m *Migrator) MigrationStatus(ctx context.Context, eventType string) (*MigrationStatus, error) {
	latest := m.registry.LatestVersion(eventType)
	if latest == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	status := &MigrationStatus{
		EventType:     eventType,
		LatestVersion: latest,
		ByVersion:     make(map[int]int64),
	}
	for v := 1; v <= latest; v++ {
		_, total, err := m.store.GetEventsByCriteria(ctx, eventstore.Criteria{
			EventTypes:    []string{eventType},
			SchemaVersion: v,
			Limit:         1,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to count events by schema version")
		}
		if total == 0 {
			continue
		}
		status.ByVersion[v] = total
		status.TotalEvents += total
		if v < latest {
			status.PendingEvents += total
		}
	}
	status.UpToDate = status.PendingEvents == 0
	return status, nil
}

func historyOf(metadata models.JSONMap) []interface{} {
	if existing, ok := metadata[metaMigrationHistory].([]interface{}); ok {
		return existing
	}
	return nil
}
