package schema

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/models"
)

func noteRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()

	require.NoError(t, r.RegisterEventVersion(Definition{
		EventType:      "ledger.note",
		Version:        1,
		RequiredFields: map[string]FieldType{"note": FieldString},
	}))
	require.NoError(t, r.RegisterEventVersion(Definition{
		EventType: "ledger.note",
		Version:   2,
		RequiredFields: map[string]FieldType{
			"note":        FieldString,
			"note_length": FieldNumber,
		},
	}))
	require.NoError(t, r.RegisterMigration("ledger.note", 1, func(data models.JSONMap) (models.JSONMap, error) {
		note, ok := data["note"].(string)
		if !ok {
			return nil, fmt.Errorf("note is not a string")
		}
		out := data.Copy()
		out["note_length"] = float64(len(note))
		return out, nil
	}))

	return r
}

func seedNotes(t *testing.T, store eventstore.Store, notes ...interface{}) []string {
	t.Helper()
	ctx := context.Background()

	ids := make([]string, 0, len(notes))
	for _, note := range notes {
		event, err := store.StoreEvent(ctx, eventstore.StoreEventInput{
			AggregateID:   "note-agg",
			AggregateType: "transaction",
			EventType:     "ledger.note",
			EventData:     map[string]interface{}{"note": note},
			UserID:        "user-1",
		})
		require.NoError(t, err)
		ids = append(ids, event.ID)
	}
	return ids
}

func TestMigrateEventsInPlace(t *testing.T) {
	store := eventstore.NewMemoryStore()
	registry := noteRegistry(t)
	ids := seedNotes(t, store, "first", "second", "third")

	migrator := NewMigrator(store, registry)
	report, err := migrator.MigrateEvents(context.Background(), MigrateOptions{
		EventType:   "ledger.note",
		FromVersion: 1,
		ToVersion:   2,
		BatchSize:   2,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 3, report.Migrated)
	assert.Zero(t, report.Failed)

	event, err := store.GetEventByID(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, 2, event.SchemaVersion)
	assert.Equal(t, 5.0, event.EventData["note_length"])

	history, ok := event.Metadata["migrationHistory"].([]interface{})
	require.True(t, ok)
	assert.Len(t, history, 1)
}

func TestMigrateEventsCollectsFailures(t *testing.T) {
	store := eventstore.NewMemoryStore()
	registry := noteRegistry(t)
	seedNotes(t, store, "good", 42, "also good")

	migrator := NewMigrator(store, registry)
	report, err := migrator.MigrateEvents(context.Background(), MigrateOptions{
		EventType:   "ledger.note",
		FromVersion: 1,
		ToVersion:   2,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Migrated)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "note is not a string")
}

func TestMigrateEventsDryRun(t *testing.T) {
	store := eventstore.NewMemoryStore()
	registry := noteRegistry(t)
	ids := seedNotes(t, store, "untouched")

	migrator := NewMigrator(store, registry)
	report, err := migrator.MigrateEvents(context.Background(), MigrateOptions{
		EventType:   "ledger.note",
		FromVersion: 1,
		ToVersion:   2,
		DryRun:      true,
	})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Migrated)

	event, err := store.GetEventByID(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, event.SchemaVersion)
	assert.NotContains(t, event.EventData, "note_length")
}

func TestMigrateEventsPreserveOriginal(t *testing.T) {
	store := eventstore.NewMemoryStore()
	registry := noteRegistry(t)
	ids := seedNotes(t, store, "keep me")
	ctx := context.Background()

	migrator := NewMigrator(store, registry)
	report, err := migrator.MigrateEvents(ctx, MigrateOptions{
		EventType:        "ledger.note",
		FromVersion:      1,
		ToVersion:        2,
		PreserveOriginal: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)

	original, err := store.GetEventByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, original.SchemaVersion)

	copies, total, err := store.GetEventsByCriteria(ctx, eventstore.Criteria{
		EventTypes:    []string{"ledger.note"},
		SchemaVersion: 2,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, 7.0, copies[0].EventData["note_length"])
	assert.Equal(t, ids[0], copies[0].Metadata["migratedCopyOf"])
}

func ruleRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()

	require.NoError(t, r.RegisterEventVersion(Definition{
		EventType:      "ledger.note",
		Version:        1,
		RequiredFields: map[string]FieldType{"note": FieldString},
	}))
	require.NoError(t, r.RegisterEventVersion(Definition{
		EventType: "ledger.note",
		Version:   2,
		RequiredFields: map[string]FieldType{
			"note":        FieldString,
			"note_length": FieldNumber,
		},
		OptionalFields: map[string]FieldType{"summary": FieldString},
	}))
	require.NoError(t, r.RegisterMigrationRules("ledger.note", 1,
		MigrationRule{
			Name:     "add_note_length",
			Required: true,
			Apply: func(data models.JSONMap) (models.JSONMap, error) {
				note, ok := data["note"].(string)
				if !ok {
					return nil, fmt.Errorf("note is not a string")
				}
				out := data.Copy()
				out["note_length"] = float64(len(note))
				return out, nil
			},
		},
		MigrationRule{
			Name: "add_summary",
			Apply: func(data models.JSONMap) (models.JSONMap, error) {
				note := data["note"].(string)
				if len(note) > 6 {
					return nil, fmt.Errorf("note too long to summarize")
				}
				out := data.Copy()
				out["summary"] = note
				return out, nil
			},
		},
	))

	return r
}

func TestMigrateEventsOptionalRuleSkipped(t *testing.T) {
	store := eventstore.NewMemoryStore()
	registry := ruleRegistry(t)
	ids := seedNotes(t, store, "short", "far too long")
	ctx := context.Background()

	migrator := NewMigrator(store, registry)
	report, err := migrator.MigrateEvents(ctx, MigrateOptions{
		EventType:   "ledger.note",
		FromVersion: 1,
		ToVersion:   2,
	})
	require.NoError(t, err)

	// The optional rule failing on the long note does not fail the event.
	assert.Equal(t, 2, report.Migrated)
	assert.Zero(t, report.Failed)

	short, err := store.GetEventByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "short", short.EventData["summary"])

	long, err := store.GetEventByID(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, 2, long.SchemaVersion)
	assert.Equal(t, 12.0, long.EventData["note_length"])
	assert.NotContains(t, long.EventData, "summary")
}

func TestMigrateEventsStopOnError(t *testing.T) {
	store := eventstore.NewMemoryStore()
	registry := ruleRegistry(t)
	ids := seedNotes(t, store, "far too long")
	ctx := context.Background()

	migrator := NewMigrator(store, registry)
	report, err := migrator.MigrateEvents(ctx, MigrateOptions{
		EventType:   "ledger.note",
		FromVersion: 1,
		ToVersion:   2,
		StopOnError: true,
	})
	require.NoError(t, err)

	assert.Zero(t, report.Migrated)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "add_summary")

	untouched, err := store.GetEventByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, untouched.SchemaVersion)
}

func TestMigrateEventsRequiredRuleFails(t *testing.T) {
	store := eventstore.NewMemoryStore()
	registry := ruleRegistry(t)
	seedNotes(t, store, 42)

	migrator := NewMigrator(store, registry)
	report, err := migrator.MigrateEvents(context.Background(), MigrateOptions{
		EventType:   "ledger.note",
		FromVersion: 1,
		ToVersion:   2,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "add_note_length")
}

func TestMigrationStatus(t *testing.T) {
	store := eventstore.NewMemoryStore()
	registry := noteRegistry(t)
	seedNotes(t, store, "one", "two")
	ctx := context.Background()

	migrator := NewMigrator(store, registry)

	status, err := migrator.MigrationStatus(ctx, "ledger.note")
	require.NoError(t, err)
	assert.Equal(t, 2, status.LatestVersion)
	assert.Equal(t, int64(2), status.TotalEvents)
	assert.Equal(t, int64(2), status.ByVersion[1])
	assert.Equal(t, int64(2), status.PendingEvents)
	assert.False(t, status.UpToDate)

	_, err = migrator.MigrateEvents(ctx, MigrateOptions{
		EventType:   "ledger.note",
		FromVersion: 1,
		ToVersion:   2,
	})
	require.NoError(t, err)

	status, err = migrator.MigrationStatus(ctx, "ledger.note")
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.ByVersion[2])
	assert.Zero(t, status.PendingEvents)
	assert.True(t, status.UpToDate)

	_, err = migrator.MigrationStatus(ctx, "unknown.type")
	require.Error(t, err)
}

func TestMigrateEventsMissingPath(t *testing.T) {
	store := eventstore.NewMemoryStore()
	registry := noteRegistry(t)

	migrator := NewMigrator(store, registry)
	_, err := migrator.MigrateEvents(context.Background(), MigrateOptions{
		EventType:   "ledger.note",
		FromVersion: 2,
		ToVersion:   3,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no migration registered")
}

func TestRollbackMigration(t *testing.T) {
	store := eventstore.NewMemoryStore()
	registry := noteRegistry(t)
	ids := seedNotes(t, store, "rollme")
	ctx := context.Background()

	migrator := NewMigrator(store, registry)
	_, err := migrator.MigrateEvents(ctx, MigrateOptions{
		EventType:      "ledger.note",
		FromVersion:    1,
		ToVersion:      2,
		BackupOriginal: true,
	})
	require.NoError(t, err)

	migrated, err := store.GetEventByID(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, 2, migrated.SchemaVersion)
	require.Contains(t, migrated.Metadata, "originalData")

	require.NoError(t, migrator.RollbackMigration(ctx, ids[0]))

	restored, err := store.GetEventByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, restored.SchemaVersion)
	assert.Equal(t, "rollme", restored.EventData["note"])
	assert.NotContains(t, restored.EventData, "note_length")
	assert.NotContains(t, restored.Metadata, "originalData")

	// The backup is consumed; a second rollback has nothing to restore.
	assert.ErrorIs(t, migrator.RollbackMigration(ctx, ids[0]), ErrNoBackup)
}

func TestRollbackMigrationWithoutBackup(t *testing.T) {
	store := eventstore.NewMemoryStore()
	registry := noteRegistry(t)
	ids := seedNotes(t, store, "no backup")
	ctx := context.Background()

	migrator := NewMigrator(store, registry)
	_, err := migrator.MigrateEvents(ctx, MigrateOptions{
		EventType:   "ledger.note",
		FromVersion: 1,
		ToVersion:   2,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, migrator.RollbackMigration(ctx, ids[0]), ErrNoBackup)
	assert.ErrorIs(t, migrator.RollbackMigration(ctx, "missing"), eventstore.ErrEventNotFound)
}
