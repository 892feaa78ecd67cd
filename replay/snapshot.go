package replay

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/models"
)

// Snapshot is a point-in-time reconstruction of an aggregate, optionally
// with projection views. Snapshots are returned to the caller, never
// persisted; the event log stays the only source of truth.
type Snapshot struct {
	ID          string                    `json:"id"`
	AggregateID string                    `json:"aggregate_id"`
	Version     int                       `json:"version"`
	State       models.JSONMap            `json:"state"`
	Views       map[string]models.JSONMap `json:"views,omitempty"`
	EventCount  int                       `json:"event_count"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// CreateSnapshot reconstructs the aggregate at the given version. A zero
// upToVersion snapshots the full history.
func (e *Engine) CreateSnapshot(ctx context.Context, aggregateID string, upToVersion int, projections []Projection) (*Snapshot, error) {
	events, err := e.store.GetEventsForAggregate(ctx, aggregateID, eventstore.EventFilter{
		ToVersion: upToVersion,
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, eventstore.ErrAggregateNotFound
	}

	snapshot := &Snapshot{
		ID:          uuid.New().String(),
		AggregateID: aggregateID,
		State:       models.JSONMap{},
		EventCount:  len(events),
		CreatedAt:   time.Now().UTC(),
	}
	if len(projections) > 0 {
		snapshot.Views = make(map[string]models.JSONMap, len(projections))
		for _, p := range projections {
			snapshot.Views[p.Name()] = initialView(p)
		}
	}

	for i := range events {
		event := &events[i]
		snapshot.State = e.reducer.Apply(snapshot.State, event)
		for _, p := range projections {
			snapshot.Views[p.Name()] = applyProjection(p, snapshot.Views[p.Name()], event)
		}
		snapshot.Version = event.Version
	}

	return snapshot, nil
}
