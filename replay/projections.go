package replay

import (
	"context"

	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/models"
)

// Projection is a read-model fold that runs alongside the main reducer
// during reconstruction. Apply must be pure, like the reducer;
// InitialState seeds the view before the first event.
type Projection interface {
	Name() string
	InitialState() models.JSONMap
	Apply(view models.JSONMap, event *models.Event) models.JSONMap
}

// ProjectionResult is the outcome of a reconstruction with projections
type ProjectionResult struct {
	AggregateID string                    `json:"aggregate_id"`
	FinalState  models.JSONMap            `json:"final_state"`
	Views       map[string]models.JSONMap `json:"views"`
	EventCount  int                       `json:"event_count"`
}

// ReconstructStateWithProjections folds the aggregate's history through
// the reducer and every projection in one pass. A projection failure is
// logged and leaves its view unchanged; the main fold is never aborted.
func (e *Engine) ReconstructStateWithProjections(ctx context.Context, aggregateID string, projections []Projection) (*ProjectionResult, error) {
	events, err := e.store.GetEventsForAggregate(ctx, aggregateID, eventstore.EventFilter{})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, eventstore.ErrAggregateNotFound
	}

	result := &ProjectionResult{
		AggregateID: aggregateID,
		FinalState:  models.JSONMap{},
		Views:       make(map[string]models.JSONMap, len(projections)),
		EventCount:  len(events),
	}
	for _, p := range projections {
		result.Views[p.Name()] = initialView(p)
	}

	for i := range events {
		event := &events[i]
		result.FinalState = e.reducer.Apply(result.FinalState, event)
		for _, p := range projections {
			result.Views[p.Name()] = applyProjection(p, result.Views[p.Name()], event)
		}
	}

	return result, nil
}

func initialView(p Projection) models.JSONMap {
	if view := p.InitialState(); view != nil {
		return view.Copy()
	}
	return models.JSONMap{}
}

// applyProjection isolates one projection step: a panic keeps the
// previous view instead of aborting the fold.
func applyProjection(p Projection, view models.JSONMap, event *models.Event) (out models.JSONMap) {
	out = view
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("projection", p.Name()).
				Str("eventID", event.ID).
				Interface("panic", r).
				Msg("Projection apply failed; view kept at previous state")
		}
	}()

	if next := p.Apply(view, event); next != nil {
		out = next
	}
	return out
}
