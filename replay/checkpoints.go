package replay

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/models"
)

// StateValidator inspects the state after an event is applied. Returning
// an error marks the step invalid.
type StateValidator func(state models.JSONMap, event *models.Event) error

// ProgressFunc reports replay progress as events are folded
type ProgressFunc func(processed, total int)

// CheckpointOptions controls a checkpointed replay
type CheckpointOptions struct {
	// CheckpointInterval is the number of events between checkpoints
	// (default 10).
	CheckpointInterval int
	// CheckpointVersions forces a checkpoint right after these versions,
	// on top of the interval.
	CheckpointVersions []int
	// Projections fold alongside the reducer; their views are captured
	// in every checkpoint and in the result.
	Projections []Projection
	// Validators run after every applied event
	Validators []StateValidator
	// RollbackOnError restores the last checkpoint state on failure
	// instead of returning the partially folded state.
	RollbackOnError bool
	// Progress, when set, is called after every applied event
	Progress ProgressFunc
	// DryRun tags the result as a rehearsal; checkpointed replay never
	// writes, so this only affects reporting.
	DryRun bool
}

// Checkpoint is a snapshot taken during replay
type Checkpoint struct {
	Version   int                       `json:"version"`
	State     models.JSONMap            `json:"state"`
	Views     map[string]models.JSONMap `json:"views,omitempty"`
	TakenAt   time.Time                 `json:"taken_at"`
	EventsIn  int                       `json:"events_in"`
	ElapsedMs int64                     `json:"elapsed_ms"`
}

// PerformanceMetrics summarizes replay throughput
type PerformanceMetrics struct {
	TotalEvents     int           `json:"total_events"`
	EventsProcessed int           `json:"events_processed"`
	Duration        time.Duration `json:"duration"`
	EventsPerSecond float64       `json:"events_per_second"`
	AvgEventMs      float64       `json:"avg_event_ms"`
	PeakMemoryBytes uint64        `json:"peak_memory_bytes"`
	CheckpointCount int           `json:"checkpoint_count"`
}

// CheckpointResult is the outcome of a checkpointed replay
type CheckpointResult struct {
	AggregateID string                    `json:"aggregate_id"`
	FinalState  models.JSONMap            `json:"final_state"`
	Views       map[string]models.JSONMap `json:"views,omitempty"`
	Checkpoints []Checkpoint              `json:"checkpoints"`
	RolledBack  bool                      `json:"rolled_back"`
	FailedAt    *StepError                `json:"failed_at,omitempty"`
	DryRun      bool                      `json:"dry_run"`
	Metrics     PerformanceMetrics        `json:"metrics"`
}

// ReplayEventsWithCheckpoints replays with periodic and version-pinned
// snapshots, custom validators and optional rollback to the last good
// checkpoint.
func (e *Engine) ReplayEventsWithCheckpoints(ctx context.Context, aggregateID string, opts CheckpointOptions) (*CheckpointResult, error) {
	start := time.Now()

	interval := opts.CheckpointInterval
	if interval <= 0 {
		interval = 10
	}
	pinned := make(map[int]struct{}, len(opts.CheckpointVersions))
	for _, v := range opts.CheckpointVersions {
		pinned[v] = struct{}{}
	}

	events, err := e.store.GetEventsForAggregate(ctx, aggregateID, eventstore.EventFilter{})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, eventstore.ErrAggregateNotFound
	}

	result := &CheckpointResult{
		AggregateID: aggregateID,
		FinalState:  models.JSONMap{},
		DryRun:      opts.DryRun,
	}
	if len(opts.Projections) > 0 {
		result.Views = make(map[string]models.JSONMap, len(opts.Projections))
		for _, p := range opts.Projections {
			result.Views[p.Name()] = initialView(p)
		}
	}
	lastCheckpointState := models.JSONMap{}
	lastCheckpointViews := copyViews(result.Views)

	var peakMemory uint64
	samplePeakMemory(&peakMemory)

	for i := range events {
		event := &events[i]

		next := e.reducer.Apply(result.FinalState, event)

		var stepErr error
		for _, validate := range opts.Validators {
			if err := validate(next, event); err != nil {
				stepErr = err
				break
			}
		}

		if stepErr != nil {
			result.FailedAt = &StepError{
				EventID: event.ID,
				Version: event.Version,
				Message: stepErr.Error(),
			}
			if opts.RollbackOnError {
				result.FinalState = lastCheckpointState.Copy()
				result.Views = copyViews(lastCheckpointViews)
				result.RolledBack = true
			}

			log.Warn().
				Str("aggregateID", aggregateID).
				Int("version", event.Version).
				Bool("rolledBack", result.RolledBack).
				Err(stepErr).
				Msg("Checkpointed replay stopped")
			break
		}

		result.FinalState = next
		for _, p := range opts.Projections {
			result.Views[p.Name()] = applyProjection(p, result.Views[p.Name()], event)
		}
		result.Metrics.EventsProcessed++

		if opts.Progress != nil {
			opts.Progress(result.Metrics.EventsProcessed, len(events))
		}

		_, pinnedHere := pinned[event.Version]
		if result.Metrics.EventsProcessed%interval == 0 || pinnedHere {
			lastCheckpointState = result.FinalState.Copy()
			lastCheckpointViews = copyViews(result.Views)
			result.Checkpoints = append(result.Checkpoints, Checkpoint{
				Version:   event.Version,
				State:     lastCheckpointState.Copy(),
				Views:     copyViews(lastCheckpointViews),
				TakenAt:   time.Now().UTC(),
				EventsIn:  result.Metrics.EventsProcessed,
				ElapsedMs: time.Since(start).Milliseconds(),
			})
			samplePeakMemory(&peakMemory)
		}
	}

	samplePeakMemory(&peakMemory)

	result.Metrics.TotalEvents = len(events)
	result.Metrics.Duration = time.Since(start)
	result.Metrics.CheckpointCount = len(result.Checkpoints)
	result.Metrics.PeakMemoryBytes = peakMemory
	if secs := result.Metrics.Duration.Seconds(); secs > 0 {
		result.Metrics.EventsPerSecond = float64(result.Metrics.EventsProcessed) / secs
	}
	if result.Metrics.EventsProcessed > 0 {
		result.Metrics.AvgEventMs = float64(result.Metrics.Duration.Microseconds()) / 1000 / float64(result.Metrics.EventsProcessed)
	}

	return result, nil
}

func copyViews(views map[string]models.JSONMap) map[string]models.JSONMap {
	if views == nil {
		return nil
	}
	out := make(map[string]models.JSONMap, len(views))
	for name, view := range views {
		out[name] = view.Copy()
	}
	return out
}

func samplePeakMemory(peak *uint64) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.HeapAlloc > *peak {
		*peak = stats.HeapAlloc
	}
}
