package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/models"
)

// MemoryStore is an in-memory Store with the same semantics as GormStore.
// It backs tests and embedded tooling; it is not durable.
type MemoryStore struct {
	mu         sync.Mutex
	events     []models.Event
	aggregates map[string]*models.Aggregate
	reducer    *domain.Reducer
	notifiers  []Notifier
}

// NewMemoryStore creates an empty in-memory event store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		aggregates: make(map[string]*models.Aggregate),
		reducer:    domain.NewReducer(),
	}
}

// AddNotifier registers a stored-event notifier
func (s *MemoryStore) AddNotifier(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// StoreEvent appends one event and updates the aggregate atomically
func (s *MemoryStore) StoreEvent(ctx context.Context, input StoreEventInput) (*models.Event, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()

	aggregate, ok := s.aggregates[input.AggregateID]
	if !ok {
		aggregate = &models.Aggregate{
			ID:               input.AggregateID,
			AggregateType:    input.AggregateType,
			CurrentState:     models.JSONMap{},
			LastEventVersion: 0,
			Status:           models.AggregateStatusActive,
			UserID:           input.UserID,
			PartnerID:        input.PartnerID,
			BookingID:        input.BookingID,
			Metadata:         models.JSONMap{},
			CreatedAt:        time.Now().UTC(),
		}
		s.aggregates[input.AggregateID] = aggregate
	}

	if input.ExpectedVersion != nil && *input.ExpectedVersion != aggregate.LastEventVersion {
		s.mu.Unlock()
		return nil, ErrVersionConflict
	}

	schemaVersion := input.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	event := models.Event{
		ID:            uuid.New().String(),
		AggregateID:   input.AggregateID,
		AggregateType: input.AggregateType,
		EventType:     input.EventType,
		Version:       aggregate.LastEventVersion + 1,
		SchemaVersion: schemaVersion,
		EventData:     models.JSONMap(input.EventData).Copy(),
		Metadata:      models.JSONMap(input.Metadata).Copy(),
		Status:        models.EventStatusPending,
		UserID:        input.UserID,
		PartnerID:     input.PartnerID,
		BookingID:     input.BookingID,
		TransactionID: input.TransactionID,
		Amount:        input.Amount,
		Currency:      input.Currency,
		CorrelationID: input.CorrelationID,
		CausationID:   input.CausationID,
		CreatedAt:     time.Now().UTC(),
	}
	if event.Metadata == nil {
		event.Metadata = models.JSONMap{}
	}

	s.events = append(s.events, event)
	aggregate.CurrentState = s.reducer.Apply(aggregate.CurrentState, &event)
	aggregate.LastEventVersion = event.Version
	aggregate.UpdatedAt = time.Now().UTC()

	stored := event
	snapshot := *aggregate
	s.mu.Unlock()

	for _, n := range s.notifiers {
		n.EventStored(ctx, Notification{Event: &stored, Aggregate: &snapshot})
	}

	return &stored, nil
}

// GetEventsForAggregate returns the aggregate's events in version order
func (s *MemoryStore) GetEventsForAggregate(ctx context.Context, aggregateID string, filter EventFilter) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Event
	for _, e := range s.events {
		if e.AggregateID != aggregateID {
			continue
		}
		if filter.FromVersion > 0 && e.Version < filter.FromVersion {
			continue
		}
		if filter.ToVersion > 0 && e.Version > filter.ToVersion {
			continue
		}
		if len(filter.EventTypes) > 0 && !containsString(filter.EventTypes, e.EventType) {
			continue
		}
		if filter.FromTime != nil && e.CreatedAt.Before(*filter.FromTime) {
			continue
		}
		if filter.ToTime != nil && e.CreatedAt.After(*filter.ToTime) {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// GetEventsByCriteria returns matching events newest first plus the total
// match count before pagination.
func (s *MemoryStore) GetEventsByCriteria(ctx context.Context, criteria Criteria) ([]models.Event, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []models.Event
	for _, e := range s.events {
		if !matchesCriteria(&e, criteria) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool {
		if criteria.OldestFirst {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))

	if criteria.Offset > 0 {
		if criteria.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[criteria.Offset:]
	}
	if criteria.Limit > 0 && criteria.Limit < len(matched) {
		matched = matched[:criteria.Limit]
	}

	return matched, total, nil
}

func matchesCriteria(e *models.Event, c Criteria) bool {
	if len(c.EventTypes) > 0 && !containsString(c.EventTypes, e.EventType) {
		return false
	}
	if len(c.AggregateIDs) > 0 && !containsString(c.AggregateIDs, e.AggregateID) {
		return false
	}
	if c.AggregateType != "" && e.AggregateType != c.AggregateType {
		return false
	}
	if c.UserID != "" && e.UserID != c.UserID {
		return false
	}
	if c.PartnerID != "" && e.PartnerID != c.PartnerID {
		return false
	}
	if c.BookingID != "" && e.BookingID != c.BookingID {
		return false
	}
	if c.TransactionID != "" && e.TransactionID != c.TransactionID {
		return false
	}
	if c.CorrelationID != "" && e.CorrelationID != c.CorrelationID {
		return false
	}
	if c.Status != "" && e.Status != c.Status {
		return false
	}
	if c.SchemaVersion > 0 && e.SchemaVersion != c.SchemaVersion {
		return false
	}
	if c.FromDate != nil && e.CreatedAt.Before(*c.FromDate) {
		return false
	}
	if c.ToDate != nil && e.CreatedAt.After(*c.ToDate) {
		return false
	}
	return true
}

// GetEventByID returns one event by primary key
func (s *MemoryStore) GetEventByID(ctx context.Context, eventID string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID == eventID {
			snapshot := s.events[i]
			return &snapshot, nil
		}
	}
	return nil, ErrEventNotFound
}

// GetAggregateState returns the materialized aggregate row
func (s *MemoryStore) GetAggregateState(ctx context.Context, aggregateID string) (*models.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	aggregate, ok := s.aggregates[aggregateID]
	if !ok {
		return nil, ErrAggregateNotFound
	}
	snapshot := *aggregate
	snapshot.CurrentState = aggregate.CurrentState.Copy()
	return &snapshot, nil
}

// ListAggregateIDs returns ids of all known aggregates
func (s *MemoryStore) ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type entry struct {
		id      string
		created time.Time
	}
	var entries []entry
	for id, agg := range s.aggregates {
		if aggregateType != "" && agg.AggregateType != aggregateType {
			continue
		}
		entries = append(entries, entry{id: id, created: agg.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].created.Equal(entries[j].created) {
			return entries[i].id < entries[j].id
		}
		return entries[i].created.Before(entries[j].created)
	})

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

// MarkEventProcessed flags successful side-effect processing
func (s *MemoryStore) MarkEventProcessed(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID == eventID {
			now := time.Now().UTC()
			s.events[i].Status = models.EventStatusProcessed
			s.events[i].ProcessedAt = &now
			return nil
		}
	}
	return ErrEventNotFound
}

// MarkEventFailed flags terminal processing failure
func (s *MemoryStore) MarkEventFailed(ctx context.Context, eventID, errorMessage string, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID == eventID {
			s.events[i].Status = models.EventStatusFailed
			s.events[i].ErrorMessage = errorMessage
			s.events[i].RetryCount = retryCount
			return nil
		}
	}
	return ErrEventNotFound
}

// UpdateEventMigration rewrites event data under an audited schema migration
func (s *MemoryStore) UpdateEventMigration(ctx context.Context, eventID string, data models.JSONMap, schemaVersion int, metadata models.JSONMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID == eventID {
			s.events[i].EventData = data.Copy()
			s.events[i].SchemaVersion = schemaVersion
			s.events[i].Metadata = metadata.Copy()
			return nil
		}
	}
	return ErrEventNotFound
}

// InsertMigratedCopy stores a migrated copy of an event
func (s *MemoryStore) InsertMigratedCopy(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	s.events = append(s.events, *event)
	return nil
}

// GetStatistics returns event roll-ups
func (s *MemoryStore) GetStatistics(ctx context.Context) (*Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Statistics{
		TotalEvents:    int64(len(s.events)),
		EventsByStatus: make(map[models.EventStatus]int64),
		EventsByType:   make(map[string]int64),
	}

	for _, e := range s.events {
		stats.EventsByStatus[e.Status]++
		stats.EventsByType[e.EventType]++

		created := e.CreatedAt
		if stats.OldestEvent == nil || created.Before(*stats.OldestEvent) {
			t := created
			stats.OldestEvent = &t
		}
		if stats.NewestEvent == nil || created.After(*stats.NewestEvent) {
			t := created
			stats.NewestEvent = &t
		}
	}

	return stats, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
