package eventstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/models"
)

// GormStore implements Store using GORM on postgres
type GormStore struct {
	db        *gorm.DB
	reducer   *domain.Reducer
	notifiers []Notifier
}

// NewGormStore creates a new GORM event store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:      db,
		reducer: domain.NewReducer(),
	}
}

// AddNotifier registers a stored-event notifier. Not safe to call after
// writes have started.
func (s *GormStore) AddNotifier(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// Migrate creates the event and aggregate tables
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&models.Event{}, &models.Aggregate{})
}

// StoreEvent appends one event and updates the aggregate atomically.
// The aggregate row is locked for the duration of the transaction so the
// next version number is assigned without races; ExpectedVersion mismatches
// and unique-index collisions both surface as ErrVersionConflict.
func (s *GormStore) StoreEvent(ctx context.Context, input StoreEventInput) (*models.Event, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	var (
		event     *models.Event
		aggregate models.Aggregate
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", input.AggregateID).
			First(&aggregate)

		switch {
		case res.Error == nil:
			// existing aggregate, locked
		case errors.Is(res.Error, gorm.ErrRecordNotFound):
			aggregate = models.Aggregate{
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
			if err := tx.Create(&aggregate).Error; err != nil {
				if isDuplicateKey(err) {
					return ErrVersionConflict
				}
				return errors.Wrap(err, "failed to create aggregate")
			}
		default:
			return errors.Wrap(res.Error, "failed to load aggregate")
		}

		if input.ExpectedVersion != nil && *input.ExpectedVersion != aggregate.LastEventVersion {
			return ErrVersionConflict
		}

		schemaVersion := input.SchemaVersion
		if schemaVersion == 0 {
			schemaVersion = 1
		}

		event = &models.Event{
			ID:            uuid.New().String(),
			AggregateID:   input.AggregateID,
			AggregateType: input.AggregateType,
			EventType:     input.EventType,
			Version:       aggregate.LastEventVersion + 1,
			SchemaVersion: schemaVersion,
			EventData:     models.JSONMap(input.EventData),
			Metadata:      models.JSONMap(input.Metadata),
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

		if err := tx.Create(event).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrVersionConflict
			}
			return errors.Wrap(err, "failed to store event")
		}

		newState := s.reducer.Apply(aggregate.CurrentState, event)

		res = tx.Model(&models.Aggregate{}).
			Where("id = ? AND last_event_version = ?", aggregate.ID, aggregate.LastEventVersion).
			Updates(map[string]interface{}{
				"current_state":      newState,
				"last_event_version": event.Version,
				"updated_at":         time.Now().UTC(),
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to update aggregate")
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}

		aggregate.CurrentState = newState
		aggregate.LastEventVersion = event.Version
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("aggregateID", event.AggregateID).
		Str("eventType", event.EventType).
		Int("version", event.Version).
		Msg("Event stored")

	for _, n := range s.notifiers {
		n.EventStored(ctx, Notification{Event: event, Aggregate: &aggregate})
	}

	return event, nil
}

// GetEventsForAggregate returns the aggregate's events in version order
func (s *GormStore) GetEventsForAggregate(ctx context.Context, aggregateID string, filter EventFilter) ([]models.Event, error) {
	q := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("version ASC")

	if filter.FromVersion > 0 {
		q = q.Where("version >= ?", filter.FromVersion)
	}
	if filter.ToVersion > 0 {
		q = q.Where("version <= ?", filter.ToVersion)
	}
	if len(filter.EventTypes) > 0 {
		q = q.Where("event_type IN ?", filter.EventTypes)
	}
	if filter.FromTime != nil {
		q = q.Where("created_at >= ?", *filter.FromTime)
	}
	if filter.ToTime != nil {
		q = q.Where("created_at <= ?", *filter.ToTime)
	}

	var events []models.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get events")
	}
	return events, nil
}

// GetEventsByCriteria returns matching events newest first plus the total
// match count before pagination.
func (s *GormStore) GetEventsByCriteria(ctx context.Context, criteria Criteria) ([]models.Event, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Event{})

	if len(criteria.EventTypes) > 0 {
		q = q.Where("event_type IN ?", criteria.EventTypes)
	}
	if len(criteria.AggregateIDs) > 0 {
		q = q.Where("aggregate_id IN ?", criteria.AggregateIDs)
	}
	if criteria.AggregateType != "" {
		q = q.Where("aggregate_type = ?", criteria.AggregateType)
	}
	if criteria.UserID != "" {
		q = q.Where("user_id = ?", criteria.UserID)
	}
	if criteria.PartnerID != "" {
		q = q.Where("partner_id = ?", criteria.PartnerID)
	}
	if criteria.BookingID != "" {
		q = q.Where("booking_id = ?", criteria.BookingID)
	}
	if criteria.TransactionID != "" {
		q = q.Where("transaction_id = ?", criteria.TransactionID)
	}
	if criteria.CorrelationID != "" {
		q = q.Where("correlation_id = ?", criteria.CorrelationID)
	}
	if criteria.Status != "" {
		q = q.Where("status = ?", criteria.Status)
	}
	if criteria.SchemaVersion > 0 {
		q = q.Where("schema_version = ?", criteria.SchemaVersion)
	}
	if criteria.FromDate != nil {
		q = q.Where("created_at >= ?", *criteria.FromDate)
	}
	if criteria.ToDate != nil {
		q = q.Where("created_at <= ?", *criteria.ToDate)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "failed to count events")
	}

	if criteria.OldestFirst {
		q = q.Order("created_at ASC")
	} else {
		q = q.Order("created_at DESC")
	}
	if criteria.Limit > 0 {
		q = q.Limit(criteria.Limit)
	}
	if criteria.Offset > 0 {
		q = q.Offset(criteria.Offset)
	}

	var events []models.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, 0, errors.Wrap(err, "failed to query events")
	}
	return events, total, nil
}

// GetEventByID returns one event by primary key
func (s *GormStore) GetEventByID(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := s.db.WithContext(ctx).
		Where("id = ?", eventID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, errors.Wrap(err, "failed to get event")
	}
	return &event, nil
}

// GetAggregateState returns the materialized aggregate row
func (s *GormStore) GetAggregateState(ctx context.Context, aggregateID string) (*models.Aggregate, error) {
	var aggregate models.Aggregate
	err := s.db.WithContext(ctx).
		Where("id = ?", aggregateID).
		First(&aggregate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAggregateNotFound
		}
		return nil, errors.Wrap(err, "failed to get aggregate")
	}
	return &aggregate, nil
}

// ListAggregateIDs returns ids of all known aggregates
func (s *GormStore) ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&models.Aggregate{})
	if aggregateType != "" {
		q = q.Where("aggregate_type = ?", aggregateType)
	}

	var ids []string
	if err := q.Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list aggregates")
	}
	return ids, nil
}

// MarkEventProcessed flags successful side-effect processing
func (s *GormStore) MarkEventProcessed(ctx context.Context, eventID string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"status":       models.EventStatusProcessed,
			"processed_at": &now,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to mark event as processed")
	}
	if res.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// MarkEventFailed flags terminal processing failure
func (s *GormStore) MarkEventFailed(ctx context.Context, eventID, errorMessage string, retryCount int) error {
	res := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"status":        models.EventStatusFailed,
			"error_message": errorMessage,
			"retry_count":   retryCount,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to mark event as failed")
	}
	if res.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// UpdateEventMigration rewrites event data under an audited schema migration
func (s *GormStore) UpdateEventMigration(ctx context.Context, eventID string, data models.JSONMap, schemaVersion int, metadata models.JSONMap) error {
	res := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"event_data":     data,
			"schema_version": schemaVersion,
			"metadata":       metadata,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to migrate event")
	}
	if res.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// InsertMigratedCopy stores a migrated copy of an event
func (s *GormStore) InsertMigratedCopy(ctx context.Context, event *models.Event) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return errors.Wrap(err, "failed to insert migrated event")
	}
	return nil
}

// GetStatistics returns event table roll-ups
func (s *GormStore) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		EventsByStatus: make(map[models.EventStatus]int64),
		EventsByType:   make(map[string]int64),
	}

	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Count(&stats.TotalEvents).Error; err != nil {
		return nil, errors.Wrap(err, "failed to count events")
	}

	type statusCount struct {
		Status models.EventStatus
		Count  int64
	}
	var byStatus []statusCount
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, errors.Wrap(err, "failed to count events by status")
	}
	for _, sc := range byStatus {
		stats.EventsByStatus[sc.Status] = sc.Count
	}

	type typeCount struct {
		EventType string
		Count     int64
	}
	var byType []typeCount
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Select("event_type, count(*) as count").
		Group("event_type").
		Scan(&byType).Error; err != nil {
		return nil, errors.Wrap(err, "failed to count events by type")
	}
	for _, tc := range byType {
		stats.EventsByType[tc.EventType] = tc.Count
	}

	if stats.TotalEvents > 0 {
		var bounds struct {
			Oldest time.Time
			Newest time.Time
		}
		if err := s.db.WithContext(ctx).
			Model(&models.Event{}).
			Select("min(created_at) as oldest, max(created_at) as newest").
			Scan(&bounds).Error; err != nil {
			return nil, errors.Wrap(err, "failed to read event time bounds")
		}
		stats.OldestEvent = &bounds.Oldest
		stats.NewestEvent = &bounds.Newest
	}

	return stats, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key")
}
