package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/models"
	"example.com/backoffice/services/ledger/utils"
)

var (
	// ErrVersionConflict is returned when a concurrent writer appended to
	// the same aggregate first. The caller must re-read and retry.
	ErrVersionConflict = errors.New("aggregate version conflict")

	// ErrAggregateNotFound is returned for reads of unknown aggregates
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrEventNotFound is returned for operations on unknown events
	ErrEventNotFound = errors.New("event not found")
)

// ValidationError is a fatal input error raised before any persistence
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + strings.Join(e.Problems, "; ")
}

// StoreEventInput is the write-side contract for appending one event
type StoreEventInput struct {
	AggregateID   string                 `json:"aggregate_id" binding:"required"`
	AggregateType string                 `json:"aggregate_type" binding:"required"`
	EventType     string                 `json:"event_type" binding:"required"`
	EventData     map[string]interface{} `json:"event_data" binding:"required"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	PartnerID     string                 `json:"partner_id,omitempty"`
	BookingID     string                 `json:"booking_id,omitempty"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	Amount        *float64               `json:"amount,omitempty"`
	Currency      string                 `json:"currency,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	CausationID   string                 `json:"causation_id,omitempty"`
	SchemaVersion int                    `json:"schema_version,omitempty"`

	// ExpectedVersion, when set, rejects the append unless the aggregate
	// is currently at exactly this version.
	ExpectedVersion *int `json:"expected_version,omitempty"`
}

// Validate checks the input before any persistence happens
func (in *StoreEventInput) Validate() error {
	var problems []string

	if in.AggregateID == "" {
		problems = append(problems, "aggregateId is required")
	}
	if in.AggregateType == "" {
		problems = append(problems, "aggregateType is required")
	}
	if in.EventType == "" {
		problems = append(problems, "eventType is required")
	}
	if in.EventData == nil {
		problems = append(problems, "eventData is required")
	}

	if in.EventType != "" && domain.IsMoneyMovement(in.EventType) {
		if in.Amount == nil || *in.Amount <= 0 {
			problems = append(problems, fmt.Sprintf("%s requires a positive amount", in.EventType))
		}
		if !utils.IsValidCurrency(in.Currency) {
			problems = append(problems, fmt.Sprintf("%s requires an ISO currency code", in.EventType))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// EventFilter narrows per-aggregate event reads
type EventFilter struct {
	FromVersion int
	ToVersion   int
	EventTypes  []string
	FromTime    *time.Time
	ToTime      *time.Time
}

// Criteria is the cross-aggregate query surface used by the audit and
// reporting paths.
type Criteria struct {
	EventTypes    []string
	AggregateIDs  []string
	AggregateType string
	UserID        string
	PartnerID     string
	BookingID     string
	TransactionID string
	CorrelationID string
	Status        models.EventStatus
	SchemaVersion int
	FromDate      *time.Time
	ToDate        *time.Time
	// OldestFirst orders results by ascending creation time. The default
	// is newest first, which suits the read API's paging.
	OldestFirst bool
	Limit       int
	Offset      int
}

// Statistics is an operational roll-up of the event table
type Statistics struct {
	TotalEvents    int64                        `json:"total_events"`
	EventsByStatus map[models.EventStatus]int64 `json:"events_by_status"`
	EventsByType   map[string]int64             `json:"events_by_type"`
	OldestEvent    *time.Time                   `json:"oldest_event,omitempty"`
	NewestEvent    *time.Time                   `json:"newest_event,omitempty"`
}

// Notification is delivered after an event has been committed
type Notification struct {
	Event     *models.Event
	Aggregate *models.Aggregate
}

// Notifier receives stored-event notifications. Implementations must not
// block the write path; the dispatcher buffers internally.
type Notifier interface {
	EventStored(ctx context.Context, n Notification)
}

// Store is the interface for event storage. The GORM implementation is
// the production default; the memory implementation backs tests.
type Store interface {
	// StoreEvent appends one event and updates the aggregate's materialized
	// state in a single atomic unit. Returns ErrVersionConflict when a
	// concurrent append wins.
	StoreEvent(ctx context.Context, input StoreEventInput) (*models.Event, error)

	// GetEventsForAggregate returns the aggregate's events in version order
	GetEventsForAggregate(ctx context.Context, aggregateID string, filter EventFilter) ([]models.Event, error)

	// GetEventsByCriteria returns matching events (newest first unless
	// OldestFirst is set) and the total match count before pagination.
	GetEventsByCriteria(ctx context.Context, criteria Criteria) ([]models.Event, int64, error)

	// GetEventByID returns one event by primary key
	GetEventByID(ctx context.Context, eventID string) (*models.Event, error)

	// GetAggregateState returns the materialized aggregate row
	GetAggregateState(ctx context.Context, aggregateID string) (*models.Aggregate, error)

	// ListAggregateIDs returns ids of all known aggregates, optionally
	// filtered by type.
	ListAggregateIDs(ctx context.Context, aggregateType string) ([]string, error)

	// MarkEventProcessed flags successful side-effect processing
	MarkEventProcessed(ctx context.Context, eventID string) error

	// MarkEventFailed flags terminal processing failure
	MarkEventFailed(ctx context.Context, eventID, errorMessage string, retryCount int) error

	// UpdateEventMigration rewrites event data under an audited schema
	// migration. This is the only sanctioned in-place event mutation.
	UpdateEventMigration(ctx context.Context, eventID string, data models.JSONMap, schemaVersion int, metadata models.JSONMap) error

	// InsertMigratedCopy stores a migrated copy of an event, preserving
	// the original row.
	InsertMigratedCopy(ctx context.Context, event *models.Event) error

	// GetStatistics returns event table roll-ups
	GetStatistics(ctx context.Context) (*Statistics, error)
}
