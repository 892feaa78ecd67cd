package models

import (
	"time"
)

// EventStatus is the processing status of a stored event
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusProcessed EventStatus = "processed"
	EventStatusFailed    EventStatus = "failed"
	EventStatusCancelled EventStatus = "cancelled"
)

// Event represents a financial domain event in the database.
// Events are immutable once written; the only sanctioned mutation is an
// audited schema migration of EventData/SchemaVersion.
type Event struct {
	ID            string      `gorm:"primaryKey" json:"id"`
	AggregateID   string      `gorm:"index;uniqueIndex:idx_events_aggregate_version,priority:1" json:"aggregate_id"`
	AggregateType string      `gorm:"index" json:"aggregate_type"`
	EventType     string      `gorm:"index" json:"event_type"`
	Version       int         `gorm:"uniqueIndex:idx_events_aggregate_version,priority:2" json:"version"`
	SchemaVersion int         `json:"schema_version"`
	EventData     JSONMap     `gorm:"type:jsonb" json:"event_data"`
	Metadata      JSONMap     `gorm:"type:jsonb" json:"metadata"`
	Status        EventStatus `gorm:"index" json:"status"`
	UserID        string      `gorm:"index" json:"user_id,omitempty"`
	PartnerID     string      `gorm:"index" json:"partner_id,omitempty"`
	BookingID     string      `gorm:"index" json:"booking_id,omitempty"`
	TransactionID string      `gorm:"index" json:"transaction_id,omitempty"`
	Amount        *float64    `json:"amount,omitempty"`
	Currency      string      `json:"currency,omitempty"`
	CorrelationID string      `gorm:"index" json:"correlation_id,omitempty"`
	CausationID   string      `json:"causation_id,omitempty"`
	CreatedAt     time.Time   `gorm:"index" json:"created_at"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	RetryCount    int         `json:"retry_count"`
}

// TableName overrides the table name
func (Event) TableName() string {
	return "financial_events"
}

// AmountValue returns the event amount or zero when unset
func (e *Event) AmountValue() float64 {
	if e.Amount == nil {
		return 0
	}
	return *e.Amount
}
