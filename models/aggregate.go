package models

import (
	"time"
)

// AggregateStatus is the lifecycle status of an aggregate
type AggregateStatus string

const (
	AggregateStatusActive   AggregateStatus = "active"
	AggregateStatusInactive AggregateStatus = "inactive"
	AggregateStatusArchived AggregateStatus = "archived"
)

// Aggregate is the materialized view of one financial entity, derived from
// its event history. CurrentState is always reproducible by folding the
// aggregate's events through the reducer in version order.
type Aggregate struct {
	ID               string          `gorm:"primaryKey" json:"id"`
	AggregateType    string          `gorm:"index" json:"aggregate_type"`
	CurrentState     JSONMap         `gorm:"type:jsonb" json:"current_state"`
	LastEventVersion int             `json:"last_event_version"`
	Status           AggregateStatus `gorm:"index" json:"status"`
	UserID           string          `gorm:"index" json:"user_id,omitempty"`
	PartnerID        string          `gorm:"index" json:"partner_id,omitempty"`
	BookingID        string          `json:"booking_id,omitempty"`
	Metadata         JSONMap         `gorm:"type:jsonb" json:"metadata"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName overrides the table name
func (Aggregate) TableName() string {
	return "financial_aggregates"
}
