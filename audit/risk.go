package audit

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/models"
)

// Event types appended by the audit service itself
const (
	SensitiveAccessEventType = "audit.sensitive_data_accessed"
	auditAggregateType       = "audit_log"
)

// UserAction is one event attributed to a user
type UserAction struct {
	EventID       string    `json:"event_id"`
	AggregateID   string    `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	EventType     string    `json:"event_type"`
	Amount        *float64  `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// GetUserActionAuditTrail returns everything a user did in a period,
// oldest first.
func (s *Service) GetUserActionAuditTrail(ctx context.Context, userID string, from, to *time.Time) ([]UserAction, error) {
	events, _, err := s.store.GetEventsByCriteria(ctx, eventstore.Criteria{
		UserID:   userID,
		FromDate: from,
		ToDate:   to,
	})
	if err != nil {
		return nil, err
	}

	actions := make([]UserAction, len(events))
	for i, e := range events {
		actions[i] = UserAction{
			EventID:       e.ID,
			AggregateID:   e.AggregateID,
			AggregateType: e.AggregateType,
			EventType:     e.EventType,
			Amount:        e.Amount,
			Currency:      e.Currency,
			Status:        string(e.Status),
			Timestamp:     e.CreatedAt,
		}
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].Timestamp.Before(actions[j].Timestamp)
	})
	return actions, nil
}

// RiskScore is a heuristic 0-100 grade of a user's recent activity
type RiskScore struct {
	UserID          string `json:"user_id"`
	Score           int    `json:"score"`
	Level           string `json:"level"`
	FailedEvents    int    `json:"failed_events"`
	HighValueEvents int    `json:"high_value_events"`
	BurstDetected   bool   `json:"burst_detected"`
	TotalEvents     int    `json:"total_events"`
}

// CalculateUserRiskScore scores a user from their event history: failed
// events weigh 10 each, high-value events (over 10000) weigh 5 each, and
// a burst of more than 50 events inside 24 hours adds 20. Capped at 100.
func (s *Service) CalculateUserRiskScore(ctx context.Context, userID string) (*RiskScore, error) {
	events, _, err := s.store.GetEventsByCriteria(ctx, eventstore.Criteria{UserID: userID})
	if err != nil {
		return nil, err
	}

	score := &RiskScore{
		UserID:      userID,
		TotalEvents: len(events),
	}

	times := make([]time.Time, 0, len(events))
	for _, e := range events {
		if e.Status == models.EventStatusFailed {
			score.FailedEvents++
		}
		if e.AmountValue() > 10000 {
			score.HighValueEvents++
		}
		times = append(times, e.CreatedAt)
	}

	score.BurstDetected = hasBurst(times, 50, 24*time.Hour)

	total := score.FailedEvents*10 + score.HighValueEvents*5
	if score.BurstDetected {
		total += 20
	}
	if total > 100 {
		total = 100
	}
	score.Score = total

	switch {
	case total >= 75:
		score.Level = "critical"
	case total >= 50:
		score.Level = "high"
	case total >= 25:
		score.Level = "medium"
	default:
		score.Level = "low"
	}

	return score, nil
}

// hasBurst reports whether more than threshold events fall inside any
// sliding window.
func hasBurst(times []time.Time, threshold int, window time.Duration) bool {
	if len(times) <= threshold {
		return false
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	start := 0
	for end := range times {
		for times[end].Sub(times[start]) > window {
			start++
		}
		if end-start+1 > threshold {
			return true
		}
	}
	return false
}

// AccessRecord describes one read of sensitive data
type AccessRecord struct {
	UserID      string   `json:"user_id"`
	Resource    string   `json:"resource"`
	AggregateID string   `json:"aggregate_id,omitempty"`
	Fields      []string `json:"fields,omitempty"`
	Purpose     string   `json:"purpose"`
}

// TrackSensitiveDataAccess appends an immutable access record to the
// user's audit-log aggregate. Access history is queried back through the
// normal criteria path.
func (s *Service) TrackSensitiveDataAccess(ctx context.Context, record AccessRecord) (*models.Event, error) {
	fields := make([]interface{}, len(record.Fields))
	for i, f := range record.Fields {
		fields[i] = f
	}

	event, err := s.store.StoreEvent(ctx, eventstore.StoreEventInput{
		AggregateID:   "audit:" + record.UserID,
		AggregateType: auditAggregateType,
		EventType:     SensitiveAccessEventType,
		EventData: map[string]interface{}{
			"resource":     record.Resource,
			"aggregate_id": record.AggregateID,
			"fields":       fields,
			"purpose":      record.Purpose,
		},
		UserID: record.UserID,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("userID", record.UserID).
		Str("resource", record.Resource).
		Msg("Sensitive data access recorded")

	return event, nil
}

// GetSensitiveAccessLog returns a user's sensitive-data access history
func (s *Service) GetSensitiveAccessLog(ctx context.Context, userID string, from, to *time.Time) ([]models.Event, error) {
	events, _, err := s.store.GetEventsByCriteria(ctx, eventstore.Criteria{
		EventTypes:   []string{SensitiveAccessEventType},
		AggregateIDs: []string{"audit:" + userID},
		FromDate:     from,
		ToDate:       to,
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}
