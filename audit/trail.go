package audit

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/models"
	"example.com/backoffice/services/ledger/utils"
)

// Service answers audit and compliance questions from the event history.
// It is read-only over the store except for sensitive-access tracking,
// which appends audit events of its own.
type Service struct {
	store   eventstore.Store
	reducer *domain.Reducer
}

// NewService creates an audit service over the given store
func NewService(store eventstore.Store) *Service {
	return &Service{
		store:   store,
		reducer: domain.NewReducer(),
	}
}

// Entry is one step in a basic audit trail
type Entry struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Version   int            `json:"version"`
	UserID    string         `json:"user_id,omitempty"`
	Amount    *float64       `json:"amount,omitempty"`
	Currency  string         `json:"currency,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      models.JSONMap `json:"data"`
}

// TrailFilter narrows an audit trail. Zero value means no filtering.
// Severity and Tag only apply to the enhanced trail, where those
// attributes are derived.
type TrailFilter struct {
	UserID        string
	EventTypes    []string
	CorrelationID string
	From          *time.Time
	To            *time.Time
	Severity      string
	Tag           string
}

func (f TrailFilter) matchesEvent(event *models.Event) bool {
	if f.UserID != "" && event.UserID != f.UserID {
		return false
	}
	if f.CorrelationID != "" && event.CorrelationID != f.CorrelationID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if event.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && event.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && event.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// GetAuditTrail returns the aggregate's event history as a flat trail,
// narrowed by the filter. A known aggregate whose events all fall
// outside the filter yields an empty trail, not an error.
func (s *Service) GetAuditTrail(ctx context.Context, aggregateID string, filter TrailFilter) ([]Entry, error) {
	events, err := s.store.GetEventsForAggregate(ctx, aggregateID, eventstore.EventFilter{
		EventTypes: filter.EventTypes,
		FromTime:   filter.From,
		ToTime:     filter.To,
	})
	if err != nil {
		return nil, err
	}

	trail := make([]Entry, 0, len(events))
	for _, e := range events {
		if !filter.matchesEvent(&e) {
			continue
		}
		trail = append(trail, Entry{
			EventID:   e.ID,
			EventType: e.EventType,
			Version:   e.Version,
			UserID:    e.UserID,
			Amount:    e.Amount,
			Currency:  e.Currency,
			Timestamp: e.CreatedAt,
			Data:      e.EventData,
		})
	}

	if len(trail) == 0 {
		if _, err := s.store.GetAggregateState(ctx, aggregateID); err != nil {
			return nil, err
		}
	}
	return trail, nil
}

// ChangeType classifies what an event did to a state field
type ChangeType string

const (
	ChangeCreate  ChangeType = "create"
	ChangeUpdate  ChangeType = "update"
	ChangeDelete  ChangeType = "delete"
	ChangeRestore ChangeType = "restore"
)

// ImpactLevel grades how consequential an event was
type ImpactLevel string

const (
	ImpactMinor    ImpactLevel = "minor"
	ImpactModerate ImpactLevel = "moderate"
	ImpactMajor    ImpactLevel = "major"
	ImpactCritical ImpactLevel = "critical"
)

// FieldChange is one state field touched by an event
type FieldChange struct {
	Field    string      `json:"field"`
	Change   ChangeType  `json:"change"`
	Previous interface{} `json:"previous,omitempty"`
	Current  interface{} `json:"current,omitempty"`
}

// EnhancedEntry is one step in an enhanced audit trail, with the state
// delta the event caused.
type EnhancedEntry struct {
	Entry
	ChangedFields []FieldChange `json:"changed_fields"`
	Impact        ImpactLevel   `json:"impact"`
	Severity      string        `json:"severity"`
	Tags          []string      `json:"tags"`
	Source        string        `json:"source"`
	Summary       string        `json:"summary"`
}

// ActorActivity counts one actor's events in a trail
type ActorActivity struct {
	UserID string `json:"user_id"`
	Events int    `json:"events"`
}

// TrailSummary rolls an enhanced trail up for reviewers
type TrailSummary struct {
	TotalEvents    int             `json:"total_events"`
	ByType         map[string]int  `json:"by_type"`
	ByStatus       map[string]int  `json:"by_status"`
	BySeverity     map[string]int  `json:"by_severity"`
	UniqueActors   int             `json:"unique_actors"`
	TopActors      []ActorActivity `json:"top_actors"`
	Failures       int             `json:"failures"`
	FailureReasons []string        `json:"failure_reasons,omitempty"`
	FirstEvent     *time.Time      `json:"first_event,omitempty"`
	LastEvent      *time.Time      `json:"last_event,omitempty"`
}

// EnhancedTrail pairs the annotated entries with their roll-up
type EnhancedTrail struct {
	Entries []EnhancedEntry `json:"entries"`
	Summary TrailSummary    `json:"summary"`
}

// GetEnhancedAuditTrail replays the aggregate and annotates each event
// with the exact state fields it changed, an impact grade and derived
// classification tags. The full history is always replayed so deltas
// stay correct; the filter decides which entries the trail includes.
func (s *Service) GetEnhancedAuditTrail(ctx context.Context, aggregateID string, filter TrailFilter) (*EnhancedTrail, error) {
	events, err := s.store.GetEventsForAggregate(ctx, aggregateID, eventstore.EventFilter{})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, eventstore.ErrAggregateNotFound
	}

	trail := &EnhancedTrail{Entries: make([]EnhancedEntry, 0, len(events))}
	state := models.JSONMap{}
	statuses := make(map[string]int)

	for i := range events {
		event := &events[i]
		next := s.reducer.Apply(state, event)
		changes := diffStates(state, next)
		state = next

		entry := EnhancedEntry{
			Entry: Entry{
				EventID:   event.ID,
				EventType: event.EventType,
				Version:   event.Version,
				UserID:    event.UserID,
				Amount:    event.Amount,
				Currency:  event.Currency,
				Timestamp: event.CreatedAt,
				Data:      event.EventData,
			},
			ChangedFields: changes,
			Impact:        classifyImpact(event, next),
			Severity:      deriveSeverity(event),
			Tags:          deriveTags(event),
			Source:        deriveSource(event),
			Summary:       summarize(event, changes),
		}

		if !filter.matchesEvent(event) {
			continue
		}
		if filter.Severity != "" && entry.Severity != filter.Severity {
			continue
		}
		if filter.Tag != "" && !containsString(entry.Tags, filter.Tag) {
			continue
		}
		trail.Entries = append(trail.Entries, entry)
		statuses[string(event.Status)]++
	}

	trail.Summary = buildTrailSummary(trail.Entries, statuses)
	return trail, nil
}

func buildTrailSummary(entries []EnhancedEntry, statuses map[string]int) TrailSummary {
	summary := TrailSummary{
		TotalEvents: len(entries),
		ByType:      make(map[string]int),
		ByStatus:    statuses,
		BySeverity:  make(map[string]int),
	}

	actors := make(map[string]int)
	for i := range entries {
		e := &entries[i]
		summary.ByType[e.EventType]++
		summary.BySeverity[e.Severity]++
		if e.UserID != "" {
			actors[e.UserID]++
		}
		if containsString(e.Tags, "failure") {
			summary.Failures++
			if reason := utils.GetStringValue(e.Data, "reason"); reason != "" {
				summary.FailureReasons = append(summary.FailureReasons, reason)
			}
		}
		ts := e.Timestamp
		if summary.FirstEvent == nil || ts.Before(*summary.FirstEvent) {
			summary.FirstEvent = &ts
		}
		if summary.LastEvent == nil || ts.After(*summary.LastEvent) {
			summary.LastEvent = &ts
		}
	}

	summary.UniqueActors = len(actors)
	for userID, count := range actors {
		summary.TopActors = append(summary.TopActors, ActorActivity{UserID: userID, Events: count})
	}
	sort.Slice(summary.TopActors, func(i, j int) bool {
		if summary.TopActors[i].Events != summary.TopActors[j].Events {
			return summary.TopActors[i].Events > summary.TopActors[j].Events
		}
		return summary.TopActors[i].UserID < summary.TopActors[j].UserID
	})
	if len(summary.TopActors) > 5 {
		summary.TopActors = summary.TopActors[:5]
	}
	return summary
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func diffStates(previous, next models.JSONMap) []FieldChange {
	keys := make(map[string]struct{}, len(previous)+len(next))
	for k := range previous {
		keys[k] = struct{}{}
	}
	for k := range next {
		keys[k] = struct{}{}
	}

	var changes []FieldChange
	for k := range keys {
		// Bookkeeping keys change on every event and drown the signal.
		if k == "lastUpdated" || k == "version" {
			continue
		}

		pv, inPrev := previous[k]
		nv, inNext := next[k]
		switch {
		case !inPrev && inNext:
			changes = append(changes, FieldChange{Field: k, Change: ChangeCreate, Current: nv})
		case inPrev && !inNext:
			changes = append(changes, FieldChange{Field: k, Change: ChangeDelete, Previous: pv})
		case !reflect.DeepEqual(pv, nv):
			change := ChangeUpdate
			if pv == nil && nv != nil {
				change = ChangeRestore
			}
			changes = append(changes, FieldChange{Field: k, Change: change, Previous: pv, Current: nv})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}

func classifyImpact(event *models.Event, next models.JSONMap) ImpactLevel {
	switch event.EventType {
	case domain.PaymentFailed, domain.RefundFailed:
		return ImpactCritical
	}
	if status, _ := next["paymentStatus"].(string); status == "failed" {
		return ImpactCritical
	}
	if event.AmountValue() > 10000 {
		return ImpactMajor
	}
	if domain.IsMoneyMovement(event.EventType) {
		return ImpactModerate
	}
	return ImpactMinor
}

func deriveSeverity(event *models.Event) string {
	switch event.EventType {
	case domain.PaymentFailed, domain.RefundFailed:
		return "error"
	case domain.WalletDebited, domain.CommissionReversed:
		return "warning"
	}
	return "info"
}

func deriveTags(event *models.Event) []string {
	tags := []string{event.AggregateType}
	if domain.IsMoneyMovement(event.EventType) {
		tags = append(tags, "money-movement")
	}
	if event.AmountValue() > 10000 {
		tags = append(tags, "high-value")
	}
	switch event.EventType {
	case domain.PaymentFailed, domain.RefundFailed:
		tags = append(tags, "failure")
	}
	return tags
}

func deriveSource(event *models.Event) string {
	if source := utils.GetStringValue(event.Metadata, "source"); source != "" {
		return source
	}
	if event.UserID != "" {
		return "user"
	}
	return "system"
}

func summarize(event *models.Event, changes []FieldChange) string {
	if event.Amount != nil {
		return fmt.Sprintf("%s of %.2f %s changed %d field(s)",
			event.EventType, *event.Amount, event.Currency, len(changes))
	}
	return fmt.Sprintf("%s changed %d field(s)", event.EventType, len(changes))
}
