package dispatch

import (
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/models"
)

// Priority grades dead-lettered events for operator triage
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// moneyCriticalTypes are events whose loss means money moved without a
// ledger side effect.
var moneyCriticalTypes = map[string]bool{
	domain.PaymentCompleted: true,
	domain.WalletCredited:   true,
	domain.WalletDebited:    true,
	domain.RefundCompleted:  true,
}

// classifyPriority derives an entry's priority from the event type and
// the failure kind.
func classifyPriority(event *models.Event, validationFailure bool) Priority {
	if moneyCriticalTypes[event.EventType] {
		return PriorityCritical
	}
	if strings.HasPrefix(event.EventType, "payment.") || strings.HasPrefix(event.EventType, "commission.") {
		return PriorityHigh
	}
	if validationFailure {
		return PriorityMedium
	}
	return PriorityLow
}

// DeadLetterEntry is one permanently failed event awaiting operator action
type DeadLetterEntry struct {
	Event         *models.Event `json:"event"`
	Priority      Priority      `json:"priority"`
	Reason        string        `json:"reason"`
	Attempts      int           `json:"attempts"`
	FirstFailedAt time.Time     `json:"first_failed_at"`
	LastFailedAt  time.Time     `json:"last_failed_at"`
}

// DeadLetterQueue holds permanently failed events, keyed by event id.
// Entries survive until an operator retry succeeds or removes them.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries map[string]*DeadLetterEntry
}

// NewDeadLetterQueue creates an empty queue
func NewDeadLetterQueue() *DeadLetterQueue {
	return &DeadLetterQueue{entries: make(map[string]*DeadLetterEntry)}
}

// Add records a failed event. Re-adding the same event keeps the first
// failure time and accumulates attempts.
func (q *DeadLetterQueue) Add(event *models.Event, reason string, attempts int, validationFailure bool) *DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := q.entries[event.ID]; ok {
		existing.Reason = reason
		existing.Attempts += attempts
		existing.LastFailedAt = now
		return existing
	}

	entry := &DeadLetterEntry{
		Event:         event,
		Priority:      classifyPriority(event, validationFailure),
		Reason:        reason,
		Attempts:      attempts,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	q.entries[event.ID] = entry
	return entry
}

// Get returns the entry for an event id
func (q *DeadLetterQueue) Get(eventID string) (*DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[eventID]
	return entry, ok
}

// Remove drops an entry, typically after a successful retry
func (q *DeadLetterQueue) Remove(eventID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, eventID)
}

// List returns entries ordered by priority then first failure time.
// An empty priority returns everything.
func (q *DeadLetterQueue) List(priority Priority) []*DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*DeadLetterEntry
	for _, entry := range q.entries {
		if priority != "" && entry.Priority != priority {
			continue
		}
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool {
		if priorityRank[out[i].Priority] != priorityRank[out[j].Priority] {
			return priorityRank[out[i].Priority] < priorityRank[out[j].Priority]
		}
		return out[i].FirstFailedAt.Before(out[j].FirstFailedAt)
	})
	return out
}

// Size returns the number of entries
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
