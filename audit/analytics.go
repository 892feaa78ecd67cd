package audit

import (
	"context"
	"sort"
	"time"

	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/utils"
)

// FinancialAnalytics is a roll-up of event volume and recorded amounts
// over a period.
type FinancialAnalytics struct {
	PeriodStart      *time.Time         `json:"period_start,omitempty"`
	PeriodEnd        *time.Time         `json:"period_end,omitempty"`
	TotalEvents      int                `json:"total_events"`
	TotalAmount      float64            `json:"total_amount"`
	AmountByCurrency map[string]float64 `json:"amount_by_currency"`
	EventsByType     map[string]int     `json:"events_by_type"`
	DailyBreakdown   []DailyBucket      `json:"daily_breakdown"`
}

// DailyBucket aggregates one calendar day (UTC)
type DailyBucket struct {
	Date   string  `json:"date"`
	Events int     `json:"events"`
	Amount float64 `json:"amount"`
}

// GetFinancialAnalytics rolls up events in the period. Amounts are summed
// as recorded; events without an amount only count toward volume.
func (s *Service) GetFinancialAnalytics(ctx context.Context, from, to *time.Time) (*FinancialAnalytics, error) {
	events, _, err := s.store.GetEventsByCriteria(ctx, eventstore.Criteria{
		FromDate: from,
		ToDate:   to,
	})
	if err != nil {
		return nil, err
	}

	analytics := &FinancialAnalytics{
		PeriodStart:      from,
		PeriodEnd:        to,
		TotalEvents:      len(events),
		AmountByCurrency: make(map[string]float64),
		EventsByType:     make(map[string]int),
	}

	daily := make(map[string]*DailyBucket)
	for i := range events {
		event := &events[i]
		analytics.EventsByType[event.EventType]++

		day := event.CreatedAt.UTC().Format("2006-01-02")
		bucket, ok := daily[day]
		if !ok {
			bucket = &DailyBucket{Date: day}
			daily[day] = bucket
		}
		bucket.Events++

		if event.Amount != nil {
			analytics.TotalAmount += *event.Amount
			bucket.Amount += *event.Amount
			if event.Currency != "" {
				analytics.AmountByCurrency[event.Currency] += *event.Amount
			}
		}
	}

	analytics.TotalAmount = utils.RoundAmount(analytics.TotalAmount)
	for currency, amount := range analytics.AmountByCurrency {
		analytics.AmountByCurrency[currency] = utils.RoundAmount(amount)
	}

	analytics.DailyBreakdown = make([]DailyBucket, 0, len(daily))
	for _, bucket := range daily {
		bucket.Amount = utils.RoundAmount(bucket.Amount)
		analytics.DailyBreakdown = append(analytics.DailyBreakdown, *bucket)
	}
	sort.Slice(analytics.DailyBreakdown, func(i, j int) bool {
		return analytics.DailyBreakdown[i].Date < analytics.DailyBreakdown[j].Date
	})

	return analytics, nil
}
