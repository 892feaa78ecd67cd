package audit

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/models"
)

// Standard names a compliance regime
type Standard string

const (
	StandardSOX     Standard = "SOX"
	StandardPCI     Standard = "PCI-DSS"
	StandardGDPR    Standard = "GDPR"
	StandardDefault Standard = "GENERAL"
)

// Retention windows per standard, in years
func retentionYears(standard Standard) int {
	switch standard {
	case StandardSOX:
		return 7
	case StandardPCI:
		return 1
	case StandardGDPR:
		return 6
	}
	return 5
}

// Finding is one compliance issue surfaced by an analyzer
type Finding struct {
	Rule        string   `json:"rule"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
	EventIDs    []string `json:"event_ids,omitempty"`
}

// RetentionStatus reports whether the history satisfies the standard's
// retention window.
type RetentionStatus struct {
	RequiredYears int        `json:"required_years"`
	OldestEvent   *time.Time `json:"oldest_event,omitempty"`
	CoveredYears  float64    `json:"covered_years"`
	Compliant     bool       `json:"compliant"`
}

// ComplianceReport is the outcome of a compliance audit over a period
type ComplianceReport struct {
	Standard        Standard        `json:"standard"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
	TotalEvents     int             `json:"total_events"`
	Findings        []Finding       `json:"findings"`
	IntegrityScore  int             `json:"integrity_score"`
	Retention       RetentionStatus `json:"retention"`
	Recommendations []string        `json:"recommendations"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// ReportOptions selects the standard and period for a compliance audit
type ReportOptions struct {
	Standard    Standard
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// cardNumberPattern matches 13-16 digit runs with optional separators,
// the shape of a primary account number.
var cardNumberPattern = regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`)

// GenerateComplianceAuditReport scans the period's events through the
// standard's analyzers and scores history integrity and retention.
func (s *Service) GenerateComplianceAuditReport(ctx context.Context, opts ReportOptions) (*ComplianceReport, error) {
	if opts.Standard == "" {
		opts.Standard = StandardDefault
	}
	if opts.PeriodEnd.IsZero() {
		opts.PeriodEnd = time.Now().UTC()
	}
	if opts.PeriodStart.IsZero() {
		opts.PeriodStart = opts.PeriodEnd.AddDate(-1, 0, 0)
	}

	events, _, err := s.store.GetEventsByCriteria(ctx, eventstore.Criteria{
		FromDate: &opts.PeriodStart,
		ToDate:   &opts.PeriodEnd,
	})
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		Standard:    opts.Standard,
		PeriodStart: opts.PeriodStart,
		PeriodEnd:   opts.PeriodEnd,
		TotalEvents: len(events),
		Findings:    []Finding{},
		GeneratedAt: time.Now().UTC(),
	}

	switch opts.Standard {
	case StandardSOX:
		report.Findings = append(report.Findings, analyzeSegregationOfDuties(events)...)
	case StandardPCI:
		report.Findings = append(report.Findings, analyzeCardDataExposure(events)...)
	case StandardGDPR:
		report.Findings = append(report.Findings, analyzeDataRetentionAge(events, retentionYears(StandardGDPR))...)
	default:
		report.Findings = append(report.Findings, analyzeSegregationOfDuties(events)...)
		report.Findings = append(report.Findings, analyzeCardDataExposure(events)...)
	}

	integrity, err := s.scoreIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	report.IntegrityScore = integrity

	stats, err := s.store.GetStatistics(ctx)
	if err != nil {
		return nil, err
	}
	report.Retention = scoreRetention(opts.Standard, stats.OldestEvent)

	report.Recommendations = recommend(report)

	log.Info().
		Str("standard", string(opts.Standard)).
		Int("events", report.TotalEvents).
		Int("findings", len(report.Findings)).
		Int("integrityScore", report.IntegrityScore).
		Msg("Compliance report generated")

	return report, nil
}

// analyzeSegregationOfDuties flags payments where the same user both
// initiated and completed the payment.
func analyzeSegregationOfDuties(events []models.Event) []Finding {
	initiators := make(map[string]string)
	for _, e := range events {
		if e.EventType == domain.PaymentInitiated && e.UserID != "" {
			initiators[e.AggregateID] = e.UserID
		}
	}

	var findings []Finding
	for _, e := range events {
		if e.EventType != domain.PaymentCompleted || e.UserID == "" {
			continue
		}
		if initiators[e.AggregateID] == e.UserID {
			findings = append(findings, Finding{
				Rule:     "segregation_of_duties",
				Severity: "high",
				Description: fmt.Sprintf("user %s both initiated and completed payment %s",
					e.UserID, e.AggregateID),
				EventIDs: []string{e.ID},
			})
		}
	}
	return findings
}

// analyzeCardDataExposure scans event data for raw card-number shapes
func analyzeCardDataExposure(events []models.Event) []Finding {
	var findings []Finding
	for _, e := range events {
		for field, value := range e.EventData {
			str, ok := value.(string)
			if !ok {
				continue
			}
			if cardNumberPattern.MatchString(str) {
				findings = append(findings, Finding{
					Rule:     "card_data_exposure",
					Severity: "critical",
					Description: fmt.Sprintf("field %q in event %s looks like a raw card number",
						field, e.ID),
					EventIDs: []string{e.ID},
				})
			}
		}
	}
	return findings
}

// analyzeDataRetentionAge flags user-linked events older than the
// retention window.
func analyzeDataRetentionAge(events []models.Event, maxYears int) []Finding {
	cutoff := time.Now().UTC().AddDate(-maxYears, 0, 0)

	stale := make(map[string][]string)
	for _, e := range events {
		if e.UserID == "" || !e.CreatedAt.Before(cutoff) {
			continue
		}
		stale[e.UserID] = append(stale[e.UserID], e.ID)
	}

	users := make([]string, 0, len(stale))
	for u := range stale {
		users = append(users, u)
	}
	sort.Strings(users)

	var findings []Finding
	for _, u := range users {
		findings = append(findings, Finding{
			Rule:     "personal_data_retention",
			Severity: "medium",
			Description: fmt.Sprintf("user %s has %d event(s) older than %d years still holding personal data",
				u, len(stale[u]), maxYears),
			EventIDs: stale[u],
		})
	}
	return findings
}

// scoreIntegrity checks every aggregate's version sequence for gaps.
// Each gap costs 5 points off a perfect 100.
func (s *Service) scoreIntegrity(ctx context.Context) (int, error) {
	ids, err := s.store.ListAggregateIDs(ctx, "")
	if err != nil {
		return 0, err
	}

	score := 100
	for _, id := range ids {
		events, err := s.store.GetEventsForAggregate(ctx, id, eventstore.EventFilter{})
		if err != nil {
			return 0, err
		}
		for i := range events {
			if events[i].Version != i+1 {
				score -= 5
				break
			}
		}
	}
	if score < 0 {
		score = 0
	}
	return score, nil
}

func scoreRetention(standard Standard, oldest *time.Time) RetentionStatus {
	status := RetentionStatus{RequiredYears: retentionYears(standard)}
	if oldest == nil {
		// Nothing stored yet means nothing has been lost.
		status.Compliant = true
		return status
	}
	status.OldestEvent = oldest
	status.CoveredYears = time.Since(*oldest).Hours() / (24 * 365)
	status.Compliant = status.CoveredYears <= float64(status.RequiredYears)
	return status
}

func recommend(report *ComplianceReport) []string {
	var recs []string
	for _, f := range report.Findings {
		switch f.Rule {
		case "segregation_of_duties":
			recs = appendOnce(recs, "enforce separate approvers for payment initiation and completion")
		case "card_data_exposure":
			recs = appendOnce(recs, "tokenize card numbers before events reach the store")
		case "personal_data_retention":
			recs = appendOnce(recs, "schedule anonymization of personal data past the retention window")
		}
	}
	if report.IntegrityScore < 100 {
		recs = appendOnce(recs, "investigate aggregates with version gaps; history may be incomplete")
	}
	if !report.Retention.Compliant {
		recs = appendOnce(recs, "archive events exceeding the retention window to cold storage")
	}
	if len(recs) == 0 {
		recs = append(recs, "no action required")
	}
	return recs
}

func appendOnce(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
