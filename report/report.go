// Package report aggregates responses and answers into summary or
// detailed payloads, and manages delivery plus recurring schedules.
package report

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/formify/formify/fault"
	"github.com/formify/formify/model"
	"github.com/formify/formify/schema"
)

// trendWindow is the trailing period covered by the per-day response
// buckets in a summary.
const trendWindow = 30 * 24 * time.Hour

// topValueLimit caps the distinct-value frequency list per field.
const topValueLimit = 10

type Service struct {
	db *sql.DB
	// channel delivers rendered reports; defaultRecipient is the
	// system fallback address when the report owner has no contact.
	channel          DeliveryChannel
	defaultRecipient string
	nowFn            func() time.Time
}

func NewService(db *sql.DB, channel DeliveryChannel, defaultRecipient string) *Service {
	return &Service{db: db, channel: channel, defaultRecipient: defaultRecipient, nowFn: time.Now}
}

type FormInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Totals struct {
	Responses      int        `json:"responses"`
	Viewers        int        `json:"viewers"`
	LastResponseAt *time.Time `json:"last_response_at"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// FieldStats aggregates one field's answers. Numeric stats are present
// when at least one answer parses as a number; TopValues covers the
// non-numeric rest.
type FieldStats struct {
	Count     int          `json:"count,omitempty"`
	Min       *float64     `json:"min,omitempty"`
	Max       *float64     `json:"max,omitempty"`
	Mean      *float64     `json:"mean,omitempty"`
	Median    *float64     `json:"median,omitempty"`
	TopValues []ValueCount `json:"top_values,omitempty"`
}

type SummaryPayload struct {
	Form            FormInfo              `json:"form"`
	Totals          Totals                `json:"totals"`
	ResponsesPerDay []DayCount            `json:"responses_per_day"`
	Fields          map[string]FieldStats `json:"fields"`
}

type DetailedPayload struct {
	Form      FormInfo         `json:"form"`
	Responses []model.Response `json:"responses"`
}

// BuildSummary computes response/view totals, the 30-day response
// trend, and per-field aggregates for a form.
func (s *Service) BuildSummary(ctx context.Context, formID string) (*SummaryPayload, error) {
	info, err := s.formInfo(ctx, formID)
	if err != nil {
		return nil, err
	}
	now := s.nowFn().UTC()

	payload := &SummaryPayload{Form: info, Fields: map[string]FieldStats{}}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM response WHERE form_id = ?`, formID,
	).Scan(&payload.Totals.Responses)
	if err != nil {
		return nil, errors.Wrap(err, "report.summary.totals")
	}

	var last time.Time
	err = s.db.QueryRowContext(ctx, `
		SELECT submitted_at FROM response
		WHERE form_id = ?
		ORDER BY submitted_at DESC LIMIT 1`,
		formID,
	).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// no responses yet
	case err != nil:
		return nil, errors.Wrap(err, "report.summary.last_response")
	default:
		payload.Totals.LastResponseAt = &last
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM form_view WHERE form_id = ?`, formID,
	).Scan(&payload.Totals.Viewers)
	if err != nil {
		return nil, errors.Wrap(err, "report.summary.views")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT date(submitted_at), COUNT(*)
		FROM response
		WHERE form_id = ? AND submitted_at >= ?
		GROUP BY date(submitted_at)
		ORDER BY date(submitted_at)`,
		formID, now.Add(-trendWindow),
	)
	if err != nil {
		return nil, errors.Wrap(err, "report.summary.trend")
	}
	defer rows.Close()

	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, errors.Wrap(err, "report.summary.trend.scan")
		}
		payload.ResponsesPerDay = append(payload.ResponsesPerDay, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fieldStats, err := s.aggregateFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	payload.Fields = fieldStats

	return payload, nil
}

// BuildDetailed returns the form's responses newest-first, each with
// its answers (field label + value) and the submitter identity when
// available.
func (s *Service) BuildDetailed(ctx context.Context, formID string) (*DetailedPayload, error) {
	info, err := s.formInfo(ctx, formID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submitted_by, ip_address, user_agent, submitted_at
		FROM response
		WHERE form_id = ?
		ORDER BY submitted_at DESC, id`,
		formID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "report.detailed.responses")
	}
	defer rows.Close()

	payload := &DetailedPayload{Form: info, Responses: []model.Response{}}
	for rows.Next() {
		r := model.Response{FormID: formID}
		err := rows.Scan(&r.ID, &r.SubmittedBy, &r.IPAddress, &r.UserAgent, &r.SubmittedAt)
		if err != nil {
			return nil, errors.Wrap(err, "report.detailed.responses.scan")
		}
		payload.Responses = append(payload.Responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range payload.Responses {
		answers, err := s.responseAnswers(ctx, payload.Responses[i].ID)
		if err != nil {
			return nil, err
		}
		payload.Responses[i].Answers = answers
	}

	return payload, nil
}

// Preview computes the payload for the report's type without
// delivering it.
func (s *Service) Preview(ctx context.Context, report *model.Report) (any, error) {
	switch report.Type {
	case model.ReportSummary:
		return s.BuildSummary(ctx, report.FormID)
	case model.ReportDetailed:
		return s.BuildDetailed(ctx, report.FormID)
	default:
		return nil, fault.New(fault.Validation, "unknown report type %q", report.Type)
	}
}

func (s *Service) formInfo(ctx context.Context, formID string) (FormInfo, error) {
	info := FormInfo{ID: formID}
	err := s.db.QueryRowContext(ctx,
		`SELECT title FROM form WHERE id = ?`, formID,
	).Scan(&info.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return info, fault.New(fault.NotFound, "no such form %s", formID)
	}
	return info, errors.Wrap(err, "report.get_form")
}

func (s *Service) responseAnswers(ctx context.Context, responseID string) ([]model.Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.field_id, f.label, a.value
		FROM answer a
		JOIN form_field f ON (f.id = a.field_id)
		WHERE a.response_id = ?
		ORDER BY f.position`,
		responseID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "report.get_answers")
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		a := model.Answer{ResponseID: responseID}
		if err := rows.Scan(&a.ID, &a.FieldID, &a.FieldLabel, &a.Value); err != nil {
			return nil, errors.Wrap(err, "report.get_answers.scan")
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// aggregateFields walks every answer for the form, splitting each
// field's values into numerics and text. Checkbox answers are decoded
// and each checked choice counts separately.
func (s *Service) aggregateFields(ctx context.Context, formID string) (map[string]FieldStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.field_id, f.type, a.value
		FROM answer a
		JOIN form_field f ON (f.id = a.field_id)
		JOIN response r ON (r.id = a.response_id)
		WHERE r.form_id = ?`,
		formID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "report.aggregate")
	}
	defer rows.Close()

	numeric := map[string][]float64{}
	text := map[string]map[string]int{}

	for rows.Next() {
		var fieldID, fieldType, value string
		if err := rows.Scan(&fieldID, &fieldType, &value); err != nil {
			return nil, errors.Wrap(err, "report.aggregate.scan")
		}

		values := []string{value}
		if fieldType == model.FieldCheckbox {
			values = schema.DecodeChecked(value)
		}

		for _, v := range values {
			if v == "" {
				continue
			}
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				numeric[fieldID] = append(numeric[fieldID], n)
				continue
			}
			if text[fieldID] == nil {
				text[fieldID] = map[string]int{}
			}
			text[fieldID][v]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := map[string]FieldStats{}
	for fieldID, vals := range numeric {
		fs := stats[fieldID]
		fs.Count = len(vals)
		fs.Min = ptr(minOf(vals))
		fs.Max = ptr(maxOf(vals))
		fs.Mean = ptr(meanOf(vals))
		fs.Median = ptr(medianOf(vals))
		stats[fieldID] = fs
	}
	for fieldID, counts := range text {
		fs := stats[fieldID]
		fs.TopValues = topValues(counts, topValueLimit)
		stats[fieldID] = fs
	}
	return stats, nil
}

// topValues orders by frequency, breaking ties by value so repeated
// previews are byte-identical.
func topValues(counts map[string]int, limit int) []ValueCount {
	values := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		values = append(values, ValueCount{Value: v, Count: c})
	}
	sort.Slice(values, func(i, j int) bool {
		if values[i].Count != values[j].Count {
			return values[i].Count > values[j].Count
		}
		return values[i].Value < values[j].Value
	})
	if len(values) > limit {
		values = values[:limit]
	}
	return values
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func meanOf(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func medianOf(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func ptr(v float64) *float64 { return &v }
