package report

import (
	"context"
	"database/sql"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/formify/formify/database"
	"github.com/formify/formify/fault"
	"github.com/formify/formify/log"
	"github.com/formify/formify/model"
)

// reportRow is a report plus the join columns delivery needs.
type reportRow struct {
	model.Report
	FormTitle  string
	OwnerEmail string
}

// NextRunAfter computes when a scheduled report fires next. Manual
// reports never fire on their own.
func NextRunAfter(scheduleType string, now time.Time) *time.Time {
	var next time.Time
	switch scheduleType {
	case model.ScheduleWeekly:
		next = now.Add(7 * 24 * time.Hour)
	case model.ScheduleMonthly:
		next = now.Add(30 * 24 * time.Hour)
	default:
		return nil
	}
	return &next
}

// Create saves a report definition for a form the owner controls and
// computes its initial next_run from the schedule type. A report is
// unique per (form, type, owner).
func (s *Service) Create(ctx context.Context, ownerID int64, r model.Report) (*model.Report, error) {
	if r.Type != model.ReportSummary && r.Type != model.ReportDetailed {
		return nil, fault.New(fault.Validation, "unknown report type %q", r.Type)
	}
	switch r.ScheduleType {
	case "":
		r.ScheduleType = model.ScheduleManual
	case model.ScheduleManual, model.ScheduleWeekly, model.ScheduleMonthly:
	default:
		return nil, fault.New(fault.Validation, "unknown schedule type %q", r.ScheduleType)
	}
	switch r.Delivery {
	case "":
		r.Delivery = model.DeliveryEmail
	case model.DeliveryEmail:
	default:
		return nil, fault.New(fault.Validation, "unknown delivery method %q", r.Delivery)
	}

	var owned bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM form WHERE id = ? AND created_by = ?)`,
		r.FormID, ownerID,
	).Scan(&owned)
	if err != nil {
		return nil, errors.Wrap(err, "report.create.get_form")
	}
	if !owned {
		return nil, fault.New(fault.NotFound, "no such form %s", r.FormID)
	}

	r.CreatedBy = ownerID
	r.CreatedAt = s.nowFn().UTC()
	r.IsActive = true
	r.NextRun = NextRunAfter(r.ScheduleType, r.CreatedAt)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO report (form_id, type, schedule_type, delivery, next_run, created_by, created_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.FormID, r.Type, r.ScheduleType, r.Delivery, r.NextRun, r.CreatedBy, r.CreatedAt, r.IsActive,
	)
	if isConstraint(err) {
		return nil, fault.New(fault.Conflict, "a %s report for this form already exists", r.Type)
	}
	if err != nil {
		return nil, errors.Wrap(err, "report.create.insert")
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Get loads one of the owner's reports.
func (s *Service) Get(ctx context.Context, ownerID, reportID int64) (*model.Report, error) {
	r := model.Report{ID: reportID}
	err := s.db.QueryRowContext(ctx, `
		SELECT form_id, type, schedule_type, delivery, next_run, created_by, created_at, is_active
		FROM report WHERE id = ? AND created_by = ?`,
		reportID, ownerID,
	).Scan(&r.FormID, &r.Type, &r.ScheduleType, &r.Delivery, &r.NextRun, &r.CreatedBy, &r.CreatedAt, &r.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "no such report %d", reportID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "report.get")
	}
	return &r, nil
}

// List returns the owner's report definitions, newest first.
func (s *Service) List(ctx context.Context, ownerID int64) ([]model.Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, type, schedule_type, delivery, next_run, created_by, created_at, is_active
		FROM report WHERE created_by = ?
		ORDER BY created_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "report.list")
	}
	defer rows.Close()

	reports := []model.Report{}
	for rows.Next() {
		var r model.Report
		err := rows.Scan(&r.ID, &r.FormID, &r.Type, &r.ScheduleType, &r.Delivery,
			&r.NextRun, &r.CreatedBy, &r.CreatedAt, &r.IsActive)
		if err != nil {
			return nil, errors.Wrap(err, "report.list.scan")
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// SetActive toggles a report. Deactivating stops scheduling; the
// next_run value is left in place so reactivation resumes it.
func (s *Service) SetActive(ctx context.Context, ownerID, reportID int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE report SET is_active = ? WHERE id = ? AND created_by = ?`,
		active, reportID, ownerID,
	)
	if err != nil {
		return errors.Wrap(err, "report.set_active")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.NotFound, "no such report %d", reportID)
	}
	return nil
}

// Run computes the report payload, delivers it, and advances next_run
// for weekly/monthly schedules. A delivery failure surfaces as
// DeliveryFailed but neither discards the computed payload (it is
// returned alongside the error so the caller may retry delivery) nor
// skips the schedule advancement.
func (s *Service) Run(ctx context.Context, reportID int64) (any, error) {
	row, err := s.getRow(ctx, reportID)
	if err != nil {
		return nil, err
	}

	payload, err := s.Preview(ctx, &row.Report)
	if err != nil {
		return nil, err
	}

	deliveryErr := s.deliver(row, payload)

	if row.ScheduleType != model.ScheduleManual {
		if err := s.advanceSchedule(ctx, reportID, row.ScheduleType); err != nil {
			return payload, err
		}
	}

	return payload, deliveryErr
}

// RunDueReports runs every active report whose next_run has passed.
// Each report runs independently: one failure is recorded and the
// batch continues.
func (s *Service) RunDueReports(ctx context.Context, now time.Time) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM report
		WHERE is_active AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY next_run`,
		now.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "report.run_due.select")
	}

	var due []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errors.Wrap(err, "report.run_due.scan")
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var result *multierror.Error
	for _, id := range due {
		if _, err := s.Run(ctx, id); err != nil {
			log.Errorf("report.run_due: report %d: %s", id, err)
			result = multierror.Append(result, errors.Wrapf(err, "report %d", id))
		}
	}
	return result.ErrorOrNil()
}

func (s *Service) deliver(row reportRow, payload any) error {
	recipient := row.OwnerEmail
	if recipient == "" {
		recipient = s.defaultRecipient
	}
	if recipient == "" {
		return &fault.DeliveryFailedError{
			Channel: row.Delivery,
			Cause:   errors.New("no recipient address configured"),
		}
	}

	err := s.channel.Send(recipient, subjectFor(row), renderBody(row, payload))
	if err != nil {
		return &fault.DeliveryFailedError{Channel: row.Delivery, Cause: err}
	}
	log.Debugf("report.run.deliver: report %d sent to %s", row.ID, recipient)
	return nil
}

func (s *Service) advanceSchedule(ctx context.Context, reportID int64, scheduleType string) error {
	next := NextRunAfter(scheduleType, s.nowFn().UTC())
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE report SET next_run = ? WHERE id = ? AND schedule_type != ?`,
			next, reportID, model.ScheduleManual,
		)
		return errors.Wrap(err, "report.advance_schedule")
	})
}

func (s *Service) getRow(ctx context.Context, reportID int64) (reportRow, error) {
	var row reportRow
	row.ID = reportID
	err := s.db.QueryRowContext(ctx, `
		SELECT r.form_id, r.type, r.schedule_type, r.delivery, r.next_run,
			r.created_by, r.created_at, r.is_active,
			f.title, a.email
		FROM report r
		JOIN form f ON (f.id = r.form_id)
		JOIN account a ON (a.id = r.created_by)
		WHERE r.id = ?`,
		reportID,
	).Scan(&row.FormID, &row.Type, &row.ScheduleType, &row.Delivery, &row.NextRun,
		&row.CreatedBy, &row.CreatedAt, &row.IsActive,
		&row.FormTitle, &row.OwnerEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fault.New(fault.NotFound, "no such report %d", reportID)
	}
	return row, errors.Wrap(err, "report.get_row")
}

func isConstraint(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}
