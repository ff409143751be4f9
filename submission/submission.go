// Package submission builds a response together with its answers as
// one all-or-nothing unit, validating every answer against the form's
// field schema first.
package submission

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/formify/formify/database"
	"github.com/formify/formify/fault"
	"github.com/formify/formify/model"
	"github.com/formify/formify/schema"
)

// AnswerInput is one submitted value for one field.
type AnswerInput struct {
	FieldID string `json:"field_id"`
	Value   string `json:"value"`
}

// SubmitterContext carries the caller-supplied identity and client
// metadata. AccountID is nil for anonymous submissions; SessionKey is
// the opaque access-session identifier used to attribute anonymous
// workflow progress.
type SubmitterContext struct {
	AccountID  *int64
	SessionKey string
	IPAddress  string
	UserAgent  string
}

// Respondent derives the key progress is tracked under: the account
// identity when authenticated, the access session otherwise.
func (s SubmitterContext) Respondent() string {
	if s.AccountID != nil {
		return fmt.Sprintf("account:%d", *s.AccountID)
	}
	return "session:" + s.SessionKey
}

type Engine struct {
	db *sql.DB
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// CreateResponse validates the payload against the form's fields and
// persists the response with all its answers in one transaction. On
// any validation failure nothing is persisted.
//
// stepID is empty for direct form submissions; the workflow engine
// passes the step being completed so progress queries can scope
// responses to the process context.
func (e *Engine) CreateResponse(ctx context.Context, formID string, answers []AnswerInput, submitter SubmitterContext) (*model.Response, error) {
	return e.createResponse(ctx, formID, "", answers, submitter)
}

// CreateStepResponse is CreateResponse with the completed step
// recorded on the response row. Only the workflow engine calls it.
func (e *Engine) CreateStepResponse(ctx context.Context, formID, stepID string, answers []AnswerInput, submitter SubmitterContext) (*model.Response, error) {
	return e.createResponse(ctx, formID, stepID, answers, submitter)
}

func (e *Engine) createResponse(ctx context.Context, formID, stepID string, answers []AnswerInput, submitter SubmitterContext) (*model.Response, error) {
	var resp *model.Response
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		resp, err = CreateInTx(ctx, tx, formID, stepID, answers, submitter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateInTx runs the full validate-and-persist sequence inside the
// caller's transaction. The workflow engine uses it so the linear
// mandatory-gate check and the response insert commit as one unit.
func CreateInTx(ctx context.Context, tx *sql.Tx, formID, stepID string, answers []AnswerInput, submitter SubmitterContext) (*model.Response, error) {
	var isActive bool
	err := tx.QueryRowContext(ctx,
		`SELECT is_active FROM form WHERE id = ?`, formID,
	).Scan(&isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "no such form %s", formID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "submission.get_form")
	}
	if !isActive {
		return nil, &fault.FormNotAcceptingSubmissionsError{FormID: formID}
	}

	fields, err := loadFields(ctx, tx, formID)
	if err != nil {
		return nil, err
	}

	submitted := make(map[string]AnswerInput, len(answers))
	for _, in := range answers {
		submitted[in.FieldID] = in
	}

	for _, field := range fields {
		if !field.Required {
			continue
		}
		in, ok := submitted[field.ID]
		if !ok || emptyValue(field, in.Value) {
			return nil, &fault.MissingRequiredFieldError{FieldID: field.ID, Label: field.Label}
		}
	}

	byID := make(map[string]model.Field, len(fields))
	for _, field := range fields {
		byID[field.ID] = field
	}

	resp := &model.Response{
		FormID:      formID,
		StepID:      stepID,
		SubmittedBy: submitter.AccountID,
		Respondent:  submitter.Respondent(),
		IPAddress:   submitter.IPAddress,
		UserAgent:   submitter.UserAgent,
		SubmittedAt: time.Now().UTC(),
	}

	// Validate and collect in field order before touching any row.
	for _, field := range fields {
		in, ok := submitted[field.ID]
		if !ok {
			continue
		}
		delete(submitted, field.ID)

		value, err := schema.ValidateValue(field, in.Value)
		if err != nil {
			return nil, err
		}
		resp.Answers = append(resp.Answers, model.Answer{
			FieldID:    field.ID,
			FieldLabel: field.Label,
			Value:      value,
		})
	}
	for fieldID := range submitted {
		return nil, &fault.FieldNotInFormError{FieldID: fieldID, FormID: formID}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	resp.ID = id.String()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO response (id, form_id, step_id, submitted_by, respondent, ip_address, user_agent, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.ID,
		resp.FormID,
		nullable(resp.StepID),
		resp.SubmittedBy,
		resp.Respondent,
		resp.IPAddress,
		resp.UserAgent,
		resp.SubmittedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "submission.insert_response")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO answer (id, response_id, field_id, value)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, errors.Wrap(err, "submission.insert_answers.prepare")
	}
	defer stmt.Close()

	for i := range resp.Answers {
		answerID, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		resp.Answers[i].ID = answerID.String()
		resp.Answers[i].ResponseID = resp.ID

		_, err = stmt.ExecContext(ctx,
			resp.Answers[i].ID, resp.ID, resp.Answers[i].FieldID, resp.Answers[i].Value,
		)
		if err != nil {
			return nil, errors.Wrap(err, "submission.insert_answers.insert")
		}
	}

	return resp, nil
}

func loadFields(ctx context.Context, tx *sql.Tx, formID string) ([]model.Field, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, label, type, required, options
		FROM form_field
		WHERE form_id = ?
		ORDER BY position`,
		formID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "submission.get_fields")
	}
	defer rows.Close()

	var fields []model.Field
	for rows.Next() {
		f := model.Field{FormID: formID}
		var opts string
		if err := rows.Scan(&f.ID, &f.Label, &f.Type, &f.Required, &opts); err != nil {
			return nil, errors.Wrap(err, "submission.get_fields.scan")
		}
		if opts != "" {
			if err := json.Unmarshal([]byte(opts), &f.Options); err != nil {
				return nil, errors.Wrap(err, "submission.get_fields.parse_options")
			}
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// emptyValue reports whether a raw submitted value counts as "no
// answer" for the required-field gate. A checkbox with zero checked
// boxes is empty even though it encodes as "[]".
func emptyValue(field model.Field, raw string) bool {
	v := strings.TrimSpace(raw)
	if v == "" {
		return true
	}
	if field.Type == model.FieldCheckbox {
		return len(schema.DecodeChecked(v)) == 0
	}
	return false
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
