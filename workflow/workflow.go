// Package workflow drives a process instance through linear or free
// step completion.
//
// Progress is a pure function of persisted step and response state,
// recomputed on every read; there is no cached current-step pointer to
// go stale under concurrent completions.
package workflow

import (
	"context"
	"database/sql"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/formify/formify/database"
	"github.com/formify/formify/fault"
	"github.com/formify/formify/model"
	"github.com/formify/formify/ordering"
	"github.com/formify/formify/submission"
)

// Process-level derived states.
const (
	StateNotStarted = "not_started"
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
)

type Engine struct {
	db *sql.DB
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// StepStatus pairs a step with its completion flag for one respondent.
type StepStatus struct {
	Step      model.Step `json:"step"`
	Completed bool       `json:"completed"`
}

// CurrentStepResult is what a respondent should work on next. For
// linear processes Step is the lowest-position pending step, nil once
// everything is done. Free processes have no single current step, so
// Steps carries the full list with per-step completion flags.
type CurrentStepResult struct {
	ProcessType string       `json:"process_type"`
	Step        *model.Step  `json:"current_step,omitempty"`
	Steps       []StepStatus `json:"steps,omitempty"`
	Done        bool         `json:"is_completed"`
}

// Progress is the respondent's overall position in a process.
type Progress struct {
	Total         int          `json:"total_steps"`
	Completed     int          `json:"completed_steps"`
	Fraction      float64      `json:"fraction"`
	State         string       `json:"state"`
	CurrentStepID string       `json:"current_step_id,omitempty"`
	Steps         []StepStatus `json:"steps"`
}

// CompletionResult is returned by CompleteStep.
type CompletionResult struct {
	Response        *model.Response `json:"response"`
	NextStep        *model.Step     `json:"next_step,omitempty"`
	ProcessComplete bool            `json:"is_process_complete"`
}

// CurrentStep computes the next eligible step for the respondent.
func (e *Engine) CurrentStep(ctx context.Context, processID string, respondent string) (*CurrentStepResult, error) {
	process, err := e.getProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	statuses, err := e.stepStatuses(ctx, e.db, processID, respondent)
	if err != nil {
		return nil, err
	}

	if process.Type == model.ProcessFree {
		done := true
		for _, s := range statuses {
			if !s.Completed {
				done = false
				break
			}
		}
		return &CurrentStepResult{ProcessType: model.ProcessFree, Steps: statuses, Done: done}, nil
	}

	for i := range statuses {
		if !statuses[i].Completed {
			return &CurrentStepResult{ProcessType: model.ProcessLinear, Step: &statuses[i].Step}, nil
		}
	}
	return &CurrentStepResult{ProcessType: model.ProcessLinear, Done: true}, nil
}

// GetProgress reports per-step completion and the overall fraction;
// for linear processes it also names the current step.
func (e *Engine) GetProgress(ctx context.Context, processID string, respondent string) (*Progress, error) {
	process, err := e.getProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	statuses, err := e.stepStatuses(ctx, e.db, processID, respondent)
	if err != nil {
		return nil, err
	}

	p := &Progress{Total: len(statuses), Steps: statuses}
	for _, s := range statuses {
		if s.Completed {
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Fraction = float64(p.Completed) / float64(p.Total)
	}

	switch {
	case p.Completed == 0:
		p.State = StateNotStarted
	case p.Completed == p.Total:
		p.State = StateCompleted
	default:
		p.State = StateInProgress
	}

	if process.Type == model.ProcessLinear && p.State != StateCompleted {
		for _, s := range statuses {
			if !s.Completed {
				p.CurrentStepID = s.Step.ID
				break
			}
		}
	}
	return p, nil
}

// CompleteStep completes one step for the respondent by submitting the
// step's form. For linear processes the mandatory-gate rule is
// re-checked inside the same transaction that persists the response,
// so two concurrent completions cannot both slip past the gate.
func (e *Engine) CompleteStep(ctx context.Context, stepID string, answers []submission.AnswerInput, submitter submission.SubmitterContext) (*CompletionResult, error) {
	result := &CompletionResult{}
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		step, processType, err := e.getStepTx(ctx, tx, stepID)
		if err != nil {
			return err
		}

		statuses, err := e.stepStatuses(ctx, tx, step.ProcessID, submitter.Respondent())
		if err != nil {
			return err
		}

		if processType == model.ProcessLinear {
			for _, s := range statuses {
				if s.Step.Position >= step.Position {
					break
				}
				if s.Step.Mandatory && !s.Completed {
					return &fault.MandatoryStepPendingError{StepID: s.Step.ID, Name: s.Step.Name}
				}
			}
		}

		resp, err := submission.CreateInTx(ctx, tx, step.FormID, step.ID, answers, submitter)
		if err != nil {
			return err
		}
		result.Response = resp

		// Derive next step and overall completion from the pre-insert
		// snapshot plus the step just completed.
		complete := true
		for i := range statuses {
			done := statuses[i].Completed || statuses[i].Step.ID == step.ID
			if !done {
				complete = false
				if processType == model.ProcessLinear && result.NextStep == nil {
					result.NextStep = &statuses[i].Step
				}
			}
		}
		result.ProcessComplete = complete
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateStep appends (or inserts) a step into a process the owner
// controls. The linked form must belong to the same owner as the
// process.
func (e *Engine) CreateStep(ctx context.Context, ownerID int64, step model.Step) (*model.Step, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	step.ID = id.String()

	err = database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var processOwner int64
		err := tx.QueryRowContext(ctx,
			`SELECT created_by FROM process WHERE id = ? AND created_by = ?`,
			step.ProcessID, ownerID,
		).Scan(&processOwner)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.New(fault.NotFound, "no such process %s", step.ProcessID)
		}
		if err != nil {
			return errors.Wrap(err, "workflow.create_step.get_process")
		}

		var formOwner int64
		err = tx.QueryRowContext(ctx,
			`SELECT created_by FROM form WHERE id = ?`, step.FormID,
		).Scan(&formOwner)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.New(fault.NotFound, "no such form %s", step.FormID)
		}
		if err != nil {
			return errors.Wrap(err, "workflow.create_step.get_form")
		}
		if formOwner != processOwner {
			return &fault.OwnershipMismatchError{FormID: step.FormID, ProcessID: step.ProcessID}
		}

		requested := step.Position
		step.Position, err = ordering.Append(ctx, tx, ordering.ProcessSteps, step.ProcessID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO process_step (id, process_id, form_id, name, description, position, mandatory)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			step.ID, step.ProcessID, step.FormID, step.Name, step.Description, step.Position, step.Mandatory,
		)
		if err != nil {
			return errors.Wrap(err, "workflow.create_step.insert")
		}

		if requested != 0 && requested != step.Position {
			if err := ordering.Reposition(ctx, tx, ordering.ProcessSteps, step.ProcessID, step.ID, requested); err != nil {
				return err
			}
			step.Position = requested
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// ReorderStep moves a step to newPos within its process.
func (e *Engine) ReorderStep(ctx context.Context, ownerID int64, stepID string, newPos int) error {
	return database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		processID, err := e.ownStepProcess(ctx, tx, ownerID, stepID)
		if err != nil {
			return err
		}
		return ordering.Reposition(ctx, tx, ordering.ProcessSteps, processID, stepID, newPos)
	})
}

// DeleteStep removes a step and closes the position gap it leaves.
func (e *Engine) DeleteStep(ctx context.Context, ownerID int64, stepID string) error {
	return database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		processID, err := e.ownStepProcess(ctx, tx, ownerID, stepID)
		if err != nil {
			return err
		}

		var position int
		err = tx.QueryRowContext(ctx,
			`SELECT position FROM process_step WHERE id = ?`, stepID,
		).Scan(&position)
		if err != nil {
			return errors.Wrap(err, "workflow.delete_step.position")
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM process_step WHERE id = ?`, stepID)
		if err != nil {
			return errors.Wrap(err, "workflow.delete_step.delete")
		}

		return ordering.CloseGap(ctx, tx, ordering.ProcessSteps, processID, position)
	})
}

// UpdateStep changes a step's name, description, mandatory flag or
// linked form. Changing the form re-checks the ownership invariant.
func (e *Engine) UpdateStep(ctx context.Context, ownerID int64, step model.Step) error {
	return database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		processID, err := e.ownStepProcess(ctx, tx, ownerID, step.ID)
		if err != nil {
			return err
		}

		var formOwner int64
		err = tx.QueryRowContext(ctx,
			`SELECT created_by FROM form WHERE id = ?`, step.FormID,
		).Scan(&formOwner)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.New(fault.NotFound, "no such form %s", step.FormID)
		}
		if err != nil {
			return errors.Wrap(err, "workflow.update_step.get_form")
		}
		if formOwner != ownerID {
			return &fault.OwnershipMismatchError{FormID: step.FormID, ProcessID: processID}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE process_step SET form_id = ?, name = ?, description = ?, mandatory = ?
			WHERE id = ?`,
			step.FormID, step.Name, step.Description, step.Mandatory, step.ID,
		)
		return errors.Wrap(err, "workflow.update_step.update")
	})
}

// ListSteps returns a process's steps in position order.
func (e *Engine) ListSteps(ctx context.Context, processID string) ([]model.Step, error) {
	return listSteps(ctx, e.db, processID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e *Engine) getProcess(ctx context.Context, processID string) (*model.Process, error) {
	p := &model.Process{ID: processID}
	err := e.db.QueryRowContext(ctx, `
		SELECT title, description, type, created_by, is_public, is_active
		FROM process WHERE id = ?`,
		processID,
	).Scan(&p.Title, &p.Description, &p.Type, &p.CreatedBy, &p.IsPublic, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "no such process %s", processID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "workflow.get_process")
	}
	return p, nil
}

func (e *Engine) getStepTx(ctx context.Context, tx *sql.Tx, stepID string) (*model.Step, string, error) {
	step := &model.Step{ID: stepID}
	var processType string
	err := tx.QueryRowContext(ctx, `
		SELECT s.process_id, s.form_id, s.name, s.description, s.position, s.mandatory, p.type
		FROM process_step s
		JOIN process p ON (p.id = s.process_id)
		WHERE s.id = ?`,
		stepID,
	).Scan(&step.ProcessID, &step.FormID, &step.Name, &step.Description, &step.Position, &step.Mandatory, &processType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fault.New(fault.NotFound, "no such step %s", stepID)
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "workflow.get_step")
	}
	return step, processType, nil
}

func (e *Engine) ownStepProcess(ctx context.Context, tx *sql.Tx, ownerID int64, stepID string) (string, error) {
	var processID string
	err := tx.QueryRowContext(ctx, `
		SELECT s.process_id
		FROM process_step s
		JOIN process p ON (p.id = s.process_id)
		WHERE s.id = ? AND p.created_by = ?`,
		stepID, ownerID,
	).Scan(&processID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fault.New(fault.NotFound, "no such step %s", stepID)
	}
	if err != nil {
		return "", errors.Wrap(err, "workflow.get_step.owner")
	}
	return processID, nil
}

// stepStatuses loads the steps in position order with the respondent's
// completion flag. A step counts completed when a response exists for
// it by this respondent.
func (e *Engine) stepStatuses(ctx context.Context, q querier, processID string, respondent string) ([]StepStatus, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT s.id, s.form_id, s.name, s.description, s.position, s.mandatory,
			EXISTS (
				SELECT 1 FROM response r
				WHERE r.step_id = s.id AND r.respondent = ?
			)
		FROM process_step s
		WHERE s.process_id = ?
		ORDER BY s.position`,
		respondent, processID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "workflow.step_statuses")
	}
	defer rows.Close()

	var statuses []StepStatus
	for rows.Next() {
		s := StepStatus{Step: model.Step{ProcessID: processID}}
		err := rows.Scan(
			&s.Step.ID, &s.Step.FormID, &s.Step.Name, &s.Step.Description,
			&s.Step.Position, &s.Step.Mandatory, &s.Completed,
		)
		if err != nil {
			return nil, errors.Wrap(err, "workflow.step_statuses.scan")
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

func listSteps(ctx context.Context, q querier, processID string) ([]model.Step, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, form_id, name, description, position, mandatory
		FROM process_step
		WHERE process_id = ?
		ORDER BY position`,
		processID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "workflow.list_steps")
	}
	defer rows.Close()

	var steps []model.Step
	for rows.Next() {
		s := model.Step{ProcessID: processID}
		if err := rows.Scan(&s.ID, &s.FormID, &s.Name, &s.Description, &s.Position, &s.Mandatory); err != nil {
			return nil, errors.Wrap(err, "workflow.list_steps.scan")
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
