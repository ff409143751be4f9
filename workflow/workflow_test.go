package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formify/formify/database"
	"github.com/formify/formify/fault"
	"github.com/formify/formify/model"
	"github.com/formify/formify/submission"
)

const ownerID = int64(1)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedOwner(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO account (id, username, password_hash) VALUES (?, ?, 'x')`,
		id, fmt.Sprintf("owner-%d", id),
	)
	require.NoError(t, err)
}

// seedForm creates an active form with no fields so step completions
// need no answers.
func seedForm(t *testing.T, db *sql.DB, id string, owner int64) string {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO form (id, title, created_by) VALUES (?, ?, ?)`,
		id, "Form "+id, owner,
	)
	require.NoError(t, err)
	return id
}

// seedProcess builds a process with one step per mandatory flag, each
// backed by its own form. Returns the process and its steps in order.
func seedProcess(t *testing.T, db *sql.DB, engine *Engine, processType string, mandatory ...bool) (*model.Process, []model.Step) {
	t.Helper()
	ctx := context.Background()

	process, err := engine.CreateProcess(ctx, ownerID, model.Process{
		Title:    "Onboarding",
		Type:     processType,
		IsPublic: true,
	})
	require.NoError(t, err)

	steps := make([]model.Step, len(mandatory))
	for i, m := range mandatory {
		formID := seedForm(t, db, fmt.Sprintf("form-%d", i+1), ownerID)
		step, err := engine.CreateStep(ctx, ownerID, model.Step{
			ProcessID: process.ID,
			FormID:    formID,
			Name:      fmt.Sprintf("S%d", i+1),
			Mandatory: m,
		})
		require.NoError(t, err)
		steps[i] = *step
	}
	return process, steps
}

func respondent(key string) submission.SubmitterContext {
	return submission.SubmitterContext{SessionKey: key}
}

func TestCompleteStep_LinearMandatoryGate(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	engine := NewEngine(db)
	ctx := context.Background()

	// S1 mandatory, S2 optional, S3 mandatory
	_, steps := seedProcess(t, db, engine, model.ProcessLinear, true, false, true)
	alice := respondent("alice")

	// S3 is blocked until S1 is done
	_, err := engine.CompleteStep(ctx, steps[2].ID, nil, alice)
	var pendingErr *fault.MandatoryStepPendingError
	require.ErrorAs(t, err, &pendingErr)
	assert.Equal(t, steps[0].ID, pendingErr.StepID)
	assert.ErrorIs(t, err, fault.Conflict)

	result, err := engine.CompleteStep(ctx, steps[0].ID, nil, alice)
	require.NoError(t, err)
	require.NotNil(t, result.NextStep)
	assert.Equal(t, steps[1].ID, result.NextStep.ID)
	assert.False(t, result.ProcessComplete)

	// the optional S2 may be skipped
	result, err = engine.CompleteStep(ctx, steps[2].ID, nil, alice)
	require.NoError(t, err)
	require.NotNil(t, result.NextStep)
	assert.Equal(t, steps[1].ID, result.NextStep.ID)
	assert.False(t, result.ProcessComplete)

	result, err = engine.CompleteStep(ctx, steps[1].ID, nil, alice)
	require.NoError(t, err)
	assert.Nil(t, result.NextStep)
	assert.True(t, result.ProcessComplete)
}

func TestCurrentStep_Linear(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	engine := NewEngine(db)
	ctx := context.Background()

	process, steps := seedProcess(t, db, engine, model.ProcessLinear, true, true)
	alice := respondent("alice")

	current, err := engine.CurrentStep(ctx, process.ID, alice.Respondent())
	require.NoError(t, err)
	require.NotNil(t, current.Step)
	assert.Equal(t, steps[0].ID, current.Step.ID)
	assert.False(t, current.Done)

	_, err = engine.CompleteStep(ctx, steps[0].ID, nil, alice)
	require.NoError(t, err)

	current, err = engine.CurrentStep(ctx, process.ID, alice.Respondent())
	require.NoError(t, err)
	require.NotNil(t, current.Step)
	assert.Equal(t, steps[1].ID, current.Step.ID)

	_, err = engine.CompleteStep(ctx, steps[1].ID, nil, alice)
	require.NoError(t, err)

	current, err = engine.CurrentStep(ctx, process.ID, alice.Respondent())
	require.NoError(t, err)
	assert.Nil(t, current.Step)
	assert.True(t, current.Done)
}

func TestGetProgress_Linear(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	engine := NewEngine(db)
	ctx := context.Background()

	process, steps := seedProcess(t, db, engine, model.ProcessLinear, true, true, true)
	alice := respondent("alice")

	progress, err := engine.GetProgress(ctx, process.ID, alice.Respondent())
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, progress.State)
	assert.Equal(t, steps[0].ID, progress.CurrentStepID)
	assert.Zero(t, progress.Fraction)

	_, err = engine.CompleteStep(ctx, steps[0].ID, nil, alice)
	require.NoError(t, err)

	progress, err = engine.GetProgress(ctx, process.ID, alice.Respondent())
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, progress.State)
	assert.Equal(t, 3, progress.Total)
	assert.Equal(t, 1, progress.Completed)
	assert.InDelta(t, 1.0/3.0, progress.Fraction, 1e-9)
	assert.Equal(t, steps[1].ID, progress.CurrentStepID)

	for _, s := range steps[1:] {
		_, err = engine.CompleteStep(ctx, s.ID, nil, alice)
		require.NoError(t, err)
	}

	progress, err = engine.GetProgress(ctx, process.ID, alice.Respondent())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, progress.State)
	assert.Equal(t, 1.0, progress.Fraction)
	assert.Empty(t, progress.CurrentStepID)
}

func TestFreeProcess_AnyOrder(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	engine := NewEngine(db)
	ctx := context.Background()

	process, steps := seedProcess(t, db, engine, model.ProcessFree, true, true, true)
	alice := respondent("alice")

	// mandatory flags do not gate a free process
	result, err := engine.CompleteStep(ctx, steps[2].ID, nil, alice)
	require.NoError(t, err)
	assert.Nil(t, result.NextStep)
	assert.False(t, result.ProcessComplete)

	current, err := engine.CurrentStep(ctx, process.ID, alice.Respondent())
	require.NoError(t, err)
	assert.Nil(t, current.Step)
	require.Len(t, current.Steps, 3)
	assert.False(t, current.Steps[0].Completed)
	assert.True(t, current.Steps[2].Completed)
	assert.False(t, current.Done)

	result, err = engine.CompleteStep(ctx, steps[1].ID, nil, alice)
	require.NoError(t, err)
	assert.False(t, result.ProcessComplete)

	result, err = engine.CompleteStep(ctx, steps[0].ID, nil, alice)
	require.NoError(t, err)
	assert.True(t, result.ProcessComplete)

	current, err = engine.CurrentStep(ctx, process.ID, alice.Respondent())
	require.NoError(t, err)
	assert.True(t, current.Done)
}

func TestProgress_RespondentsAreIsolated(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	engine := NewEngine(db)
	ctx := context.Background()

	process, steps := seedProcess(t, db, engine, model.ProcessLinear, true, true)
	alice, bob := respondent("alice"), respondent("bob")

	_, err := engine.CompleteStep(ctx, steps[0].ID, nil, alice)
	require.NoError(t, err)

	progress, err := engine.GetProgress(ctx, process.ID, bob.Respondent())
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, progress.State)
	assert.Zero(t, progress.Completed)
}

// One goroutine per step of a free process. The sqlite writer lock may
// force transient retries, but every completion must land and the final
// progress must be complete.
func TestCompleteStep_Concurrent(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	engine := NewEngine(db)
	ctx := context.Background()

	process, steps := seedProcess(t, db, engine, model.ProcessFree, true, true, true, true)
	alice := respondent("alice")

	var wg sync.WaitGroup
	errs := make(chan error, len(steps))
	for _, step := range steps {
		wg.Add(1)
		go func(stepID string) {
			defer wg.Done()
			var err error
			for i := 0; i < 10; i++ {
				_, err = engine.CompleteStep(ctx, stepID, nil, alice)
				if !errors.Is(err, fault.Transient) {
					break
				}
			}
			errs <- err
		}(step.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	progress, err := engine.GetProgress(ctx, process.ID, alice.Respondent())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, progress.State)
	assert.Equal(t, len(steps), progress.Completed)
}

func TestCompleteStep_UnknownStep(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	engine := NewEngine(db)

	_, err := engine.CompleteStep(context.Background(), "no-such-step", nil, respondent("alice"))
	assert.ErrorIs(t, err, fault.NotFound)
}

func TestCreateStep_OwnershipMismatch(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	seedOwner(t, db, 2)
	engine := NewEngine(db)
	ctx := context.Background()

	process, _ := seedProcess(t, db, engine, model.ProcessLinear)
	foreignForm := seedForm(t, db, "foreign-form", 2)

	_, err := engine.CreateStep(ctx, ownerID, model.Step{
		ProcessID: process.ID,
		FormID:    foreignForm,
		Name:      "S1",
	})

	var ownErr *fault.OwnershipMismatchError
	require.ErrorAs(t, err, &ownErr)
	assert.ErrorIs(t, err, fault.Conflict)
}

func TestCreateStep_ExplicitPosition(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	engine := NewEngine(db)
	ctx := context.Background()

	process, steps := seedProcess(t, db, engine, model.ProcessLinear, true, true, true)

	inserted, err := engine.CreateStep(ctx, ownerID, model.Step{
		ProcessID: process.ID,
		FormID:    seedForm(t, db, "form-extra", ownerID),
		Name:      "Inserted",
		Position:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted.Position)

	listed, err := engine.ListSteps(ctx, process.ID)
	require.NoError(t, err)
	require.Len(t, listed, 4)
	assert.Equal(t, []string{steps[0].ID, inserted.ID, steps[1].ID, steps[2].ID},
		[]string{listed[0].ID, listed[1].ID, listed[2].ID, listed[3].ID})
	for i, s := range listed {
		assert.Equal(t, i+1, s.Position)
	}
}

func TestReorderStep_OutOfRange(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	engine := NewEngine(db)

	_, steps := seedProcess(t, db, engine, model.ProcessLinear, true, true)

	err := engine.ReorderStep(context.Background(), ownerID, steps[0].ID, 5)
	var rangeErr *fault.OutOfRangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.ErrorIs(t, err, fault.Validation)
}

func TestDeleteStep_ClosesGap(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	engine := NewEngine(db)
	ctx := context.Background()

	process, steps := seedProcess(t, db, engine, model.ProcessLinear, true, true, true)

	require.NoError(t, engine.DeleteStep(ctx, ownerID, steps[1].ID))

	listed, err := engine.ListSteps(ctx, process.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, steps[0].ID, listed[0].ID)
	assert.Equal(t, 1, listed[0].Position)
	assert.Equal(t, steps[2].ID, listed[1].ID)
	assert.Equal(t, 2, listed[1].Position)
}

func TestUpdateStep_ForeignFormRejected(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	seedOwner(t, db, 2)
	engine := NewEngine(db)
	ctx := context.Background()

	_, steps := seedProcess(t, db, engine, model.ProcessLinear, true)
	foreignForm := seedForm(t, db, "foreign-form", 2)

	step := steps[0]
	step.FormID = foreignForm
	err := engine.UpdateStep(ctx, ownerID, step)

	var ownErr *fault.OwnershipMismatchError
	assert.ErrorAs(t, err, &ownErr)
}

func TestCreateProcess_Validation(t *testing.T) {
	db := testDB(t)
	seedOwner(t, db, ownerID)
	engine := NewEngine(db)
	ctx := context.Background()

	_, err := engine.CreateProcess(ctx, ownerID, model.Process{Title: "P", Type: "circular", IsPublic: true})
	assert.ErrorIs(t, err, fault.Validation)

	_, err = engine.CreateProcess(ctx, ownerID, model.Process{Title: "P", Type: model.ProcessLinear, IsPublic: false})
	assert.ErrorIs(t, err, fault.Validation)
}
