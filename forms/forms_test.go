package forms

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formify/formify/database"
	"github.com/formify/formify/fault"
	"github.com/formify/formify/model"
)

const ownerID = int64(1)

func testService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`INSERT INTO account (id, username, password_hash) VALUES (?, 'owner', 'x')`, ownerID)
	require.NoError(t, err)

	return NewService(db), db
}

func sampleForm() model.Form {
	return model.Form{
		Title:    "Pizza Order",
		IsPublic: true,
		Fields: []model.Field{
			{Label: "name", Type: model.FieldText, Required: true},
			{Label: "size", Type: model.FieldSelect, Options: model.FieldOptions{Choices: []string{"S", "M", "L"}}},
			{Label: "toppings", Type: model.FieldCheckbox, Options: model.FieldOptions{Choices: []string{"cheese", "ham"}}},
		},
	}
}

func TestCreateForm(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.CreateForm(ctx, ownerID, sampleForm())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	loaded, err := svc.GetForm(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Fields, 3)
	for i, f := range loaded.Fields {
		assert.Equal(t, i+1, f.Position)
	}
	assert.Equal(t, "name", loaded.Fields[0].Label)
	assert.Equal(t, []string{"S", "M", "L"}, loaded.Fields[1].Options.Choices)
}

func TestCreateForm_PrivateNeedsSecret(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()

	form := sampleForm()
	form.IsPublic = false
	_, err := svc.CreateForm(ctx, ownerID, form)
	assert.ErrorIs(t, err, fault.Validation)

	form.AccessSecret = "hunter2"
	created, err := svc.CreateForm(ctx, ownerID, form)
	require.NoError(t, err)
	assert.Empty(t, created.AccessSecret, "the secret never leaves the service")

	// the secret is stored hashed, not verbatim
	var hash string
	require.NoError(t, db.QueryRow(
		`SELECT access_secret_hash FROM form WHERE id = ?`, created.ID,
	).Scan(&hash))
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, "hunter2", hash)
}

func TestCreateForm_InvalidFieldIsAtomic(t *testing.T) {
	svc, db := testService(t)

	form := sampleForm()
	form.Fields = append(form.Fields, model.Field{Label: "broken", Type: model.FieldSelect})

	_, err := svc.CreateForm(context.Background(), ownerID, form)
	assert.ErrorIs(t, err, fault.Validation)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM form`).Scan(&n))
	assert.Zero(t, n)
}

func TestUpdateForm_PrivateInvariant(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.CreateForm(ctx, ownerID, sampleForm())
	require.NoError(t, err)

	// flipping a secretless public form to private requires a secret
	update := *created
	update.IsPublic = false
	err = svc.UpdateForm(ctx, ownerID, update)
	assert.ErrorIs(t, err, fault.Validation)

	update.AccessSecret = "hunter2"
	require.NoError(t, svc.UpdateForm(ctx, ownerID, update))

	// once a secret is stored, later updates may omit it
	update.AccessSecret = ""
	update.Title = "Renamed"
	require.NoError(t, svc.UpdateForm(ctx, ownerID, update))

	loaded, err := svc.GetForm(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", loaded.Title)
	assert.False(t, loaded.IsPublic)
}

func TestUpdateForm_NotOwned(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.CreateForm(ctx, ownerID, sampleForm())
	require.NoError(t, err)

	created.Title = "Hijacked"
	err = svc.UpdateForm(ctx, 99, *created)
	assert.ErrorIs(t, err, fault.NotFound)
}

func TestCreateField_AppendAndInsert(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.CreateForm(ctx, ownerID, sampleForm())
	require.NoError(t, err)

	appended, err := svc.CreateField(ctx, ownerID, model.Field{
		FormID: created.ID, Label: "notes", Type: model.FieldText,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, appended.Position)

	inserted, err := svc.CreateField(ctx, ownerID, model.Field{
		FormID: created.ID, Label: "email", Type: model.FieldText, Position: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted.Position)

	loaded, err := svc.GetForm(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Fields, 5)
	assert.Equal(t, "email", loaded.Fields[0].Label)
	assert.Equal(t, "name", loaded.Fields[1].Label)
	assert.Equal(t, "notes", loaded.Fields[4].Label)
	for i, f := range loaded.Fields {
		assert.Equal(t, i+1, f.Position)
	}
}

func TestDeleteField_ClosesGap(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.CreateForm(ctx, ownerID, sampleForm())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteField(ctx, ownerID, created.Fields[1].ID))

	loaded, err := svc.GetForm(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Fields, 2)
	assert.Equal(t, "name", loaded.Fields[0].Label)
	assert.Equal(t, 1, loaded.Fields[0].Position)
	assert.Equal(t, "toppings", loaded.Fields[1].Label)
	assert.Equal(t, 2, loaded.Fields[1].Position)
}

func TestReorderField(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.CreateForm(ctx, ownerID, sampleForm())
	require.NoError(t, err)

	require.NoError(t, svc.ReorderField(ctx, ownerID, created.Fields[2].ID, 1))

	loaded, err := svc.GetForm(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "toppings", loaded.Fields[0].Label)
	assert.Equal(t, "name", loaded.Fields[1].Label)
	assert.Equal(t, "size", loaded.Fields[2].Label)

	err = svc.ReorderField(ctx, ownerID, created.Fields[0].ID, 7)
	var rangeErr *fault.OutOfRangeError
	assert.ErrorAs(t, err, &rangeErr)
}

func TestUpdateField_Revalidates(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.CreateForm(ctx, ownerID, sampleForm())
	require.NoError(t, err)

	field := created.Fields[1]
	field.Options.Choices = nil
	err = svc.UpdateField(ctx, ownerID, field)
	assert.ErrorIs(t, err, fault.Validation)
}

func TestDeleteForm_Cascades(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()

	created, err := svc.CreateForm(ctx, ownerID, sampleForm())
	require.NoError(t, err)
	require.NoError(t, svc.RecordView(ctx, model.FormView{FormID: created.ID}))

	require.NoError(t, svc.DeleteForm(ctx, ownerID, created.ID))

	for _, table := range []string{"form", "form_field", "form_view"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
		assert.Zero(t, n, table)
	}

	assert.ErrorIs(t, svc.DeleteForm(ctx, ownerID, created.ID), fault.NotFound)
}

func TestRecordView(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()

	created, err := svc.CreateForm(ctx, ownerID, sampleForm())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordView(ctx, model.FormView{
			FormID: created.ID, IPAddress: "10.0.0.1", UserAgent: "test",
		}))
	}

	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM form_view WHERE form_id = ?`, created.ID,
	).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestListForms(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, err := svc.CreateForm(ctx, ownerID, sampleForm())
	require.NoError(t, err)

	second := sampleForm()
	second.Title = "Second"
	_, err = svc.CreateForm(ctx, ownerID, second)
	require.NoError(t, err)

	listed, err := svc.ListForms(ctx, ownerID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	listed, err = svc.ListForms(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, listed)
}
