package category

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

	_, err = db.Exec(`INSERT INTO account (id, username, password_hash) VALUES (1, 'owner', 'x')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO account (id, username, password_hash) VALUES (2, 'other', 'x')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO form (id, title, created_by) VALUES ('form-1', 'F', 1)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO process (id, title, type, created_by) VALUES ('proc-1', 'P', 'linear', 1)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO form (id, title, created_by) VALUES ('form-2', 'F2', 2)`)
	require.NoError(t, err)

	return NewService(db), db
}

func TestCreate(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, ownerID, model.Category{Name: "Surveys"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	_, err = svc.Create(ctx, ownerID, model.Category{Name: ""})
	assert.ErrorIs(t, err, fault.Validation)

	// names are unique per owner, not globally
	_, err = svc.Create(ctx, ownerID, model.Category{Name: "Surveys"})
	assert.ErrorIs(t, err, fault.Conflict)

	_, err = svc.Create(ctx, 2, model.Category{Name: "Surveys"})
	assert.NoError(t, err)
}

func TestList(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	for _, name := range []string{"Zeta", "Alpha"} {
		_, err := svc.Create(ctx, ownerID, model.Category{Name: name})
		require.NoError(t, err)
	}

	categories, err := svc.List(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Alpha", categories[0].Name)
	assert.Equal(t, "Zeta", categories[1].Name)

	categories, err = svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestLinkAndListFor(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, ownerID, model.Category{Name: "Onboarding"})
	require.NoError(t, err)

	formLink := model.CategoryLink{EntityKind: model.EntityForm, EntityID: "form-1", CategoryID: created.ID}
	require.NoError(t, svc.Link(ctx, ownerID, formLink))
	require.NoError(t, svc.Link(ctx, ownerID, model.CategoryLink{
		EntityKind: model.EntityProcess, EntityID: "proc-1", CategoryID: created.ID,
	}))

	// duplicate link conflicts
	err = svc.Link(ctx, ownerID, formLink)
	assert.ErrorIs(t, err, fault.Conflict)

	categories, err := svc.ListFor(ctx, model.EntityForm, "form-1")
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "Onboarding", categories[0].Name)

	categories, err = svc.ListFor(ctx, model.EntityProcess, "proc-1")
	require.NoError(t, err)
	assert.Len(t, categories, 1)
}

func TestLink_OwnershipChecked(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, ownerID, model.Category{Name: "Onboarding"})
	require.NoError(t, err)

	// form-2 belongs to another account
	err = svc.Link(ctx, ownerID, model.CategoryLink{
		EntityKind: model.EntityForm, EntityID: "form-2", CategoryID: created.ID,
	})
	assert.ErrorIs(t, err, fault.NotFound)

	err = svc.Link(ctx, ownerID, model.CategoryLink{
		EntityKind: "report", EntityID: "form-1", CategoryID: created.ID,
	})
	assert.ErrorIs(t, err, fault.Validation)
}

func TestUnlink(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, ownerID, model.Category{Name: "Onboarding"})
	require.NoError(t, err)

	link := model.CategoryLink{EntityKind: model.EntityForm, EntityID: "form-1", CategoryID: created.ID}
	require.NoError(t, svc.Link(ctx, ownerID, link))
	require.NoError(t, svc.Unlink(ctx, ownerID, link))

	categories, err := svc.ListFor(ctx, model.EntityForm, "form-1")
	require.NoError(t, err)
	assert.Empty(t, categories)

	assert.ErrorIs(t, svc.Unlink(ctx, ownerID, link), fault.NotFound)
}

func TestDelete_RemovesLinks(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, ownerID, model.Category{Name: "Onboarding"})
	require.NoError(t, err)
	require.NoError(t, svc.Link(ctx, ownerID, model.CategoryLink{
		EntityKind: model.EntityForm, EntityID: "form-1", CategoryID: created.ID,
	}))

	require.NoError(t, svc.Delete(ctx, ownerID, created.ID))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM entity_category`).Scan(&n))
	assert.Zero(t, n)

	assert.ErrorIs(t, svc.Delete(ctx, ownerID, created.ID), fault.NotFound)
}
