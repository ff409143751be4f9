package ordering

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formify/formify/database"
	"github.com/formify/formify/fault"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedFields creates one form with n fields at positions 1..n and
// returns the form id plus the field ids in position order.
func seedFields(t *testing.T, db *sql.DB, n int) (string, []string) {
	t.Helper()

	_, err := db.Exec(`INSERT INTO account (id, username, password_hash) VALUES (1, 'owner', 'x')`)
	require.NoError(t, err)

	formID := "form-1"
	_, err = db.Exec(
		`INSERT INTO form (id, title, created_by) VALUES (?, 'Fixture', 1)`,
		formID,
	)
	require.NoError(t, err)

	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("field-%d", i+1)
		_, err = db.Exec(`
			INSERT INTO form_field (id, form_id, label, type, position)
			VALUES (?, ?, ?, 'text', ?)`,
			ids[i], formID, ids[i], i+1,
		)
		require.NoError(t, err)
	}
	return formID, ids
}

// layout reads the sibling ids in position order and asserts the
// positions are dense 1..n on the way.
func layout(t *testing.T, db *sql.DB, formID string) []string {
	t.Helper()

	rows, err := db.Query(
		`SELECT id, position FROM form_field WHERE form_id = ? ORDER BY position`,
		formID,
	)
	require.NoError(t, err)
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var pos int
		require.NoError(t, rows.Scan(&id, &pos))
		require.Equal(t, len(ids)+1, pos, "positions must stay dense")
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	return ids
}

func reposition(ctx context.Context, db *sql.DB, formID, itemID string, newPos int) error {
	return database.WithTx(ctx, db, func(tx *sql.Tx) error {
		return Reposition(ctx, tx, FormFields, formID, itemID, newPos)
	})
}

func TestAppend(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	formID, _ := seedFields(t, db, 3)

	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		next, err := Append(ctx, tx, FormFields, formID)
		require.NoError(t, err)
		assert.Equal(t, 4, next)

		next, err = Append(ctx, tx, FormFields, "empty-form")
		require.NoError(t, err)
		assert.Equal(t, 1, next)
		return nil
	})
	require.NoError(t, err)
}

func TestReposition_MoveForward(t *testing.T) {
	db := testDB(t)
	formID, ids := seedFields(t, db, 5)

	require.NoError(t, reposition(context.Background(), db, formID, ids[1], 4))
	assert.Equal(t, []string{ids[0], ids[2], ids[3], ids[1], ids[4]}, layout(t, db, formID))
}

func TestReposition_MoveBackward(t *testing.T) {
	db := testDB(t)
	formID, ids := seedFields(t, db, 5)

	require.NoError(t, reposition(context.Background(), db, formID, ids[4], 2))
	assert.Equal(t, []string{ids[0], ids[4], ids[1], ids[2], ids[3]}, layout(t, db, formID))
}

func TestReposition_ToEnds(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	formID, ids := seedFields(t, db, 4)

	require.NoError(t, reposition(ctx, db, formID, ids[0], 4))
	assert.Equal(t, []string{ids[1], ids[2], ids[3], ids[0]}, layout(t, db, formID))

	require.NoError(t, reposition(ctx, db, formID, ids[0], 1))
	assert.Equal(t, []string{ids[0], ids[1], ids[2], ids[3]}, layout(t, db, formID))
}

func TestReposition_SamePositionIsNoop(t *testing.T) {
	db := testDB(t)
	formID, ids := seedFields(t, db, 3)

	require.NoError(t, reposition(context.Background(), db, formID, ids[1], 2))
	assert.Equal(t, ids, layout(t, db, formID))
}

func TestReposition_OutOfRange(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	formID, ids := seedFields(t, db, 3)

	for _, target := range []int{0, -1, 4} {
		err := reposition(ctx, db, formID, ids[0], target)

		var rangeErr *fault.OutOfRangeError
		require.ErrorAs(t, err, &rangeErr, "target %d", target)
		assert.Equal(t, target, rangeErr.Position)
		assert.Equal(t, 3, rangeErr.Max)
		assert.ErrorIs(t, err, fault.Validation)

		// nothing moved
		assert.Equal(t, ids, layout(t, db, formID))
	}
}

func TestReposition_UnknownItem(t *testing.T) {
	db := testDB(t)
	formID, _ := seedFields(t, db, 3)

	err := reposition(context.Background(), db, formID, "no-such-field", 1)
	assert.ErrorIs(t, err, fault.NotFound)
}

func TestCloseGap(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	formID, ids := seedFields(t, db, 5)

	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM form_field WHERE id = ?`, ids[2]); err != nil {
			return err
		}
		return CloseGap(ctx, tx, FormFields, formID, 3)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{ids[0], ids[1], ids[3], ids[4]}, layout(t, db, formID))
}

func TestCloseGap_LastPosition(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	formID, ids := seedFields(t, db, 3)

	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM form_field WHERE id = ?`, ids[2]); err != nil {
			return err
		}
		return CloseGap(ctx, tx, FormFields, formID, 3)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{ids[0], ids[1]}, layout(t, db, formID))
}

func TestReposition_Concurrent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	formID, ids := seedFields(t, db, 6)

	// Hammer the same sibling set from several goroutines. Whatever
	// interleaving wins, the layout must come out dense 1..n with every
	// field still present.
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				item := ids[(w+i)%len(ids)]
				target := (w*5+i)%len(ids) + 1
				if err := reposition(ctx, db, formID, item, target); err != nil {
					assert.ErrorIs(t, err, fault.Transient)
				}
			}
		}(w)
	}
	wg.Wait()

	final := layout(t, db, formID)
	assert.ElementsMatch(t, ids, final)
}
