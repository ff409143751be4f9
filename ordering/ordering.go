// Package ordering maintains dense, gap-free 1..N positions for
// sibling rows (fields within a form, steps within a process).
//
// Every operation runs inside a caller-supplied transaction, so the
// read of the current layout and the shifts land as one atomic unit;
// concurrent calls on the same sibling set serialize on the store's
// writer lock and re-read positions on retry.
package ordering

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/formify/formify/fault"
)

// Scope names a sibling collection: the table holding the rows and
// the column identifying their shared parent.
type Scope struct {
	Table     string
	ParentCol string
}

var (
	FormFields   = Scope{Table: "form_field", ParentCol: "form_id"}
	ProcessSteps = Scope{Table: "process_step", ParentCol: "process_id"}
)

// Append returns the position for a new sibling: one past the current
// count.
func Append(ctx context.Context, tx *sql.Tx, scope Scope, parentID string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) + 1 FROM `+scope.Table+` WHERE `+scope.ParentCol+` = ?`,
		parentID,
	).Scan(&next)
	if err != nil {
		return 0, errors.Wrap(err, "ordering.append")
	}
	return next, nil
}

// Reposition moves one sibling to newPos and shifts everything between
// its old and new position by one, preserving the dense 1..N layout.
// A target outside [1, N] fails without mutating any position.
func Reposition(ctx context.Context, tx *sql.Tx, scope Scope, parentID, itemID string, newPos int) error {
	var oldPos int
	err := tx.QueryRowContext(ctx,
		`SELECT position FROM `+scope.Table+` WHERE id = ? AND `+scope.ParentCol+` = ?`,
		itemID, parentID,
	).Scan(&oldPos)
	if errors.Is(err, sql.ErrNoRows) {
		return fault.New(fault.NotFound, "no such item %s in %s", itemID, scope.Table)
	}
	if err != nil {
		return errors.Wrap(err, "ordering.reposition.current")
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+scope.Table+` WHERE `+scope.ParentCol+` = ?`,
		parentID,
	).Scan(&count)
	if err != nil {
		return errors.Wrap(err, "ordering.reposition.count")
	}

	if newPos < 1 || newPos > count {
		return &fault.OutOfRangeError{Position: newPos, Max: count}
	}
	if newPos == oldPos {
		return nil
	}

	// Park the moving row at 0 so the range shift cannot collide with
	// it on the (parent, position) unique index.
	_, err = tx.ExecContext(ctx,
		`UPDATE `+scope.Table+` SET position = 0 WHERE id = ?`,
		itemID,
	)
	if err != nil {
		return errors.Wrap(err, "ordering.reposition.park")
	}

	// Shift through negated positions: a plain position±1 range update
	// can trip the unique index mid-statement.
	if newPos > oldPos {
		_, err = tx.ExecContext(ctx,
			`UPDATE `+scope.Table+` SET position = -(position - 1)
			WHERE `+scope.ParentCol+` = ? AND position > ? AND position <= ?`,
			parentID, oldPos, newPos,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE `+scope.Table+` SET position = -(position + 1)
			WHERE `+scope.ParentCol+` = ? AND position >= ? AND position < ?`,
			parentID, newPos, oldPos,
		)
	}
	if err != nil {
		return errors.Wrap(err, "ordering.reposition.shift")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE `+scope.Table+` SET position = -position
		WHERE `+scope.ParentCol+` = ? AND position < 0`,
		parentID,
	)
	if err != nil {
		return errors.Wrap(err, "ordering.reposition.unshift")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE `+scope.Table+` SET position = ? WHERE id = ?`,
		newPos, itemID,
	)
	return errors.Wrap(err, "ordering.reposition.land")
}

// CloseGap decrements every sibling past removedPos by one, restoring
// density after a delete.
func CloseGap(ctx context.Context, tx *sql.Tx, scope Scope, parentID string, removedPos int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE `+scope.Table+` SET position = -(position - 1)
		WHERE `+scope.ParentCol+` = ? AND position > ?`,
		parentID, removedPos,
	)
	if err != nil {
		return errors.Wrap(err, "ordering.close_gap.shift")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE `+scope.Table+` SET position = -position
		WHERE `+scope.ParentCol+` = ? AND position < 0`,
		parentID,
	)
	return errors.Wrap(err, "ordering.close_gap.unshift")
}
