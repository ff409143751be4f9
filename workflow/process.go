package workflow

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/formify/formify/access"
	"github.com/formify/formify/database"
	"github.com/formify/formify/fault"
	"github.com/formify/formify/model"
)

// CreateProcess persists a process. Type must be linear or free; a
// private process requires an access secret, stored hashed.
func (e *Engine) CreateProcess(ctx context.Context, ownerID int64, process model.Process) (*model.Process, error) {
	if process.Type != model.ProcessLinear && process.Type != model.ProcessFree {
		return nil, fault.New(fault.Validation, "process type must be %s or %s", model.ProcessLinear, model.ProcessFree)
	}
	if !process.IsPublic && process.AccessSecret == "" {
		return nil, fault.New(fault.Validation, "private processes require an access secret")
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	process.ID = id.String()
	process.CreatedBy = ownerID
	process.IsActive = true
	process.CreatedAt = time.Now().UTC()
	process.UpdatedAt = process.CreatedAt

	var secretHash any
	if process.AccessSecret != "" {
		hash, err := access.HashSecret(process.AccessSecret)
		if err != nil {
			return nil, err
		}
		secretHash = hash
	}
	process.AccessSecret = ""

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO process (id, title, description, type, created_by, is_public, access_secret_hash, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		process.ID, process.Title, process.Description, process.Type, process.CreatedBy,
		process.IsPublic, secretHash, process.IsActive, process.CreatedAt, process.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "workflow.create_process")
	}
	return &process, nil
}

// GetProcess loads a process with its steps in position order.
func (e *Engine) GetProcess(ctx context.Context, processID string) (*model.Process, error) {
	process, err := e.getProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	process.Steps, err = listSteps(ctx, e.db, processID)
	if err != nil {
		return nil, err
	}
	return process, nil
}

// ListProcesses returns the owner's processes, newest first.
func (e *Engine) ListProcesses(ctx context.Context, ownerID int64) ([]model.Process, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, title, description, type, is_public, is_active, created_at, updated_at
		FROM process WHERE created_by = ?
		ORDER BY created_at DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "workflow.list_processes")
	}
	defer rows.Close()

	processes := []model.Process{}
	for rows.Next() {
		p := model.Process{CreatedBy: ownerID}
		err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Type, &p.IsPublic, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "workflow.list_processes.scan")
		}
		processes = append(processes, p)
	}
	return processes, rows.Err()
}

// UpdateProcess changes title, description, visibility and active
// flag. The process type is fixed at creation: flipping linear to free
// (or back) mid-flight would silently change gating for respondents
// already in progress.
func (e *Engine) UpdateProcess(ctx context.Context, ownerID int64, process model.Process) error {
	return database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var hasSecret bool
		err := tx.QueryRowContext(ctx,
			`SELECT access_secret_hash IS NOT NULL FROM process WHERE id = ? AND created_by = ?`,
			process.ID, ownerID,
		).Scan(&hasSecret)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.New(fault.NotFound, "no such process %s", process.ID)
		}
		if err != nil {
			return errors.Wrap(err, "workflow.update_process.get")
		}

		if !process.IsPublic && process.AccessSecret == "" && !hasSecret {
			return fault.New(fault.Validation, "private processes require an access secret")
		}

		if process.AccessSecret != "" {
			hash, err := access.HashSecret(process.AccessSecret)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE process SET access_secret_hash = ? WHERE id = ?`,
				hash, process.ID,
			)
			if err != nil {
				return errors.Wrap(err, "workflow.update_process.secret")
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE process SET title = ?, description = ?, is_public = ?, is_active = ?, updated_at = ?
			WHERE id = ?`,
			process.Title, process.Description, process.IsPublic, process.IsActive, time.Now().UTC(), process.ID,
		)
		return errors.Wrap(err, "workflow.update_process")
	})
}

// DeleteProcess removes a process; its steps cascade with it.
func (e *Engine) DeleteProcess(ctx context.Context, ownerID int64, processID string) error {
	res, err := e.db.ExecContext(ctx,
		`DELETE FROM process WHERE id = ? AND created_by = ?`,
		processID, ownerID,
	)
	if err != nil {
		return errors.Wrap(err, "workflow.delete_process")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.NotFound, "no such process %s", processID)
	}
	return nil
}
