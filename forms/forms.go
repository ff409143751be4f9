// Package forms is the owner-side service for forms and their fields:
// CRUD with the private-form secret invariant, field definition
// validation, dense field ordering, and view recording.
package forms

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/formify/formify/access"
	"github.com/formify/formify/database"
	"github.com/formify/formify/fault"
	"github.com/formify/formify/model"
	"github.com/formify/formify/ordering"
	"github.com/formify/formify/schema"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateForm persists a form with its initial fields in one unit.
// A private form must carry an access secret; the secret is stored
// hashed.
func (s *Service) CreateForm(ctx context.Context, ownerID int64, form model.Form) (*model.Form, error) {
	if !form.IsPublic && form.AccessSecret == "" {
		return nil, fault.New(fault.Validation, "private forms require an access secret")
	}
	for _, field := range form.Fields {
		if err := schema.ValidateDefinition(field); err != nil {
			return nil, err
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	form.ID = id.String()
	form.CreatedBy = ownerID
	form.IsActive = true
	form.CreatedAt = time.Now().UTC()
	form.UpdatedAt = form.CreatedAt

	var secretHash any
	if form.AccessSecret != "" {
		hash, err := access.HashSecret(form.AccessSecret)
		if err != nil {
			return nil, err
		}
		secretHash = hash
	}
	form.AccessSecret = ""

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO form (id, title, description, created_by, is_public, access_secret_hash, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			form.ID, form.Title, form.Description, form.CreatedBy, form.IsPublic,
			secretHash, form.IsActive, form.CreatedAt, form.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "forms.create.insert")
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO form_field (id, form_id, label, type, required, options, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return errors.Wrap(err, "forms.create.fields.prepare")
		}
		defer stmt.Close()

		for i := range form.Fields {
			fieldID, err := uuid.NewV4()
			if err != nil {
				return err
			}
			form.Fields[i].ID = fieldID.String()
			form.Fields[i].FormID = form.ID
			form.Fields[i].Position = i + 1

			opts, err := json.Marshal(form.Fields[i].Options)
			if err != nil {
				return errors.Wrap(err, "forms.create.fields.options")
			}
			_, err = stmt.ExecContext(ctx,
				form.Fields[i].ID, form.ID, form.Fields[i].Label, form.Fields[i].Type,
				form.Fields[i].Required, string(opts), form.Fields[i].Position,
			)
			if err != nil {
				return errors.Wrap(err, "forms.create.fields.insert")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &form, nil
}

// GetForm loads a form with its fields in position order.
func (s *Service) GetForm(ctx context.Context, formID string) (*model.Form, error) {
	form := &model.Form{ID: formID}
	err := s.db.QueryRowContext(ctx, `
		SELECT title, description, created_by, is_public, is_active, created_at, updated_at
		FROM form WHERE id = ?`,
		formID,
	).Scan(&form.Title, &form.Description, &form.CreatedBy, &form.IsPublic,
		&form.IsActive, &form.CreatedAt, &form.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.NotFound, "no such form %s", formID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "forms.get")
	}

	form.Fields, err = s.listFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	return form, nil
}

// ListForms returns the owner's forms, newest first.
func (s *Service) ListForms(ctx context.Context, ownerID int64) ([]model.Form, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, is_public, is_active, created_at, updated_at
		FROM form WHERE created_by = ?
		ORDER BY created_at DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "forms.list")
	}
	defer rows.Close()

	forms := []model.Form{}
	for rows.Next() {
		f := model.Form{CreatedBy: ownerID}
		err := rows.Scan(&f.ID, &f.Title, &f.Description, &f.IsPublic, &f.IsActive, &f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "forms.list.scan")
		}
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

// UpdateForm changes title, description, visibility and active flag.
// Turning a form private requires a secret unless one is already set.
func (s *Service) UpdateForm(ctx context.Context, ownerID int64, form model.Form) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var hasSecret bool
		err := tx.QueryRowContext(ctx,
			`SELECT access_secret_hash IS NOT NULL FROM form WHERE id = ? AND created_by = ?`,
			form.ID, ownerID,
		).Scan(&hasSecret)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.New(fault.NotFound, "no such form %s", form.ID)
		}
		if err != nil {
			return errors.Wrap(err, "forms.update.get")
		}

		if !form.IsPublic && form.AccessSecret == "" && !hasSecret {
			return fault.New(fault.Validation, "private forms require an access secret")
		}

		if form.AccessSecret != "" {
			hash, err := access.HashSecret(form.AccessSecret)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE form SET access_secret_hash = ? WHERE id = ?`,
				hash, form.ID,
			)
			if err != nil {
				return errors.Wrap(err, "forms.update.secret")
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE form SET title = ?, description = ?, is_public = ?, is_active = ?, updated_at = ?
			WHERE id = ?`,
			form.Title, form.Description, form.IsPublic, form.IsActive, time.Now().UTC(), form.ID,
		)
		return errors.Wrap(err, "forms.update")
	})
}

// DeleteForm removes a form; responses, answers and views cascade with
// it.
func (s *Service) DeleteForm(ctx context.Context, ownerID int64, formID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM form WHERE id = ? AND created_by = ?`,
		formID, ownerID,
	)
	if err != nil {
		return errors.Wrap(err, "forms.delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.NotFound, "no such form %s", formID)
	}
	return nil
}

// CreateField validates and appends a field to the owner's form. An
// explicit position repositions it after the append.
func (s *Service) CreateField(ctx context.Context, ownerID int64, field model.Field) (*model.Field, error) {
	if err := schema.ValidateDefinition(field); err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	field.ID = id.String()

	opts, err := json.Marshal(field.Options)
	if err != nil {
		return nil, errors.Wrap(err, "forms.create_field.options")
	}

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.ownFormTx(ctx, tx, ownerID, field.FormID); err != nil {
			return err
		}

		requested := field.Position
		field.Position, err = ordering.Append(ctx, tx, ordering.FormFields, field.FormID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO form_field (id, form_id, label, type, required, options, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			field.ID, field.FormID, field.Label, field.Type, field.Required, string(opts), field.Position,
		)
		if err != nil {
			return errors.Wrap(err, "forms.create_field.insert")
		}

		if requested != 0 && requested != field.Position {
			if err := ordering.Reposition(ctx, tx, ordering.FormFields, field.FormID, field.ID, requested); err != nil {
				return err
			}
			field.Position = requested
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &field, nil
}

// UpdateField changes a field's label, type, required flag or options,
// re-validating the definition.
func (s *Service) UpdateField(ctx context.Context, ownerID int64, field model.Field) error {
	if err := schema.ValidateDefinition(field); err != nil {
		return err
	}

	opts, err := json.Marshal(field.Options)
	if err != nil {
		return errors.Wrap(err, "forms.update_field.options")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE form_field SET label = ?, type = ?, required = ?, options = ?
		WHERE id = ? AND form_id IN (SELECT id FROM form WHERE created_by = ?)`,
		field.Label, field.Type, field.Required, string(opts), field.ID, ownerID,
	)
	if err != nil {
		return errors.Wrap(err, "forms.update_field")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.NotFound, "no such field %s", field.ID)
	}
	return nil
}

// DeleteField removes a field and closes the position gap.
func (s *Service) DeleteField(ctx context.Context, ownerID int64, fieldID string) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var formID string
		var position int
		err := tx.QueryRowContext(ctx, `
			SELECT f.form_id, f.position
			FROM form_field f
			JOIN form ON (form.id = f.form_id)
			WHERE f.id = ? AND form.created_by = ?`,
			fieldID, ownerID,
		).Scan(&formID, &position)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.New(fault.NotFound, "no such field %s", fieldID)
		}
		if err != nil {
			return errors.Wrap(err, "forms.delete_field.get")
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM form_field WHERE id = ?`, fieldID)
		if err != nil {
			return errors.Wrap(err, "forms.delete_field.delete")
		}

		return ordering.CloseGap(ctx, tx, ordering.FormFields, formID, position)
	})
}

// ReorderField moves a field to newPos within its form.
func (s *Service) ReorderField(ctx context.Context, ownerID int64, fieldID string, newPos int) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var formID string
		err := tx.QueryRowContext(ctx, `
			SELECT f.form_id
			FROM form_field f
			JOIN form ON (form.id = f.form_id)
			WHERE f.id = ? AND form.created_by = ?`,
			fieldID, ownerID,
		).Scan(&formID)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.New(fault.NotFound, "no such field %s", fieldID)
		}
		if err != nil {
			return errors.Wrap(err, "forms.reorder_field.get")
		}

		return ordering.Reposition(ctx, tx, ordering.FormFields, formID, fieldID, newPos)
	})
}

// RecordView appends a form view event. Views are analytics-only and
// never mutated.
func (s *Service) RecordView(ctx context.Context, view model.FormView) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO form_view (form_id, viewed_by, ip_address, user_agent, viewed_at)
		VALUES (?, ?, ?, ?, ?)`,
		view.FormID, view.ViewedBy, view.IPAddress, view.UserAgent, time.Now().UTC(),
	)
	return errors.Wrap(err, "forms.record_view")
}

func (s *Service) ownFormTx(ctx context.Context, tx *sql.Tx, ownerID int64, formID string) error {
	var ok bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM form WHERE id = ? AND created_by = ?)`,
		formID, ownerID,
	).Scan(&ok)
	if err != nil {
		return errors.Wrap(err, "forms.get_owner")
	}
	if !ok {
		return fault.New(fault.NotFound, "no such form %s", formID)
	}
	return nil
}

func (s *Service) listFields(ctx context.Context, formID string) ([]model.Field, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, type, required, options, position
		FROM form_field
		WHERE form_id = ?
		ORDER BY position`,
		formID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "forms.get_fields")
	}
	defer rows.Close()

	var fields []model.Field
	for rows.Next() {
		f := model.Field{FormID: formID}
		var opts string
		if err := rows.Scan(&f.ID, &f.Label, &f.Type, &f.Required, &opts, &f.Position); err != nil {
			return nil, errors.Wrap(err, "forms.get_fields.scan")
		}
		if opts != "" {
			if err := json.Unmarshal([]byte(opts), &f.Options); err != nil {
				return nil, errors.Wrap(err, "forms.get_fields.parse_options")
			}
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}
