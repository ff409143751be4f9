// Package category tags forms and processes with user-defined
// categories. The link is a loose (kind, id) pair so the ordering and
// workflow cores stay free of categorization concerns.
package category

import (
	"context"
	"database/sql"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/formify/formify/fault"
	"github.com/formify/formify/model"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Create saves a category; names are unique per owner.
func (s *Service) Create(ctx context.Context, ownerID int64, c model.Category) (*model.Category, error) {
	if c.Name == "" {
		return nil, fault.New(fault.Validation, "category name must not be empty")
	}
	c.CreatedBy = ownerID
	c.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO category (name, description, created_by, created_at)
		VALUES (?, ?, ?, ?)`,
		c.Name, c.Description, c.CreatedBy, c.CreatedAt,
	)
	if isConstraint(err) {
		return nil, fault.New(fault.Conflict, "category %q already exists", c.Name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "category.create")
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns the owner's categories by name.
func (s *Service) List(ctx context.Context, ownerID int64) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at
		FROM category WHERE created_by = ?
		ORDER BY name`,
		ownerID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "category.list")
	}
	defer rows.Close()

	categories := []model.Category{}
	for rows.Next() {
		c := model.Category{CreatedBy: ownerID}
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "category.list.scan")
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Delete removes a category and its entity links.
func (s *Service) Delete(ctx context.Context, ownerID, categoryID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM category WHERE id = ? AND created_by = ?`,
		categoryID, ownerID,
	)
	if err != nil {
		return errors.Wrap(err, "category.delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.NotFound, "no such category %d", categoryID)
	}
	return nil
}

// Link tags a form or process with one of the owner's categories.
// Duplicate links conflict.
func (s *Service) Link(ctx context.Context, ownerID int64, link model.CategoryLink) error {
	entityTable, err := entityTable(link.EntityKind)
	if err != nil {
		return err
	}

	var owned bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM category c, `+entityTable+` e
			WHERE c.id = ? AND c.created_by = ?
				AND e.id = ? AND e.created_by = ?
		)`,
		link.CategoryID, ownerID, link.EntityID, ownerID,
	).Scan(&owned)
	if err != nil {
		return errors.Wrap(err, "category.link.get")
	}
	if !owned {
		return fault.New(fault.NotFound, "no such category or %s", link.EntityKind)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_category (entity_kind, entity_id, category_id)
		VALUES (?, ?, ?)`,
		link.EntityKind, link.EntityID, link.CategoryID,
	)
	if isConstraint(err) {
		return fault.New(fault.Conflict, "%s already linked to category %d", link.EntityKind, link.CategoryID)
	}
	return errors.Wrap(err, "category.link")
}

// Unlink removes a tag.
func (s *Service) Unlink(ctx context.Context, ownerID int64, link model.CategoryLink) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM entity_category
		WHERE entity_kind = ? AND entity_id = ? AND category_id = ?
			AND category_id IN (SELECT id FROM category WHERE created_by = ?)`,
		link.EntityKind, link.EntityID, link.CategoryID, ownerID,
	)
	if err != nil {
		return errors.Wrap(err, "category.unlink")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.NotFound, "link not found")
	}
	return nil
}

// ListFor returns the categories tagged on one form or process.
func (s *Service) ListFor(ctx context.Context, entityKind, entityID string) ([]model.Category, error) {
	if _, err := entityTable(entityKind); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.created_by, c.created_at
		FROM entity_category ec
		JOIN category c ON (c.id = ec.category_id)
		WHERE ec.entity_kind = ? AND ec.entity_id = ?
		ORDER BY c.name`,
		entityKind, entityID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "category.list_for")
	}
	defer rows.Close()

	categories := []model.Category{}
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "category.list_for.scan")
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func entityTable(kind string) (string, error) {
	switch kind {
	case model.EntityForm:
		return "form", nil
	case model.EntityProcess:
		return "process", nil
	default:
		return "", fault.New(fault.Validation, "unknown entity kind %q", kind)
	}
}

func isConstraint(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}
