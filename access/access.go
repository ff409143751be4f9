// Package access is the gate in front of private forms and processes:
// secrets are stored bcrypt-hashed, a successful check issues an
// opaque session key that attributes anonymous workflow progress.
package access

import (
	"context"
	"database/sql"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/formify/formify/fault"
	"github.com/formify/formify/model"
)

// HashSecret hashes an access secret for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "access.hash")
	}
	return string(hash), nil
}

// NewSessionKey mints the opaque key handed out after a successful
// access check; anonymous respondents are tracked under it.
func NewSessionKey() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type Gate struct {
	db *sql.DB
}

func NewGate(db *sql.DB) *Gate {
	return &Gate{db: db}
}

// Check verifies the supplied secret against a form's or process's
// stored hash. Public entities always pass; a private entity passes
// only on a bcrypt match.
func (g *Gate) Check(ctx context.Context, entityKind, entityID, secret string) (bool, error) {
	var table string
	switch entityKind {
	case model.EntityForm:
		table = "form"
	case model.EntityProcess:
		table = "process"
	default:
		return false, fault.New(fault.Validation, "unknown entity kind %q", entityKind)
	}

	var isPublic bool
	var hash sql.NullString
	err := g.db.QueryRowContext(ctx,
		`SELECT is_public, access_secret_hash FROM `+table+` WHERE id = ? AND is_active`,
		entityID,
	).Scan(&isPublic, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fault.New(fault.NotFound, "no such %s %s", entityKind, entityID)
	}
	if err != nil {
		return false, errors.Wrap(err, "access.check")
	}

	if isPublic {
		return true, nil
	}
	if !hash.Valid {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(secret)) == nil, nil
}
