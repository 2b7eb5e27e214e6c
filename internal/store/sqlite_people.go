package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ashureev/surveysync/internal/domain"
)

var _ Repository = (*SQLiteStore)(nil)

// GetEnvironment retrieves an environment by ID.
func (s *SQLiteStore) GetEnvironment(ctx context.Context, environmentID string) (*domain.Environment, error) {
	query := `SELECT id, product_id, type, created_at, updated_at FROM environments WHERE id = ?`

	var env domain.Environment
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, environmentID).Scan(
		&env.ID, &env.ProductID, &env.Type, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get environment", err)
	}

	env.CreatedAt = fromMillis(createdAt)
	env.UpdatedAt = fromMillis(updatedAt)
	return &env, nil
}

// CreateEnvironment inserts an environment.
func (s *SQLiteStore) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	query := `INSERT INTO environments (id, product_id, type, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, "create environment", query,
		env.ID, env.ProductID, env.Type, toMillis(env.CreatedAt), toMillis(env.UpdatedAt),
	)
	return err
}

// GetProductByEnvironmentID retrieves the product owning an environment.
func (s *SQLiteStore) GetProductByEnvironmentID(ctx context.Context, environmentID string) (*domain.Product, error) {
	query := `
		SELECT p.id, p.name, p.brand_color, p.highlight_border_color, p.placement,
		       p.click_outside_close, p.dark_overlay, p.show_signature, p.recontact_days,
		       p.created_at, p.updated_at
		FROM products p
		JOIN environments e ON e.product_id = p.id
		WHERE e.id = ?`

	var p domain.Product
	var highlight sql.NullString
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, environmentID).Scan(
		&p.ID, &p.Name, &p.BrandColor, &highlight, &p.Placement,
		&p.ClickOutsideClose, &p.DarkOverlay, &p.ShowSignature, &p.RecontactDays,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get product by environment", err)
	}

	p.HighlightBorderColor = highlight.String
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

// CreateProduct inserts a product.
func (s *SQLiteStore) CreateProduct(ctx context.Context, p *domain.Product) error {
	query := `
	INSERT INTO products (id, name, brand_color, highlight_border_color, placement,
		click_outside_close, dark_overlay, show_signature, recontact_days, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, "create product", query,
		p.ID, p.Name, p.BrandColor, nullString(p.HighlightBorderColor), p.Placement,
		boolInt(p.ClickOutsideClose), boolInt(p.DarkOverlay), boolInt(p.ShowSignature), p.RecontactDays,
		toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	return err
}

// GetPerson retrieves a person with its non-archived attributes.
func (s *SQLiteStore) GetPerson(ctx context.Context, personID string) (*domain.Person, error) {
	return s.getPersonWhere(ctx, `id = ?`, personID)
}

// GetPersonByUserID retrieves the person carrying userID in an environment.
func (s *SQLiteStore) GetPersonByUserID(ctx context.Context, environmentID, userID string) (*domain.Person, error) {
	return s.getPersonWhere(ctx, `environment_id = ? AND user_id = ?`, environmentID, userID)
}

func (s *SQLiteStore) getPersonWhere(ctx context.Context, where string, args ...any) (*domain.Person, error) {
	query := `SELECT id, environment_id, user_id, created_at, updated_at FROM people WHERE ` + where

	var p domain.Person
	var userID sql.NullString
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.EnvironmentID, &userID, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get person", err)
	}

	p.UserID = userID.String
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)

	attrs, err := s.personAttributes(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Attributes = attrs
	return &p, nil
}

func (s *SQLiteStore) personAttributes(ctx context.Context, personID string) (map[string]string, error) {
	query := `
		SELECT ac.name, a.value
		FROM attributes a
		JOIN attribute_classes ac ON ac.id = a.attribute_class_id
		WHERE a.person_id = ? AND ac.archived = 0`

	rows, err := s.db.QueryContext(ctx, query, personID)
	if err != nil {
		return nil, dbError("query person attributes", err)
	}
	defer func() { _ = rows.Close() }()

	attrs := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, dbError("scan person attribute", err)
		}
		attrs[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate person attributes", err)
	}
	return attrs, nil
}

// CreatePerson inserts a person.
func (s *SQLiteStore) CreatePerson(ctx context.Context, p *domain.Person) error {
	query := `INSERT INTO people (id, environment_id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.exec(ctx, "create person", query,
		p.ID, p.EnvironmentID, nullString(p.UserID), toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	); err != nil {
		return err
	}
	if p.Attributes == nil {
		p.Attributes = map[string]string{}
	}
	return nil
}

// SetPersonUserID stores the external user ID of a person.
func (s *SQLiteStore) SetPersonUserID(ctx context.Context, personID, userID string) error {
	query := `UPDATE people SET user_id = ?, updated_at = ? WHERE id = ?`
	result, err := s.exec(ctx, "set person user id", query, userID, toMillis(time.Now()), personID)
	if err != nil {
		return err
	}
	return requireRow(result, "Person", personID)
}

// DeletePerson removes a person and its attributes.
func (s *SQLiteStore) DeletePerson(ctx context.Context, personID string) error {
	return s.withTx(ctx, "delete person", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM attributes WHERE person_id = ?`, personID); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM people WHERE id = ?`, personID)
		if err != nil {
			return err
		}
		return requireRow(result, "Person", personID)
	})
}

// UpsertPersonAttribute creates or updates one attribute value.
func (s *SQLiteStore) UpsertPersonAttribute(ctx context.Context, personID, attributeClassID, value string) error {
	query := `
	INSERT INTO attributes (person_id, attribute_class_id, value, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(person_id, attribute_class_id) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	now := toMillis(time.Now())
	_, err := s.exec(ctx, "upsert person attribute", query, personID, attributeClassID, value, now, now)
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT id, person_id, created_at, updated_at, expires_at FROM sessions WHERE id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get session", err)
	}
	return session, nil
}

// CreateSession inserts a session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `INSERT INTO sessions (id, person_id, created_at, updated_at, expires_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, "create session", query,
		session.ID, session.PersonID,
		toMillis(session.CreatedAt), toMillis(session.UpdatedAt), toMillis(session.ExpiresAt),
	)
	return err
}

// ExtendSession moves the expiry of a session and returns the updated record.
func (s *SQLiteStore) ExtendSession(ctx context.Context, sessionID string, expiresAt time.Time) (*domain.Session, error) {
	var session *domain.Session
	err := s.withTx(ctx, "extend session", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE sessions SET expires_at = ?, updated_at = ? WHERE id = ?`,
			toMillis(expiresAt), toMillis(time.Now()), sessionID,
		)
		if err != nil {
			return err
		}
		if err := requireRow(result, "Session", sessionID); err != nil {
			return err
		}
		session, err = scanSession(tx.QueryRowContext(ctx,
			`SELECT id, person_id, created_at, updated_at, expires_at FROM sessions WHERE id = ?`, sessionID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ReassignSession binds an existing session to another person.
func (s *SQLiteStore) ReassignSession(ctx context.Context, sessionID, personID string) error {
	query := `UPDATE sessions SET person_id = ?, updated_at = ? WHERE id = ?`
	result, err := s.exec(ctx, "reassign session", query, personID, toMillis(time.Now()), sessionID)
	if err != nil {
		return err
	}
	return requireRow(result, "Session", sessionID)
}

// DeleteExpiredSessions removes sessions that expired before the threshold.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.exec(ctx, "delete expired sessions", `DELETE FROM sessions WHERE expires_at < ?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, dbError("expired sessions rows affected", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var createdAt, updatedAt, expiresAt int64
	if err := row.Scan(&session.ID, &session.PersonID, &createdAt, &updatedAt, &expiresAt); err != nil {
		return nil, err
	}
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	session.ExpiresAt = fromMillis(expiresAt)
	return &session, nil
}

func requireRow(result sql.Result, resource, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if rows == 0 {
		return domain.NotFound(resource, id)
	}
	return nil
}
