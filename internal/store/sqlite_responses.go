package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/surveysync/internal/domain"
)

// CreateDisplay inserts a display.
func (s *SQLiteStore) CreateDisplay(ctx context.Context, d *domain.Display) error {
	query := `INSERT INTO displays (id, survey_id, person_id, response_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, "create display", query,
		d.ID, d.SurveyID, nullString(d.PersonID), nullString(d.ResponseID),
		toMillis(d.CreatedAt), toMillis(d.UpdatedAt),
	)
	return err
}

// LinkDisplayResponse sets the response produced by a display.
func (s *SQLiteStore) LinkDisplayResponse(ctx context.Context, displayID, responseID string) (*domain.Display, error) {
	var display domain.Display
	err := s.withTx(ctx, "link display response", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE displays SET response_id = ?, updated_at = ? WHERE id = ?`,
			responseID, toMillis(time.Now()), displayID,
		)
		if err != nil {
			return err
		}
		if err := requireRow(result, "Display", displayID); err != nil {
			return err
		}

		var personID, linked sql.NullString
		var createdAt, updatedAt int64
		if err := tx.QueryRowContext(ctx,
			`SELECT id, survey_id, person_id, response_id, created_at, updated_at FROM displays WHERE id = ?`, displayID,
		).Scan(&display.ID, &display.SurveyID, &personID, &linked, &createdAt, &updatedAt); err != nil {
			return err
		}
		display.PersonID = personID.String
		display.ResponseID = linked.String
		display.CreatedAt = fromMillis(createdAt)
		display.UpdatedAt = fromMillis(updatedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &display, nil
}

const responseColumns = `
	id, survey_id, person_id, display_id, data, finished, meta,
	person_attributes, single_use_id, created_at, updated_at`

func scanResponse(row rowScanner) (*domain.Response, error) {
	var r domain.Response
	var personID, displayID, meta, personAttrs, singleUse sql.NullString
	var data string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&r.ID, &r.SurveyID, &personID, &displayID, &data, &r.Finished, &meta,
		&personAttrs, &singleUse, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	r.PersonID = personID.String
	r.DisplayID = displayID.String
	r.SingleUseID = singleUse.String
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)

	r.Data = domain.ResponseData{}
	if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
		return nil, fmt.Errorf("decode response data: %w", err)
	}
	if meta.Valid {
		r.Meta = &domain.ResponseMeta{}
		if err := json.Unmarshal([]byte(meta.String), r.Meta); err != nil {
			return nil, fmt.Errorf("decode response meta: %w", err)
		}
	}
	if personAttrs.Valid {
		if err := json.Unmarshal([]byte(personAttrs.String), &r.PersonAttributes); err != nil {
			return nil, fmt.Errorf("decode person attributes: %w", err)
		}
	}
	return &r, nil
}

// CreateResponse inserts a response.
func (s *SQLiteStore) CreateResponse(ctx context.Context, r *domain.Response) error {
	if r.Data == nil {
		r.Data = domain.ResponseData{}
	}
	data, err := marshalJSON(r.Data)
	if err != nil {
		return dbError("marshal response data", err)
	}
	meta, err := marshalJSON(r.Meta)
	if err != nil {
		return dbError("marshal response meta", err)
	}
	var personAttrs any
	if len(r.PersonAttributes) > 0 {
		if personAttrs, err = marshalJSON(r.PersonAttributes); err != nil {
			return dbError("marshal person attributes", err)
		}
	}

	query := `
	INSERT INTO responses (id, survey_id, person_id, display_id, data, finished, meta,
		person_attributes, single_use_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.exec(ctx, "create response", query,
		r.ID, r.SurveyID, nullString(r.PersonID), nullString(r.DisplayID), data, boolInt(r.Finished), meta,
		personAttrs, nullString(r.SingleUseID), toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
	)
	return uniqueAsValidation(err, "singleUseId", "single use link has already been used")
}

// GetResponse retrieves a response by ID.
func (s *SQLiteStore) GetResponse(ctx context.Context, responseID string) (*domain.Response, error) {
	r, err := scanResponse(s.db.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE id = ?`, responseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get response", err)
	}
	return r, nil
}

// GetResponseBySingleUseID retrieves the response that consumed a single-use link.
func (s *SQLiteStore) GetResponseBySingleUseID(ctx context.Context, surveyID, singleUseID string) (*domain.Response, error) {
	r, err := scanResponse(s.db.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM responses WHERE survey_id = ? AND single_use_id = ?`, surveyID, singleUseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get response by single use id", err)
	}
	return r, nil
}

// UpdateResponse merges data into the stored answers and sets finished.
// The read and write happen in one transaction so concurrent partial saves
// never lose keys.
func (s *SQLiteStore) UpdateResponse(ctx context.Context, responseID string, data domain.ResponseData, finished bool) (*domain.Response, error) {
	var updated *domain.Response
	err := s.withTx(ctx, "update response", func(tx *sql.Tx) error {
		current, err := scanResponse(tx.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE id = ?`, responseID))
		if errors.Is(err, sql.ErrNoRows) {
			updated = nil
			return nil
		}
		if err != nil {
			return err
		}

		current.Data = current.Data.Merge(data)
		current.Finished = finished
		current.UpdatedAt = time.Now().UTC()

		encoded, err := json.Marshal(current.Data)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE responses SET data = ?, finished = ?, updated_at = ? WHERE id = ?`,
			string(encoded), boolInt(current.Finished), toMillis(current.UpdatedAt), responseID,
		); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListSurveyResponses returns responses of a survey, newest first.
func (s *SQLiteStore) ListSurveyResponses(ctx context.Context, surveyID string, limit, offset int) ([]domain.Response, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `SELECT ` + responseColumns + ` FROM responses WHERE survey_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, surveyID, limit, offset)
	if err != nil {
		return nil, dbError("query survey responses", err)
	}
	defer func() { _ = rows.Close() }()

	responses := []domain.Response{}
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, dbError("scan survey response", err)
		}
		responses = append(responses, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate survey responses", err)
	}
	return responses, nil
}

// CreateAPIKey inserts a management API key.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	query := `INSERT INTO api_keys (id, environment_id, label, hashed_key, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, "create api key", query,
		key.ID, key.EnvironmentID, key.Label, key.HashedKey, toMillis(key.CreatedAt),
	)
	return uniqueAsValidation(err, "apiKey", "api key already registered")
}

// GetAPIKeyByHash retrieves an API key by its hashed value.
func (s *SQLiteStore) GetAPIKeyByHash(ctx context.Context, hashedKey string) (*domain.APIKey, error) {
	query := `SELECT id, environment_id, label, hashed_key, created_at FROM api_keys WHERE hashed_key = ?`

	var key domain.APIKey
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, hashedKey).Scan(
		&key.ID, &key.EnvironmentID, &key.Label, &key.HashedKey, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get api key", err)
	}
	key.CreatedAt = fromMillis(createdAt)
	return &key, nil
}
