package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/shared"
)

const surveyColumns = `
	s.id, s.environment_id, s.name, s.type, s.status, s.display_option,
	s.recontact_days, s.auto_close, s.delay, s.questions, s.thank_you_card,
	s.product_overwrites, s.created_at, s.updated_at`

func scanSurvey(row rowScanner) (*domain.Survey, error) {
	var sv domain.Survey
	var status string
	var recontactDays, autoClose sql.NullInt64
	var questions string
	var thankYou, overwrites sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(
		&sv.ID, &sv.EnvironmentID, &sv.Name, &sv.Type, &status, &sv.DisplayOption,
		&recontactDays, &autoClose, &sv.Delay, &questions, &thankYou,
		&overwrites, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	sv.Status = domain.SurveyStatus(status)
	sv.RecontactDays = intPtr(recontactDays)
	sv.AutoClose = intPtr(autoClose)
	sv.Questions = json.RawMessage(questions)
	sv.ThankYouCard = rawJSON(thankYou)
	sv.ProductOverwrites = rawJSON(overwrites)
	sv.CreatedAt = fromMillis(createdAt)
	sv.UpdatedAt = fromMillis(updatedAt)
	sv.Triggers = []string{}
	sv.AttributeFilters = []domain.AttributeFilter{}
	return &sv, nil
}

// GetSurveys retrieves all surveys of an environment in insertion order.
func (s *SQLiteStore) GetSurveys(ctx context.Context, environmentID string) ([]domain.Survey, error) {
	query := `SELECT ` + surveyColumns + ` FROM surveys s WHERE s.environment_id = ? ORDER BY s.rowid`

	rows, err := s.db.QueryContext(ctx, query, environmentID)
	if err != nil {
		return nil, dbError("query surveys", err)
	}
	defer func() { _ = rows.Close() }()

	surveys := []domain.Survey{}
	index := make(map[string]int)
	for rows.Next() {
		sv, err := scanSurvey(rows)
		if err != nil {
			return nil, dbError("scan survey", err)
		}
		index[sv.ID] = len(surveys)
		surveys = append(surveys, *sv)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate surveys", err)
	}
	if len(surveys) == 0 {
		return surveys, nil
	}

	if err := s.loadTriggers(ctx, `s.environment_id = ?`, environmentID, func(surveyID, name string) {
		if i, ok := index[surveyID]; ok {
			surveys[i].Triggers = append(surveys[i].Triggers, name)
		}
	}); err != nil {
		return nil, err
	}
	if err := s.loadFilters(ctx, `s.environment_id = ?`, environmentID, func(surveyID string, f domain.AttributeFilter) {
		if i, ok := index[surveyID]; ok {
			surveys[i].AttributeFilters = append(surveys[i].AttributeFilters, f)
		}
	}); err != nil {
		return nil, err
	}
	return surveys, nil
}

// GetSurvey retrieves a survey by ID.
func (s *SQLiteStore) GetSurvey(ctx context.Context, surveyID string) (*domain.Survey, error) {
	query := `SELECT ` + surveyColumns + ` FROM surveys s WHERE s.id = ?`

	sv, err := scanSurvey(s.db.QueryRowContext(ctx, query, surveyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get survey", err)
	}

	if err := s.loadTriggers(ctx, `s.id = ?`, surveyID, func(_, name string) {
		sv.Triggers = append(sv.Triggers, name)
	}); err != nil {
		return nil, err
	}
	if err := s.loadFilters(ctx, `s.id = ?`, surveyID, func(_ string, f domain.AttributeFilter) {
		sv.AttributeFilters = append(sv.AttributeFilters, f)
	}); err != nil {
		return nil, err
	}
	return sv, nil
}

func (s *SQLiteStore) loadTriggers(ctx context.Context, where string, arg string, add func(surveyID, name string)) error {
	query := `
		SELECT st.survey_id, ac.name
		FROM survey_triggers st
		JOIN surveys s ON s.id = st.survey_id
		JOIN action_classes ac ON ac.id = st.action_class_id
		WHERE ` + where + `
		ORDER BY st.rowid`

	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return dbError("query survey triggers", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var surveyID, name string
		if err := rows.Scan(&surveyID, &name); err != nil {
			return dbError("scan survey trigger", err)
		}
		add(surveyID, name)
	}
	if err := rows.Err(); err != nil {
		return dbError("iterate survey triggers", err)
	}
	return nil
}

func (s *SQLiteStore) loadFilters(ctx context.Context, where string, arg string, add func(surveyID string, f domain.AttributeFilter)) error {
	query := `
		SELECT f.survey_id, f.id, f.attribute_class_id, COALESCE(ac.name, ''), f.condition, f.value
		FROM survey_attribute_filters f
		JOIN surveys s ON s.id = f.survey_id
		LEFT JOIN attribute_classes ac ON ac.id = f.attribute_class_id
		WHERE ` + where + `
		ORDER BY f.rowid`

	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return dbError("query survey filters", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var surveyID, condition string
		var f domain.AttributeFilter
		if err := rows.Scan(&surveyID, &f.ID, &f.AttributeClassID, &f.AttributeClassName, &condition, &f.Value); err != nil {
			return dbError("scan survey filter", err)
		}
		f.Condition = domain.FilterCondition(condition)
		add(surveyID, f)
	}
	if err := rows.Err(); err != nil {
		return dbError("iterate survey filters", err)
	}
	return nil
}

// CreateSurvey inserts a survey with its triggers and attribute filters.
func (s *SQLiteStore) CreateSurvey(ctx context.Context, sv *domain.Survey) error {
	questions := sv.Questions
	if len(questions) == 0 {
		questions = json.RawMessage("[]")
	}

	return s.withTx(ctx, "create survey", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO surveys (id, environment_id, name, type, status, display_option,
				recontact_days, auto_close, delay, questions, thank_you_card, product_overwrites,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sv.ID, sv.EnvironmentID, sv.Name, sv.Type, string(sv.Status), sv.DisplayOption,
			nullInt(sv.RecontactDays), nullInt(sv.AutoClose), sv.Delay, string(questions),
			rawJSONArg(sv.ThankYouCard), rawJSONArg(sv.ProductOverwrites),
			toMillis(sv.CreatedAt), toMillis(sv.UpdatedAt),
		)
		if err != nil {
			return err
		}

		for _, name := range sv.Triggers {
			var actionClassID string
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM action_classes WHERE environment_id = ? AND name = ?`,
				sv.EnvironmentID, name,
			).Scan(&actionClassID)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NewValidationError("Unknown trigger", map[string]string{
					"triggers": fmt.Sprintf("action class %q does not exist", name),
				})
			}
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO survey_triggers (survey_id, action_class_id) VALUES (?, ?)`,
				sv.ID, actionClassID,
			); err != nil {
				return err
			}
		}

		for _, f := range sv.AttributeFilters {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO survey_attribute_filters (id, survey_id, attribute_class_id, condition, value) VALUES (?, ?, ?, ?, ?)`,
				f.ID, sv.ID, f.AttributeClassID, string(f.Condition), f.Value,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateSurveyStatus changes the lifecycle status of a survey.
func (s *SQLiteStore) UpdateSurveyStatus(ctx context.Context, surveyID string, status domain.SurveyStatus) error {
	query := `UPDATE surveys SET status = ?, updated_at = ? WHERE id = ?`
	result, err := s.exec(ctx, "update survey status", query, string(status), toMillis(time.Now()), surveyID)
	if err != nil {
		return err
	}
	return requireRow(result, "Survey", surveyID)
}

// GetActionClasses retrieves all action classes of an environment.
func (s *SQLiteStore) GetActionClasses(ctx context.Context, environmentID string) ([]domain.ActionClass, error) {
	query := `
		SELECT id, environment_id, name, description, type, no_code_config, created_at, updated_at
		FROM action_classes WHERE environment_id = ? ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, environmentID)
	if err != nil {
		return nil, dbError("query action classes", err)
	}
	defer func() { _ = rows.Close() }()

	classes := []domain.ActionClass{}
	for rows.Next() {
		ac, err := scanActionClass(rows)
		if err != nil {
			return nil, dbError("scan action class", err)
		}
		classes = append(classes, *ac)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate action classes", err)
	}
	return classes, nil
}

// GetActionClassByName retrieves an action class by its unique name.
func (s *SQLiteStore) GetActionClassByName(ctx context.Context, environmentID, name string) (*domain.ActionClass, error) {
	query := `
		SELECT id, environment_id, name, description, type, no_code_config, created_at, updated_at
		FROM action_classes WHERE environment_id = ? AND name = ?`

	ac, err := scanActionClass(s.db.QueryRowContext(ctx, query, environmentID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get action class", err)
	}
	return ac, nil
}

func scanActionClass(row rowScanner) (*domain.ActionClass, error) {
	var ac domain.ActionClass
	var description, noCode sql.NullString
	var acType string
	var createdAt, updatedAt int64
	if err := row.Scan(&ac.ID, &ac.EnvironmentID, &ac.Name, &description, &acType, &noCode, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ac.Description = description.String
	ac.Type = domain.ActionClassType(acType)
	ac.NoCodeConfig = rawJSON(noCode)
	ac.CreatedAt = fromMillis(createdAt)
	ac.UpdatedAt = fromMillis(updatedAt)
	return &ac, nil
}

// CreateActionClass inserts an action class.
func (s *SQLiteStore) CreateActionClass(ctx context.Context, ac *domain.ActionClass) error {
	query := `
	INSERT INTO action_classes (id, environment_id, name, description, type, no_code_config, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, "create action class", query,
		ac.ID, ac.EnvironmentID, ac.Name, nullString(ac.Description), string(ac.Type),
		rawJSONArg(ac.NoCodeConfig), toMillis(ac.CreatedAt), toMillis(ac.UpdatedAt),
	)
	return uniqueAsValidation(err, "name", "action class name already exists")
}

// GetAttributeClassByName retrieves an attribute class by its unique name.
func (s *SQLiteStore) GetAttributeClassByName(ctx context.Context, environmentID, name string) (*domain.AttributeClass, error) {
	query := `
		SELECT id, environment_id, name, type, archived, created_at
		FROM attribute_classes WHERE environment_id = ? AND name = ?`

	var ac domain.AttributeClass
	var acType string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, environmentID, name).Scan(
		&ac.ID, &ac.EnvironmentID, &ac.Name, &acType, &ac.Archived, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get attribute class", err)
	}
	ac.Type = domain.ActionClassType(acType)
	ac.CreatedAt = fromMillis(createdAt)
	return &ac, nil
}

// CreateAttributeClass inserts an attribute class.
func (s *SQLiteStore) CreateAttributeClass(ctx context.Context, ac *domain.AttributeClass) error {
	query := `
	INSERT INTO attribute_classes (id, environment_id, name, type, archived, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, "create attribute class", query,
		ac.ID, ac.EnvironmentID, ac.Name, string(ac.Type), boolInt(ac.Archived), toMillis(ac.CreatedAt),
	)
	return uniqueAsValidation(err, "name", "attribute class name already exists")
}

// CreateAction records a tracked action.
func (s *SQLiteStore) CreateAction(ctx context.Context, action *domain.Action) error {
	props, err := marshalJSON(action.Properties)
	if err != nil {
		return dbError("marshal action properties", err)
	}
	if props == nil {
		props = "{}"
	}
	query := `INSERT INTO actions (id, action_class_id, session_id, properties, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err = s.exec(ctx, "create action", query,
		action.ID, action.ActionClassID, action.SessionID, props, toMillis(action.CreatedAt),
	)
	return err
}

func uniqueAsValidation(err error, field, message string) error {
	if err == nil {
		return nil
	}
	if shared.IsUniqueConstraintError(err) {
		return domain.NewValidationError(message, map[string]string{field: message})
	}
	return err
}
