// Package store provides the identity store: persistence interfaces and
// their SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/ashureev/surveysync/internal/domain"
)

// Repository defines the interface for persisting environments, people,
// sessions, surveys and responses. Get methods return nil, nil when the
// record does not exist. Storage failures are returned as
// *domain.DatabaseError.
type Repository interface {
	// GetEnvironment retrieves an environment by ID.
	GetEnvironment(ctx context.Context, environmentID string) (*domain.Environment, error)

	// CreateEnvironment inserts an environment.
	CreateEnvironment(ctx context.Context, env *domain.Environment) error

	// GetProductByEnvironmentID retrieves the product owning an environment.
	GetProductByEnvironmentID(ctx context.Context, environmentID string) (*domain.Product, error)

	// CreateProduct inserts a product.
	CreateProduct(ctx context.Context, product *domain.Product) error

	// GetPerson retrieves a person with its non-archived attributes.
	GetPerson(ctx context.Context, personID string) (*domain.Person, error)

	// GetPersonByUserID retrieves the person carrying userID in an environment.
	GetPersonByUserID(ctx context.Context, environmentID, userID string) (*domain.Person, error)

	// CreatePerson inserts a person.
	CreatePerson(ctx context.Context, person *domain.Person) error

	// SetPersonUserID stores the external user ID of a person.
	SetPersonUserID(ctx context.Context, personID, userID string) error

	// DeletePerson removes a person and its attributes.
	DeletePerson(ctx context.Context, personID string) error

	// UpsertPersonAttribute creates or updates one attribute value.
	UpsertPersonAttribute(ctx context.Context, personID, attributeClassID, value string) error

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// CreateSession inserts a session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// ExtendSession moves the expiry of a session and returns the updated record.
	ExtendSession(ctx context.Context, sessionID string, expiresAt time.Time) (*domain.Session, error)

	// ReassignSession binds an existing session to another person.
	ReassignSession(ctx context.Context, sessionID, personID string) error

	// DeleteExpiredSessions removes sessions that expired before the threshold.
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	// GetSurveys retrieves all surveys of an environment in insertion order.
	GetSurveys(ctx context.Context, environmentID string) ([]domain.Survey, error)

	// GetSurvey retrieves a survey by ID.
	GetSurvey(ctx context.Context, surveyID string) (*domain.Survey, error)

	// CreateSurvey inserts a survey with its triggers and attribute filters.
	// Trigger names must reference existing action classes of the environment.
	CreateSurvey(ctx context.Context, survey *domain.Survey) error

	// UpdateSurveyStatus changes the lifecycle status of a survey.
	UpdateSurveyStatus(ctx context.Context, surveyID string, status domain.SurveyStatus) error

	// GetActionClasses retrieves all action classes of an environment.
	GetActionClasses(ctx context.Context, environmentID string) ([]domain.ActionClass, error)

	// GetActionClassByName retrieves an action class by its unique name.
	GetActionClassByName(ctx context.Context, environmentID, name string) (*domain.ActionClass, error)

	// CreateActionClass inserts an action class.
	CreateActionClass(ctx context.Context, actionClass *domain.ActionClass) error

	// GetAttributeClassByName retrieves an attribute class by its unique name.
	GetAttributeClassByName(ctx context.Context, environmentID, name string) (*domain.AttributeClass, error)

	// CreateAttributeClass inserts an attribute class.
	CreateAttributeClass(ctx context.Context, attributeClass *domain.AttributeClass) error

	// CreateAction records a tracked action.
	CreateAction(ctx context.Context, action *domain.Action) error

	// CreateDisplay inserts a display.
	CreateDisplay(ctx context.Context, display *domain.Display) error

	// LinkDisplayResponse sets the response produced by a display.
	LinkDisplayResponse(ctx context.Context, displayID, responseID string) (*domain.Display, error)

	// CreateResponse inserts a response.
	CreateResponse(ctx context.Context, response *domain.Response) error

	// GetResponse retrieves a response by ID.
	GetResponse(ctx context.Context, responseID string) (*domain.Response, error)

	// GetResponseBySingleUseID retrieves the response that consumed a single-use link.
	GetResponseBySingleUseID(ctx context.Context, surveyID, singleUseID string) (*domain.Response, error)

	// UpdateResponse merges data into the stored answers and sets finished,
	// atomically. Returns nil, nil if the response does not exist.
	UpdateResponse(ctx context.Context, responseID string, data domain.ResponseData, finished bool) (*domain.Response, error)

	// ListSurveyResponses returns responses of a survey, newest first.
	ListSurveyResponses(ctx context.Context, surveyID string, limit, offset int) ([]domain.Response, error)

	// CreateAPIKey inserts a management API key.
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error

	// GetAPIKeyByHash retrieves an API key by its hashed value.
	GetAPIKeyByHash(ctx context.Context, hashedKey string) (*domain.APIKey, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
