// Package responses records survey displays and the responses collected
// from them.
package responses

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/feed"
	"github.com/ashureev/surveysync/internal/identity"
	"github.com/ashureev/surveysync/internal/store"
	"github.com/ashureev/surveysync/internal/telemetry"
)

// DisplayInput creates a display.
type DisplayInput struct {
	SurveyID string
	PersonID string
}

// ResponseInput creates a response.
type ResponseInput struct {
	SurveyID    string
	PersonID    string
	DisplayID   string
	Data        domain.ResponseData
	Finished    bool
	Meta        *domain.ResponseMeta
	SingleUseID string
}

// Service handles displays and responses of one deployment.
type Service struct {
	repo     store.Repository
	capturer telemetry.Capturer
	feed     feed.Publisher
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service. A nil publisher disables the live feed.
func NewService(repo store.Repository, capturer telemetry.Capturer, publisher feed.Publisher, opts ...Option) *Service {
	if capturer == nil {
		capturer = telemetry.Nop{}
	}
	s := &Service{
		repo:     repo,
		capturer: capturer,
		feed:     publisher,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    identity.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDisplay records that a survey was shown.
func (s *Service) CreateDisplay(ctx context.Context, environmentID string, in DisplayInput) (*domain.Display, error) {
	if _, err := s.survey(ctx, environmentID, in.SurveyID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	display := &domain.Display{
		ID:        s.newID(),
		SurveyID:  in.SurveyID,
		PersonID:  in.PersonID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateDisplay(ctx, display); err != nil {
		return nil, err
	}
	s.logger.Debug("Display created", "survey_id", in.SurveyID, "display_id", display.ID)
	return display, nil
}

// UpdateDisplay links a display to the response it produced.
func (s *Service) UpdateDisplay(ctx context.Context, displayID, responseID string) (*domain.Display, error) {
	return s.repo.LinkDisplayResponse(ctx, displayID, responseID)
}

// CreateResponse stores the first answers of a person. The person's
// attributes at this moment are copied onto the response.
func (s *Service) CreateResponse(ctx context.Context, environmentID string, in ResponseInput) (*domain.Response, error) {
	if _, err := s.survey(ctx, environmentID, in.SurveyID); err != nil {
		return nil, err
	}

	if in.SingleUseID != "" {
		used, err := s.repo.GetResponseBySingleUseID(ctx, in.SurveyID, in.SingleUseID)
		if err != nil {
			return nil, err
		}
		if used != nil {
			return nil, domain.NewValidationError("single use link already used", map[string]string{
				"singleUseId": "already used",
			})
		}
	}

	var attributes map[string]string
	if in.PersonID != "" {
		person, err := s.repo.GetPerson(ctx, in.PersonID)
		if err != nil {
			return nil, err
		}
		if person == nil {
			return nil, domain.NotFound("Person", in.PersonID)
		}
		attributes = person.Attributes
	}

	data := in.Data
	if data == nil {
		data = domain.ResponseData{}
	}

	now := s.now().UTC()
	response := &domain.Response{
		ID:               s.newID(),
		SurveyID:         in.SurveyID,
		PersonID:         in.PersonID,
		DisplayID:        in.DisplayID,
		Data:             data,
		Finished:         in.Finished,
		Meta:             in.Meta,
		PersonAttributes: attributes,
		SingleUseID:      in.SingleUseID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateResponse(ctx, response); err != nil {
		return nil, err
	}

	s.capturer.Capture(telemetry.EventResponseCreated, nil)
	s.publish(environmentID, feed.EventResponseCreated, response)
	s.logger.Debug("Response created", "survey_id", in.SurveyID, "response_id", response.ID)
	return response, nil
}

// UpdateResponse merges data into the stored answers and stores finished
// as sent. A response whose survey belongs to another environment is not
// visible.
func (s *Service) UpdateResponse(ctx context.Context, environmentID, responseID string, data domain.ResponseData, finished bool) (*domain.Response, error) {
	existing, err := s.repo.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.NotFound("Response", responseID)
	}
	if _, err := s.survey(ctx, environmentID, existing.SurveyID); err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NotFound("Response", responseID)
		}
		return nil, err
	}

	updated, err := s.repo.UpdateResponse(ctx, responseID, data, finished)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, domain.NotFound("Response", responseID)
	}

	s.publish(environmentID, feed.EventResponseUpdated, updated)
	s.logger.Debug("Response updated", "response_id", responseID, "finished", updated.Finished)
	return updated, nil
}

// ListResponses returns responses of a survey in the environment, newest first.
func (s *Service) ListResponses(ctx context.Context, environmentID, surveyID string, limit, offset int) ([]domain.Response, error) {
	if _, err := s.survey(ctx, environmentID, surveyID); err != nil {
		return nil, err
	}
	return s.repo.ListSurveyResponses(ctx, surveyID, limit, offset)
}

func (s *Service) survey(ctx context.Context, environmentID, surveyID string) (*domain.Survey, error) {
	if surveyID == "" {
		return nil, domain.NewValidationError("Fields are missing or incorrectly formatted", map[string]string{
			"surveyId": "Required",
		})
	}
	survey, err := s.repo.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if survey == nil || survey.EnvironmentID != environmentID {
		return nil, domain.NotFound("Survey", surveyID)
	}
	return survey, nil
}

func (s *Service) publish(environmentID, eventType string, response *domain.Response) {
	if s.feed == nil {
		return
	}
	s.feed.Publish(environmentID, feed.Event{Type: eventType, Response: response})
}
