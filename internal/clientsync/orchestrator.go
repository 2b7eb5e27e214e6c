// Package clientsync implements the server side of the client sync
// protocol: it reconciles the visitor's person and session and assembles
// the state snapshot the widget renders from.
package clientsync

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/eligibility"
	"github.com/ashureev/surveysync/internal/session"
	"github.com/ashureev/surveysync/internal/telemetry"
	"github.com/ashureev/surveysync/internal/tracing"
)

// Store is the subset of the identity store read while syncing.
type Store interface {
	GetEnvironment(ctx context.Context, environmentID string) (*domain.Environment, error)
	GetPerson(ctx context.Context, personID string) (*domain.Person, error)
	GetSurveys(ctx context.Context, environmentID string) ([]domain.Survey, error)
	GetActionClasses(ctx context.Context, environmentID string) ([]domain.ActionClass, error)
	GetProductByEnvironmentID(ctx context.Context, environmentID string) (*domain.Product, error)
}

// Input is one sync request.
type Input struct {
	EnvironmentID string
	PersonID      string
	SessionID     string
	JSVersion     string
}

// Orchestrator runs sync requests.
type Orchestrator struct {
	store    Store
	sessions *session.Manager
	resolver *eligibility.Resolver
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store Store, sessions *session.Manager, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		sessions: sessions,
		resolver: eligibility.NewResolver(store),
		logger:   logger,
	}
}

// Sync validates the environment, resolves person and session, and
// returns the complete snapshot. No partial snapshot is ever returned.
func (o *Orchestrator) Sync(ctx context.Context, in Input) (state *domain.State, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "clientsync.sync",
		attribute.String("environment_id", in.EnvironmentID),
	)
	defer func() { tracing.End(span, err) }()

	if err := o.RequireEnvironment(ctx, in.EnvironmentID); err != nil {
		return nil, err
	}

	res, err := o.sessions.Resolve(ctx, session.Request{
		EnvironmentID: in.EnvironmentID,
		PersonID:      in.PersonID,
		SessionID:     in.SessionID,
		JSVersion:     in.JSVersion,
	})
	if err != nil {
		return nil, err
	}

	state, err = o.snapshot(ctx, in.EnvironmentID, res.Person, res.Session)
	if err != nil {
		return nil, err
	}

	telemetry.RecordSync(string(res.State), time.Since(start))
	span.SetAttributes(attribute.String("session.state", string(res.State)))
	o.logger.Debug("Sync completed",
		"environment_id", in.EnvironmentID,
		"person_id", res.Person.ID,
		"session_id", res.Session.ID,
		"state", res.State,
		"surveys", len(state.Surveys),
	)
	return state, nil
}

// GetUpdatedState returns a fresh snapshot for an existing person after a
// server-side change such as an attribute update. A new session is opened
// for the person.
func (o *Orchestrator) GetUpdatedState(ctx context.Context, environmentID, personID string) (state *domain.State, err error) {
	ctx, span := tracing.Start(ctx, "clientsync.updated_state",
		attribute.String("environment_id", environmentID),
	)
	defer func() { tracing.End(span, err) }()

	if err := o.RequireEnvironment(ctx, environmentID); err != nil {
		return nil, err
	}

	person, err := o.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if person == nil || person.EnvironmentID != environmentID {
		return nil, domain.NotFound("Person", personID)
	}

	sess, err := o.sessions.Create(ctx, person.ID, "")
	if err != nil {
		return nil, err
	}
	return o.snapshot(ctx, environmentID, person, sess)
}

// RequireEnvironment fails with a ValidationError for an empty id and
// ResourceNotFound when the environment does not exist.
func (o *Orchestrator) RequireEnvironment(ctx context.Context, environmentID string) error {
	if environmentID == "" {
		return domain.NewValidationError("Fields are missing or incorrectly formatted", map[string]string{
			"environmentId": "Required",
		})
	}
	env, err := o.store.GetEnvironment(ctx, environmentID)
	if err != nil {
		return err
	}
	if env == nil {
		return domain.NotFound("Environment", environmentID)
	}
	return nil
}

// snapshot loads surveys, noCode action classes and the product in
// parallel. A missing product fails the whole snapshot.
func (o *Orchestrator) snapshot(ctx context.Context, environmentID string, person *domain.Person, sess *domain.Session) (*domain.State, error) {
	var (
		surveys []domain.Survey
		classes []domain.ActionClass
		product *domain.Product
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		surveys, err = o.resolver.SelectEligibleSurveys(gctx, environmentID, person)
		return err
	})
	g.Go(func() error {
		all, err := o.store.GetActionClasses(gctx, environmentID)
		if err != nil {
			return err
		}
		classes = NoCodeActionClasses(all)
		return nil
	})
	g.Go(func() error {
		var err error
		product, err = o.store.GetProductByEnvironmentID(gctx, environmentID)
		if err != nil {
			return err
		}
		if product == nil {
			return domain.NotFound("ProductByEnvironmentId", environmentID)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &domain.State{
		Person:              person,
		Session:             sess,
		Surveys:             surveys,
		NoCodeActionClasses: classes,
		Product:             product,
	}, nil
}

// NoCodeActionClasses keeps the classes of type noCode.
func NoCodeActionClasses(all []domain.ActionClass) []domain.ActionClass {
	out := make([]domain.ActionClass, 0, len(all))
	for _, ac := range all {
		if ac.Type == domain.ActionClassNoCode {
			out = append(out, ac)
		}
	}
	return out
}
