// Package session resolves the person and session of a sync request.
//
// Every request is first classified into a named State from the presence
// and lookup results of its person and session ids. A transition table
// then decides, per State, where the person comes from and whether the
// session is created or extended.
package session

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/identity"
	"github.com/ashureev/surveysync/internal/telemetry"
	"github.com/ashureev/surveysync/internal/tracing"
)

// State is the classification of a sync request's identity inputs.
type State string

const (
	// StateNoPerson: no person id was supplied.
	StateNoPerson State = "NoPerson"
	// StatePersonNoSession: a person id but no session id was supplied.
	StatePersonNoSession State = "PersonNoSession"
	// StateUnknownSession: the session id does not resolve.
	StateUnknownSession State = "UnknownSession"
	// StateOrphanedSession: the session exists but its person does not.
	StateOrphanedSession State = "OrphanedSession"
	// StateExpiredSession: the session and its person exist, session expired.
	StateExpiredSession State = "ExpiredSession"
	// StateValidSession: the session and its person exist, session live.
	StateValidSession State = "ValidSession"
)

type personSource int

const (
	// personCreate always inserts a new person.
	personCreate personSource = iota
	// personLookup resolves the requested person id, creating on miss.
	personLookup
	// personOfSession keeps the person bound to the existing session.
	personOfSession
)

type sessionAction int

const (
	sessionCreate sessionAction = iota
	sessionExtend
)

type transition struct {
	person  personSource
	session sessionAction
}

var transitions = map[State]transition{
	StateNoPerson:        {person: personCreate, session: sessionCreate},
	StatePersonNoSession: {person: personLookup, session: sessionCreate},
	StateUnknownSession:  {person: personLookup, session: sessionCreate},
	StateOrphanedSession: {person: personCreate, session: sessionCreate},
	StateExpiredSession:  {person: personOfSession, session: sessionCreate},
	StateValidSession:    {person: personOfSession, session: sessionExtend},
}

// People is the subset of the people service the manager needs.
type People interface {
	Create(ctx context.Context, environmentID string) (*domain.Person, error)
	Get(ctx context.Context, personID string) (*domain.Person, error)
	GetOrCreate(ctx context.Context, environmentID, personID string) (*domain.Person, bool, error)
}

// Store is the subset of the identity store holding sessions.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	CreateSession(ctx context.Context, session *domain.Session) error
	ExtendSession(ctx context.Context, sessionID string, expiresAt time.Time) (*domain.Session, error)
}

// Request carries the identity inputs of one sync call.
type Request struct {
	EnvironmentID string
	PersonID      string
	SessionID     string
	JSVersion     string
}

// Result is the resolved identity of a sync call.
type Result struct {
	Person  *domain.Person
	Session *domain.Session
	IsNew   bool
	State   State
}

// Manager creates, extends and supersedes sessions.
type Manager struct {
	store     Store
	people    People
	telemetry telemetry.Capturer
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a session manager.
func NewManager(store Store, people People, capturer telemetry.Capturer, opts ...Option) *Manager {
	if capturer == nil {
		capturer = telemetry.Nop{}
	}
	m := &Manager{
		store:     store,
		people:    people,
		telemetry: capturer,
		now:       time.Now,
		newID:     identity.NewID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// classified holds the records loaded while classifying a request.
type classified struct {
	state         State
	session       *domain.Session
	sessionPerson *domain.Person
}

// Classify loads the records named by req and returns its State.
func (m *Manager) Classify(ctx context.Context, req Request) (State, error) {
	c, err := m.classify(ctx, req)
	if err != nil {
		return "", err
	}
	return c.state, nil
}

func (m *Manager) classify(ctx context.Context, req Request) (classified, error) {
	if req.PersonID == "" {
		return classified{state: StateNoPerson}, nil
	}
	if req.SessionID == "" {
		return classified{state: StatePersonNoSession}, nil
	}

	session, err := m.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return classified{}, err
	}
	if session == nil {
		return classified{state: StateUnknownSession}, nil
	}

	person, err := m.people.Get(ctx, session.PersonID)
	if err != nil {
		return classified{}, err
	}
	if person == nil || person.EnvironmentID != req.EnvironmentID {
		return classified{state: StateOrphanedSession, session: session}, nil
	}

	if session.IsExpired(m.now()) {
		return classified{state: StateExpiredSession, session: session, sessionPerson: person}, nil
	}
	return classified{state: StateValidSession, session: session, sessionPerson: person}, nil
}

// Resolve returns the person and session for req, creating or extending
// records as the transition for its State prescribes.
func (m *Manager) Resolve(ctx context.Context, req Request) (result *Result, err error) {
	ctx, span := tracing.Start(ctx, "session.resolve",
		attribute.String("environment_id", req.EnvironmentID),
	)
	defer func() {
		if result != nil {
			span.SetAttributes(
				attribute.String("session.state", string(result.State)),
				attribute.Bool("session.new", result.IsNew),
			)
		}
		tracing.End(span, err)
	}()

	c, err := m.classify(ctx, req)
	if err != nil {
		return nil, err
	}
	t := transitions[c.state]

	var person *domain.Person
	switch t.person {
	case personCreate:
		person, err = m.people.Create(ctx, req.EnvironmentID)
	case personLookup:
		person, _, err = m.people.GetOrCreate(ctx, req.EnvironmentID, req.PersonID)
	case personOfSession:
		person = c.sessionPerson
	}
	if err != nil {
		return nil, err
	}

	result = &Result{Person: person, State: c.state}
	switch t.session {
	case sessionCreate:
		result.Session, err = m.Create(ctx, person.ID, req.JSVersion)
		result.IsNew = true
	case sessionExtend:
		result.Session, err = m.store.ExtendSession(ctx, c.session.ID, domain.SessionExpiry(m.now()))
	}
	if err != nil {
		return nil, err
	}

	m.logger.Debug("Session resolved",
		"environment_id", req.EnvironmentID,
		"person_id", person.ID,
		"session_id", result.Session.ID,
		"state", c.state,
		"new", result.IsNew,
	)
	return result, nil
}

// Create inserts a new session for personID and emits the
// "session created" telemetry event.
func (m *Manager) Create(ctx context.Context, personID, jsVersion string) (*domain.Session, error) {
	now := m.now().UTC()
	session := &domain.Session{
		ID:        m.newID(),
		PersonID:  personID,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: domain.SessionExpiry(now),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	if jsVersion == "" {
		jsVersion = "unknown"
	}
	m.telemetry.Capture(telemetry.EventSessionCreated, map[string]string{"jsVersion": jsVersion})
	return session, nil
}
