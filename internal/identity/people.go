package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/store"
)

// People manages person records: creation, attribute upserts and
// attaching an external user id.
type People struct {
	repo  store.Repository
	now   func() time.Time
	newID func() string
}

// NewPeople creates a people service.
func NewPeople(repo store.Repository) *People {
	return &People{repo: repo, now: time.Now, newID: NewID}
}

// WithClock replaces the time source. Used by tests.
func (p *People) WithClock(now func() time.Time) *People {
	p.now = now
	return p
}

// Create inserts a new anonymous person in environmentID.
func (p *People) Create(ctx context.Context, environmentID string) (*domain.Person, error) {
	now := p.now().UTC()
	person := &domain.Person{
		ID:            p.newID(),
		EnvironmentID: environmentID,
		Attributes:    map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.repo.CreatePerson(ctx, person); err != nil {
		return nil, err
	}
	slog.Debug("Person created", "environment_id", environmentID, "person_id", person.ID)
	return person, nil
}

// Get returns the person with personID, or nil when it does not exist.
func (p *People) Get(ctx context.Context, personID string) (*domain.Person, error) {
	return p.repo.GetPerson(ctx, personID)
}

// GetOrCreate returns the person with personID, creating a new person
// when the lookup fails. A person of another environment counts as a
// miss. created reports whether a new record was made.
func (p *People) GetOrCreate(ctx context.Context, environmentID, personID string) (person *domain.Person, created bool, err error) {
	if personID != "" {
		person, err = p.repo.GetPerson(ctx, personID)
		if err != nil {
			return nil, false, err
		}
		if person != nil && person.EnvironmentID == environmentID {
			return person, false, nil
		}
	}
	person, err = p.Create(ctx, environmentID)
	if err != nil {
		return nil, false, err
	}
	return person, true, nil
}

// SetAttribute upserts key=value on a person. An attribute class of type
// code is created the first time key is used in the environment.
func (p *People) SetAttribute(ctx context.Context, environmentID, personID, key, value string) (*domain.Person, error) {
	person, err := p.repo.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if person == nil || person.EnvironmentID != environmentID {
		return nil, domain.NotFound("Person", personID)
	}

	class, err := p.attributeClass(ctx, environmentID, key)
	if err != nil {
		return nil, err
	}
	if err := p.repo.UpsertPersonAttribute(ctx, personID, class.ID, value); err != nil {
		return nil, err
	}

	updated, err := p.repo.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, domain.NotFound("Person", personID)
	}
	return updated, nil
}

func (p *People) attributeClass(ctx context.Context, environmentID, name string) (*domain.AttributeClass, error) {
	class, err := p.repo.GetAttributeClassByName(ctx, environmentID, name)
	if err != nil || class != nil {
		return class, err
	}

	class = &domain.AttributeClass{
		ID:            p.newID(),
		EnvironmentID: environmentID,
		Name:          name,
		Type:          domain.ActionClassCode,
		CreatedAt:     p.now().UTC(),
	}
	err = p.repo.CreateAttributeClass(ctx, class)
	if err == nil {
		return class, nil
	}
	if !domain.IsValidation(err) {
		return nil, err
	}

	// Lost a race with a concurrent first use of the same key.
	class, err = p.repo.GetAttributeClassByName(ctx, environmentID, name)
	if err != nil {
		return nil, err
	}
	if class == nil {
		return nil, fmt.Errorf("attribute class %q vanished after conflict", name)
	}
	return class, nil
}

// Identify attaches userID to the person behind sessionID. When another
// person of the environment already carries userID, the session is moved
// to that person and the anonymous one is deleted.
func (p *People) Identify(ctx context.Context, environmentID, personID, sessionID, userID string) (*domain.Person, error) {
	current, err := p.repo.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.EnvironmentID != environmentID {
		return nil, domain.NotFound("Person", personID)
	}
	if current.UserID == userID {
		return current, nil
	}

	existing, err := p.repo.GetPersonByUserID(ctx, environmentID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ID != personID {
		session, err := p.repo.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session == nil || session.PersonID != personID {
			return nil, domain.NotFound("Session", sessionID)
		}
		if err := p.repo.ReassignSession(ctx, sessionID, existing.ID); err != nil {
			return nil, err
		}
		if err := p.repo.DeletePerson(ctx, personID); err != nil {
			return nil, err
		}
		slog.Info("Session reattached to identified person",
			"environment_id", environmentID, "person_id", existing.ID, "session_id", sessionID)
		return existing, nil
	}

	if err := p.repo.SetPersonUserID(ctx, personID, userID); err != nil {
		return nil, err
	}
	current.UserID = userID
	current.UpdatedAt = p.now().UTC()
	return current, nil
}
