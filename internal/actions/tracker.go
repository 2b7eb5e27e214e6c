// Package actions records tracked actions against their action class.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/identity"
	"github.com/ashureev/surveysync/internal/store"
)

// Tracker stores actions. The action class is created on first use.
type Tracker struct {
	repo  store.Repository
	now   func() time.Time
	newID func() string
}

// NewTracker creates a Tracker.
func NewTracker(repo store.Repository) *Tracker {
	return &Tracker{repo: repo, now: time.Now, newID: identity.NewID}
}

// WithClock replaces the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Track records one occurrence of the action name in sessionID.
func (t *Tracker) Track(ctx context.Context, environmentID, sessionID, name string, properties map[string]string) (*domain.Action, error) {
	details := map[string]string{}
	if sessionID == "" {
		details["sessionId"] = "Required"
	}
	if name == "" {
		details["name"] = "Required"
	}
	if len(details) > 0 {
		return nil, domain.NewValidationError("Fields are missing or incorrectly formatted", details)
	}

	sess, err := t.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.NotFound("Session", sessionID)
	}

	class, err := t.actionClass(ctx, environmentID, name)
	if err != nil {
		return nil, err
	}

	if properties == nil {
		properties = map[string]string{}
	}
	action := &domain.Action{
		ID:            t.newID(),
		ActionClassID: class.ID,
		SessionID:     sessionID,
		Properties:    properties,
		CreatedAt:     t.now().UTC(),
	}
	if err := t.repo.CreateAction(ctx, action); err != nil {
		return nil, err
	}
	slog.Debug("Action tracked", "environment_id", environmentID, "session_id", sessionID, "action", name)
	return action, nil
}

func (t *Tracker) actionClass(ctx context.Context, environmentID, name string) (*domain.ActionClass, error) {
	class, err := t.repo.GetActionClassByName(ctx, environmentID, name)
	if err != nil || class != nil {
		return class, err
	}

	classType := domain.ActionClassCode
	if domain.IsAutomaticAction(name) {
		classType = domain.ActionClassAutomatic
	}
	now := t.now().UTC()
	class = &domain.ActionClass{
		ID:            t.newID(),
		EnvironmentID: environmentID,
		Name:          name,
		Type:          classType,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = t.repo.CreateActionClass(ctx, class)
	if err == nil {
		return class, nil
	}
	if !domain.IsValidation(err) {
		return nil, err
	}

	class, err = t.repo.GetActionClassByName(ctx, environmentID, name)
	if err != nil {
		return nil, err
	}
	if class == nil {
		return nil, fmt.Errorf("action class %q vanished after conflict", name)
	}
	return class, nil
}
