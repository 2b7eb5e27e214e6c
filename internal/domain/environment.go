package domain

import (
	"encoding/json"
	"time"
)

// ActionClassType distinguishes how an action class is tracked.
type ActionClassType string

const (
	ActionClassCode      ActionClassType = "code"
	ActionClassNoCode    ActionClassType = "noCode"
	ActionClassAutomatic ActionClassType = "automatic"
)

// Valid reports whether t is a known action class type.
func (t ActionClassType) Valid() bool {
	switch t {
	case ActionClassCode, ActionClassNoCode, ActionClassAutomatic:
		return true
	}
	return false
}

// Environment scopes people, surveys and action classes of one product.
type Environment struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Product carries the branding the widget renders with.
type Product struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	BrandColor           string    `json:"brandColor"`
	HighlightBorderColor string    `json:"highlightBorderColor,omitempty"`
	Placement            string    `json:"placement"`
	ClickOutsideClose    bool      `json:"clickOutsideClose"`
	DarkOverlay          bool      `json:"darkOverlay"`
	ShowSignature        bool      `json:"showSignature"`
	RecontactDays        int       `json:"recontactDays"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// ActionClass is a named event definition used to match survey triggers.
type ActionClass struct {
	ID            string          `json:"id"`
	EnvironmentID string          `json:"environmentId"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Type          ActionClassType `json:"type"`
	NoCodeConfig  json.RawMessage `json:"noCodeConfig,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// AttributeClass names a person attribute within an environment.
type AttributeClass struct {
	ID            string          `json:"id"`
	EnvironmentID string          `json:"environmentId"`
	Name          string          `json:"name"`
	Type          ActionClassType `json:"type"`
	Archived      bool            `json:"archived"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Action is one tracked occurrence of an action class within a session.
type Action struct {
	ID            string            `json:"id"`
	ActionClassID string            `json:"actionClassId"`
	SessionID     string            `json:"sessionId"`
	Properties    map[string]string `json:"properties"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// APIKey authorizes management calls for a single environment.
type APIKey struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environmentId"`
	Label         string    `json:"label"`
	HashedKey     string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Names of the actions the widget tracks on its own.
const (
	ActionExitIntent = "Exit Intent (Desktop)"
	ActionHalfScroll = "50% Scroll"
)

// IsAutomaticAction reports whether name is tracked by the widget itself
// rather than by the host application.
func IsAutomaticAction(name string) bool {
	return name == ActionExitIntent || name == ActionHalfScroll
}
