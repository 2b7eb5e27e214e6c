// Package domain contains core domain types for the survey sync service.
package domain

import (
	"time"
)

// Person is an anonymous-or-identified visitor of an environment.
type Person struct {
	ID            string            `json:"id"`
	EnvironmentID string            `json:"environmentId"`
	UserID        string            `json:"userId,omitempty"`
	Attributes    map[string]string `json:"attributes"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// IsIdentified returns true if the person carries an external user ID.
func (p *Person) IsIdentified() bool {
	return p != nil && p.UserID != ""
}

// Attribute returns the attribute value stored under name.
func (p *Person) Attribute(name string) (string, bool) {
	if p == nil || p.Attributes == nil {
		return "", false
	}
	v, ok := p.Attributes[name]
	return v, ok
}
