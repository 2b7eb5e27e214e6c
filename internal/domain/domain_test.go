package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{ExpiresAt: SessionExpiry(now)}

	assert.Equal(t, now.Add(time.Hour), s.ExpiresAt)
	assert.False(t, s.IsExpired(now))
	assert.False(t, s.IsExpired(now.Add(time.Hour)), "expiry instant itself is not expired")
	assert.True(t, s.IsExpired(now.Add(time.Hour+time.Millisecond)))
}

func TestResponseDataMergeKeepsPreviousKeys(t *testing.T) {
	prev := ResponseData{"a": 1, "b": "old"}
	merged := prev.Merge(ResponseData{"b": "new", "c": true})

	assert.Equal(t, ResponseData{"a": 1, "b": "new", "c": true}, merged)
	assert.Equal(t, "old", prev["b"], "merge must not mutate the receiver")
}

func TestPersonIsIdentified(t *testing.T) {
	var nilPerson *Person
	assert.False(t, nilPerson.IsIdentified())
	assert.False(t, (&Person{}).IsIdentified())
	assert.True(t, (&Person{UserID: "u-1"}).IsIdentified())
}

func TestSurveyHasTrigger(t *testing.T) {
	s := &Survey{Triggers: []string{"Pageview", "Checkout"}}
	assert.True(t, s.HasTrigger("Checkout"))
	assert.False(t, s.HasTrigger("checkout"))
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", NotFound("Environment", "env-1"))
	require.True(t, IsNotFound(wrapped))
	assert.Equal(t, "Environment with ID env-1 not found", NotFound("Environment", "env-1").Error())

	dbErr := &DatabaseError{Op: "get person", Err: errors.New("disk I/O error")}
	assert.True(t, IsDatabase(fmt.Errorf("sync: %w", dbErr)))
	assert.ErrorContains(t, dbErr, "disk I/O error")

	assert.True(t, IsValidation(NewValidationError("bad", nil)))
	assert.False(t, IsValidation(dbErr))
}
