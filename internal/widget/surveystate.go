package widget

import (
	"sync"

	"github.com/ashureev/surveysync/internal/domain"
)

// SurveyState tracks the ids produced while one survey is rendered and
// the answers given so far.
type SurveyState struct {
	mu         sync.RWMutex
	surveyID   string
	displayID  string
	responseID string
	userID     string
	data       domain.ResponseData
	finished   bool
}

// NewSurveyState creates the state of one render of surveyID.
func NewSurveyState(surveyID, userID string) *SurveyState {
	return &SurveyState{surveyID: surveyID, userID: userID, data: domain.ResponseData{}}
}

// SurveyID returns the rendered survey.
func (s *SurveyState) SurveyID() string {
	return s.surveyID
}

// UserID returns the identified user, if any.
func (s *SurveyState) UserID() string {
	return s.userID
}

// DisplayID returns the display id or "" before the display was created.
func (s *SurveyState) DisplayID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayID
}

// SetDisplayID records the display created for this render.
func (s *SurveyState) SetDisplayID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayID = id
}

// ResponseID returns the response id or "" before the first create.
func (s *SurveyState) ResponseID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.responseID
}

// SetResponseID records the id of the created response.
func (s *SurveyState) SetResponseID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseID = id
}

// Accumulate merges a delivered update into the local copy of the answers.
func (s *SurveyState) Accumulate(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = s.data.Merge(u.Data)
	s.finished = s.finished || u.Finished
}

// Data returns a copy of the answers delivered so far.
func (s *SurveyState) Data() domain.ResponseData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.ResponseData{}.Merge(s.data)
}

// Finished reports whether a finished update was delivered.
func (s *SurveyState) Finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished
}
