package domain

import (
	"encoding/json"
	"time"
)

// SurveyStatus is the lifecycle status of a survey.
type SurveyStatus string

const (
	SurveyStatusDraft      SurveyStatus = "draft"
	SurveyStatusInProgress SurveyStatus = "inProgress"
	SurveyStatusPaused     SurveyStatus = "paused"
	SurveyStatusCompleted  SurveyStatus = "completed"
)

// Valid reports whether s is a known status.
func (s SurveyStatus) Valid() bool {
	switch s {
	case SurveyStatusDraft, SurveyStatusInProgress, SurveyStatusPaused, SurveyStatusCompleted:
		return true
	}
	return false
}

// FilterCondition is the comparison applied by an attribute filter.
type FilterCondition string

const (
	ConditionEquals      FilterCondition = "equals"
	ConditionNotEquals   FilterCondition = "notEquals"
	ConditionGreaterThan FilterCondition = "greaterThan"
	ConditionLessThan    FilterCondition = "lessThan"
	ConditionContains    FilterCondition = "contains"
)

// Valid reports whether c is a known condition.
func (c FilterCondition) Valid() bool {
	switch c {
	case ConditionEquals, ConditionNotEquals, ConditionGreaterThan, ConditionLessThan, ConditionContains:
		return true
	}
	return false
}

// AttributeFilter restricts a survey to persons whose attribute matches.
// AttributeClassName is resolved by the store from AttributeClassID.
type AttributeFilter struct {
	ID                 string          `json:"id"`
	AttributeClassID   string          `json:"attributeClassId"`
	AttributeClassName string          `json:"attributeClassName,omitempty"`
	Condition          FilterCondition `json:"condition"`
	Value              string          `json:"value"`
}

// Survey is a configured questionnaire. Triggers are action class names.
type Survey struct {
	ID                string            `json:"id"`
	EnvironmentID     string            `json:"environmentId"`
	Name              string            `json:"name"`
	Type              string            `json:"type"`
	Status            SurveyStatus      `json:"status"`
	Triggers          []string          `json:"triggers"`
	AttributeFilters  []AttributeFilter `json:"attributeFilters"`
	DisplayOption     string            `json:"displayOption"`
	RecontactDays     *int              `json:"recontactDays"`
	AutoClose         *int              `json:"autoClose"`
	Delay             int               `json:"delay"`
	Questions         json.RawMessage   `json:"questions"`
	ThankYouCard      json.RawMessage   `json:"thankYouCard,omitempty"`
	ProductOverwrites json.RawMessage   `json:"productOverwrites,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// HasTrigger reports whether actionName triggers the survey.
func (s *Survey) HasTrigger(actionName string) bool {
	for _, trigger := range s.Triggers {
		if trigger == actionName {
			return true
		}
	}
	return false
}
