package domain

import (
	"time"
)

// ResponseData maps question IDs to answers.
type ResponseData map[string]any

// Merge returns a new map holding d overlaid with update. Keys absent from
// update keep their previous value.
func (d ResponseData) Merge(update ResponseData) ResponseData {
	merged := make(ResponseData, len(d)+len(update))
	for k, v := range d {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}

// ResponseMeta describes where a response was collected.
type ResponseMeta struct {
	Source    string `json:"source,omitempty"`
	URL       string `json:"url,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Response is a person's (possibly partial) set of answers to a survey.
type Response struct {
	ID               string            `json:"id"`
	SurveyID         string            `json:"surveyId"`
	PersonID         string            `json:"personId,omitempty"`
	DisplayID        string            `json:"displayId,omitempty"`
	Data             ResponseData      `json:"data"`
	Finished         bool              `json:"finished"`
	Meta             *ResponseMeta     `json:"meta,omitempty"`
	PersonAttributes map[string]string `json:"personAttributes,omitempty"`
	SingleUseID      string            `json:"singleUseId,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Display records one rendering of a survey to a person.
type Display struct {
	ID         string    `json:"id"`
	SurveyID   string    `json:"surveyId"`
	PersonID   string    `json:"personId,omitempty"`
	ResponseID string    `json:"responseId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
