// Package eligibility decides which surveys of an environment may be shown
// to a person.
//
// Only the survey status and its attribute filters are evaluated. Trigger
// matching happens in the widget, and recontact or auto-close settings are
// passed through for the widget to honor.
package eligibility

import (
	"context"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/tracing"
)

// SurveySource loads the surveys of an environment in storage order.
type SurveySource interface {
	GetSurveys(ctx context.Context, environmentID string) ([]domain.Survey, error)
}

// Resolver selects eligible surveys.
type Resolver struct {
	surveys SurveySource
}

// NewResolver creates a Resolver reading from surveys.
func NewResolver(surveys SurveySource) *Resolver {
	return &Resolver{surveys: surveys}
}

// SelectEligibleSurveys returns the surveys of environmentID that person
// may see, preserving storage order.
func (r *Resolver) SelectEligibleSurveys(ctx context.Context, environmentID string, person *domain.Person) (eligible []domain.Survey, err error) {
	ctx, span := tracing.Start(ctx, "eligibility.select",
		attribute.String("environment_id", environmentID),
	)
	defer func() {
		span.SetAttributes(attribute.Int("surveys.eligible", len(eligible)))
		tracing.End(span, err)
	}()

	surveys, err := r.surveys.GetSurveys(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	return Filter(surveys, person), nil
}

// Filter returns the subset of surveys eligible for person.
func Filter(surveys []domain.Survey, person *domain.Person) []domain.Survey {
	eligible := make([]domain.Survey, 0, len(surveys))
	for _, s := range surveys {
		if IsEligible(&s, person) {
			eligible = append(eligible, s)
		}
	}
	return eligible
}

// IsEligible reports whether survey is in progress and every attribute
// filter holds for person.
func IsEligible(survey *domain.Survey, person *domain.Person) bool {
	if survey.Status != domain.SurveyStatusInProgress {
		return false
	}
	for _, f := range survey.AttributeFilters {
		if !Matches(f, person) {
			return false
		}
	}
	return true
}

// Matches evaluates one filter against the person attribute named by the
// filter's attribute class. A filter whose class could not be resolved
// never matches. A missing attribute only satisfies notEquals.
func Matches(f domain.AttributeFilter, person *domain.Person) bool {
	if f.AttributeClassName == "" {
		return false
	}
	actual, ok := person.Attribute(f.AttributeClassName)

	switch f.Condition {
	case domain.ConditionEquals:
		return ok && actual == f.Value
	case domain.ConditionNotEquals:
		return !ok || actual != f.Value
	case domain.ConditionGreaterThan:
		a, b, numeric := numbers(actual, f.Value, ok)
		return numeric && a > b
	case domain.ConditionLessThan:
		a, b, numeric := numbers(actual, f.Value, ok)
		return numeric && a < b
	case domain.ConditionContains:
		return ok && strings.Contains(actual, f.Value)
	default:
		return false
	}
}

func numbers(actual, expected string, present bool) (float64, float64, bool) {
	if !present {
		return 0, 0, false
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}
