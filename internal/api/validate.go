package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/identity"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("id", func(fl validator.FieldLevel) bool {
		return identity.IsValidID(fl.Field().String())
	})
	_ = v.RegisterValidation("surveystatus", func(fl validator.FieldLevel) bool {
		return domain.SurveyStatus(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("condition", func(fl validator.FieldLevel) bool {
		return domain.FilterCondition(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("actiontype", func(fl validator.FieldLevel) bool {
		return domain.ActionClassType(fl.Field().String()).Valid()
	})
	return v
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.NewValidationError(err.Error(), nil)
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fieldPath(fe.Namespace())] = describe(fe)
	}
	return domain.NewValidationError("Fields are missing or incorrectly formatted", details)
}

// fieldPath drops the struct name prefix from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Required"
	case "id":
		return "Invalid id"
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	case "oneof":
		return "Must be one of " + fe.Param()
	default:
		return "Invalid value"
	}
}

// pathID validates an id taken from the URL.
func pathID(name, value string) error {
	if !identity.IsValidID(value) {
		return domain.NewValidationError("Fields are missing or incorrectly formatted", map[string]string{
			name: "Invalid id",
		})
	}
	return nil
}
