// Package api provides HTTP handlers for the survey sync API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/surveysync/internal/domain"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	JSON(w, status, ErrorBody{Code: code, Message: message, Details: details})
}

// WriteError maps a typed error to its HTTP status and writes it.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *domain.ValidationError
		notFound   *domain.ResourceNotFoundError
		authn      *domain.AuthenticationError
		authz      *domain.AuthorizationError
	)
	switch {
	case errors.As(err, &validation):
		Error(w, http.StatusBadRequest, "bad_request", validation.Message, validation.Details)
	case errors.As(err, &notFound):
		Error(w, http.StatusNotFound, "not_found", notFound.Error(), map[string]string{
			"resource_id":   notFound.ID,
			"resource_type": notFound.Resource,
		})
	case errors.As(err, &authn):
		Error(w, http.StatusUnauthorized, "not_authenticated", authn.Message, nil)
	case errors.As(err, &authz):
		Error(w, http.StatusForbidden, "forbidden", authz.Message, nil)
	default:
		slog.Error("Request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		Error(w, http.StatusInternalServerError, "internal_server_error", "Unable to complete request", nil)
	}
}

// decode reads a JSON body into v and validates it. An empty body is
// accepted when allowEmpty is set.
func decode(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return domain.NewValidationError("Malformed JSON input, please check your request", nil)
		}
	}
	return validateStruct(v)
}
