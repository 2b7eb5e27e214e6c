package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/surveysync/internal/actions"
	"github.com/ashureev/surveysync/internal/clientsync"
	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/identity"
	"github.com/ashureev/surveysync/internal/responses"
)

// ClientHandler serves the public endpoints called by the widget.
type ClientHandler struct {
	sync      *clientsync.Orchestrator
	people    *identity.People
	responses *responses.Service
	actions   *actions.Tracker
	isCloud   bool
}

// NewClientHandler creates the widget-facing handler. With isCloud set the
// legacy routes answer 404.
func NewClientHandler(sync *clientsync.Orchestrator, people *identity.People, svc *responses.Service, tracker *actions.Tracker, isCloud bool) *ClientHandler {
	return &ClientHandler{
		sync:      sync,
		people:    people,
		responses: svc,
		actions:   tracker,
		isCloud:   isCloud,
	}
}

// RegisterRoutes registers the legacy and current client routes.
func (h *ClientHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/js", func(r chi.Router) {
		r.Post("/sync", h.LegacySync)
		r.Post("/people/{personId}/set-attribute", h.LegacySetAttribute)
	})

	r.Route("/api/v1/client/{environmentId}", func(r chi.Router) {
		r.Post("/in-app/sync", h.Sync)
		r.Post("/people/{personId}/set-attribute", h.SetAttribute)
		r.Post("/people/{personId}/user-id", h.SetUserID)
		r.Post("/actions", h.TrackAction)
		r.Post("/displays", h.CreateDisplay)
		r.Put("/displays/{displayId}", h.UpdateDisplay)
		r.Post("/responses", h.CreateResponse)
		r.Put("/responses/{responseId}", h.UpdateResponse)
	})
}

type legacySyncRequest struct {
	EnvironmentID string `json:"environmentId" validate:"required,id"`
	PersonID      string `json:"personId" validate:"omitempty,id"`
	SessionID     string `json:"sessionId" validate:"omitempty,id"`
	JSVersion     string `json:"jsVersion" validate:"max=64"`
}

type syncRequest struct {
	PersonID  string `json:"personId" validate:"omitempty,id"`
	SessionID string `json:"sessionId" validate:"omitempty,id"`
	JSVersion string `json:"jsVersion" validate:"max=64"`
}

type setAttributeRequest struct {
	EnvironmentID string `json:"environmentId" validate:"omitempty,id"`
	SessionID     string `json:"sessionId" validate:"omitempty,id"`
	Key           string `json:"key" validate:"required,max=128"`
	Value         string `json:"value" validate:"max=1024"`
}

type userIDRequest struct {
	UserID    string `json:"userId" validate:"required,max=256"`
	SessionID string `json:"sessionId" validate:"required,id"`
}

type actionRequest struct {
	SessionID  string            `json:"sessionId" validate:"required,id"`
	Name       string            `json:"name" validate:"required,max=256"`
	Properties map[string]string `json:"properties"`
}

type displayRequest struct {
	SurveyID string `json:"surveyId" validate:"required,id"`
	PersonID string `json:"personId" validate:"omitempty,id"`
}

type displayUpdateRequest struct {
	ResponseID string `json:"responseId" validate:"required,id"`
}

type responseRequest struct {
	SurveyID    string               `json:"surveyId" validate:"required,id"`
	DisplayID   string               `json:"displayId" validate:"omitempty,id"`
	PersonID    string               `json:"personId" validate:"omitempty,id"`
	Data        domain.ResponseData  `json:"data"`
	Finished    bool                 `json:"finished"`
	Meta        *domain.ResponseMeta `json:"meta"`
	SingleUseID string               `json:"singleUseId" validate:"omitempty,max=128"`
}

type responseUpdateRequest struct {
	Data     domain.ResponseData `json:"data"`
	Finished bool                `json:"finished"`
}

// LegacySync handles POST /api/v1/js/sync.
func (h *ClientHandler) LegacySync(w http.ResponseWriter, r *http.Request) {
	if h.isCloud {
		WriteError(w, r, domain.NotFound("Sync", "/api/v1/js/sync"))
		return
	}
	var req legacySyncRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	h.runSync(w, r, clientsync.Input{
		EnvironmentID: req.EnvironmentID,
		PersonID:      req.PersonID,
		SessionID:     req.SessionID,
		JSVersion:     req.JSVersion,
	})
}

// Sync handles POST /api/v1/client/{environmentId}/in-app/sync.
func (h *ClientHandler) Sync(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environmentId")
	if err := pathID("environmentId", environmentID); err != nil {
		WriteError(w, r, err)
		return
	}
	var req syncRequest
	if err := decode(r, &req, true); err != nil {
		WriteError(w, r, err)
		return
	}
	h.runSync(w, r, clientsync.Input{
		EnvironmentID: environmentID,
		PersonID:      req.PersonID,
		SessionID:     req.SessionID,
		JSVersion:     req.JSVersion,
	})
}

func (h *ClientHandler) runSync(w http.ResponseWriter, r *http.Request, in clientsync.Input) {
	state, err := h.sync.Sync(r.Context(), in)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, state)
}

// LegacySetAttribute handles POST /api/v1/js/people/{personId}/set-attribute.
func (h *ClientHandler) LegacySetAttribute(w http.ResponseWriter, r *http.Request) {
	if h.isCloud {
		WriteError(w, r, domain.NotFound("SetAttribute", "/api/v1/js/people/set-attribute"))
		return
	}
	var req setAttributeRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.EnvironmentID == "" {
		WriteError(w, r, domain.NewValidationError("Fields are missing or incorrectly formatted", map[string]string{
			"environmentId": "Required",
		}))
		return
	}
	h.setAttribute(w, r, req.EnvironmentID, req)
}

// SetAttribute handles POST /api/v1/client/{environmentId}/people/{personId}/set-attribute.
func (h *ClientHandler) SetAttribute(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environmentId")
	if err := pathID("environmentId", environmentID); err != nil {
		WriteError(w, r, err)
		return
	}
	var req setAttributeRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	h.setAttribute(w, r, environmentID, req)
}

func (h *ClientHandler) setAttribute(w http.ResponseWriter, r *http.Request, environmentID string, req setAttributeRequest) {
	personID := chi.URLParam(r, "personId")
	if err := pathID("personId", personID); err != nil {
		WriteError(w, r, err)
		return
	}

	state, err := h.withEnvironment(r.Context(), environmentID, func(ctx context.Context) (*domain.State, error) {
		if _, err := h.people.SetAttribute(ctx, environmentID, personID, req.Key, req.Value); err != nil {
			return nil, err
		}
		return h.sync.GetUpdatedState(ctx, environmentID, personID)
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, state)
}

// SetUserID handles POST /api/v1/client/{environmentId}/people/{personId}/user-id.
func (h *ClientHandler) SetUserID(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environmentId")
	personID := chi.URLParam(r, "personId")
	if err := pathID("environmentId", environmentID); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := pathID("personId", personID); err != nil {
		WriteError(w, r, err)
		return
	}
	var req userIDRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}

	state, err := h.withEnvironment(r.Context(), environmentID, func(ctx context.Context) (*domain.State, error) {
		person, err := h.people.Identify(ctx, environmentID, personID, req.SessionID, req.UserID)
		if err != nil {
			return nil, err
		}
		return h.sync.GetUpdatedState(ctx, environmentID, person.ID)
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, state)
}

func (h *ClientHandler) withEnvironment(ctx context.Context, environmentID string, fn func(context.Context) (*domain.State, error)) (*domain.State, error) {
	if err := h.sync.RequireEnvironment(ctx, environmentID); err != nil {
		return nil, err
	}
	return fn(ctx)
}

// TrackAction handles POST /api/v1/client/{environmentId}/actions.
func (h *ClientHandler) TrackAction(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environmentId")
	if err := pathID("environmentId", environmentID); err != nil {
		WriteError(w, r, err)
		return
	}
	var req actionRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.sync.RequireEnvironment(r.Context(), environmentID); err != nil {
		WriteError(w, r, err)
		return
	}

	action, err := h.actions.Track(r.Context(), environmentID, req.SessionID, req.Name, req.Properties)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, action)
}

// CreateDisplay handles POST /api/v1/client/{environmentId}/displays.
func (h *ClientHandler) CreateDisplay(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environmentId")
	if err := pathID("environmentId", environmentID); err != nil {
		WriteError(w, r, err)
		return
	}
	var req displayRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}

	display, err := h.responses.CreateDisplay(r.Context(), environmentID, responses.DisplayInput{
		SurveyID: req.SurveyID,
		PersonID: req.PersonID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, display)
}

// UpdateDisplay handles PUT /api/v1/client/{environmentId}/displays/{displayId}.
func (h *ClientHandler) UpdateDisplay(w http.ResponseWriter, r *http.Request) {
	displayID := chi.URLParam(r, "displayId")
	if err := pathID("displayId", displayID); err != nil {
		WriteError(w, r, err)
		return
	}
	var req displayUpdateRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}

	display, err := h.responses.UpdateDisplay(r.Context(), displayID, req.ResponseID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, display)
}

// CreateResponse handles POST /api/v1/client/{environmentId}/responses.
func (h *ClientHandler) CreateResponse(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environmentId")
	if err := pathID("environmentId", environmentID); err != nil {
		WriteError(w, r, err)
		return
	}
	var req responseRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}

	response, err := h.responses.CreateResponse(r.Context(), environmentID, responses.ResponseInput{
		SurveyID:    req.SurveyID,
		PersonID:    req.PersonID,
		DisplayID:   req.DisplayID,
		Data:        req.Data,
		Finished:    req.Finished,
		Meta:        req.Meta,
		SingleUseID: req.SingleUseID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, response)
}

// UpdateResponse handles PUT /api/v1/client/{environmentId}/responses/{responseId}.
func (h *ClientHandler) UpdateResponse(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environmentId")
	responseID := chi.URLParam(r, "responseId")
	if err := pathID("responseId", responseID); err != nil {
		WriteError(w, r, err)
		return
	}
	var req responseUpdateRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}

	response, err := h.responses.UpdateResponse(r.Context(), environmentID, responseID, req.Data, req.Finished)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, response)
}
