package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/identity"
	"github.com/ashureev/surveysync/internal/responses"
	"github.com/ashureev/surveysync/internal/store"
)

// ManagementHandler serves the API-key protected dashboard endpoints.
type ManagementHandler struct {
	repo      store.Repository
	responses *responses.Service
	feed      http.Handler
	now       func() time.Time
}

// NewManagementHandler creates the management handler. feed serves the
// live response websocket.
func NewManagementHandler(repo store.Repository, svc *responses.Service, feed http.Handler) *ManagementHandler {
	return &ManagementHandler{repo: repo, responses: svc, feed: feed, now: time.Now}
}

// RegisterRoutes registers the management routes behind API-key auth.
func (h *ManagementHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/management", func(r chi.Router) {
		r.Use(RequireAPIKey(h.repo))

		r.Get("/me", h.Me)
		r.Post("/environments", h.CreateEnvironment)
		r.Post("/action-classes", h.CreateActionClass)
		r.Post("/attribute-classes", h.CreateAttributeClass)
		r.Get("/surveys", h.ListSurveys)
		r.Post("/surveys", h.CreateSurvey)
		r.Put("/surveys/{surveyId}/status", h.UpdateSurveyStatus)
		r.Get("/surveys/{surveyId}/responses", h.ListResponses)
		if h.feed != nil {
			r.Get("/responses/feed", h.feed.ServeHTTP)
		}
	})
}

type productRequest struct {
	Name                 string `json:"name" validate:"required,max=256"`
	BrandColor           string `json:"brandColor" validate:"omitempty,hexcolor"`
	HighlightBorderColor string `json:"highlightBorderColor" validate:"omitempty,hexcolor"`
	Placement            string `json:"placement" validate:"omitempty,oneof=bottomLeft bottomRight topLeft topRight center"`
	ClickOutsideClose    *bool  `json:"clickOutsideClose"`
	DarkOverlay          bool   `json:"darkOverlay"`
	ShowSignature        *bool  `json:"showSignature"`
	RecontactDays        *int   `json:"recontactDays" validate:"omitempty,min=0,max=365"`
}

type environmentRequest struct {
	Type    string         `json:"type" validate:"omitempty,oneof=production development"`
	Product productRequest `json:"product"`
	Label   string         `json:"label" validate:"max=128"`
}

type environmentResponse struct {
	Environment *domain.Environment `json:"environment"`
	Product     *domain.Product     `json:"product"`
	APIKey      string              `json:"apiKey"`
}

type actionClassRequest struct {
	Name         string          `json:"name" validate:"required,max=256"`
	Description  string          `json:"description" validate:"max=1024"`
	Type         string          `json:"type" validate:"omitempty,actiontype"`
	NoCodeConfig json.RawMessage `json:"noCodeConfig"`
}

type attributeClassRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

type filterRequest struct {
	AttributeClassID string `json:"attributeClassId" validate:"required,id"`
	Condition        string `json:"condition" validate:"required,condition"`
	Value            string `json:"value" validate:"max=1024"`
}

type surveyRequest struct {
	Name              string          `json:"name" validate:"required,max=256"`
	Type              string          `json:"type" validate:"omitempty,oneof=web link"`
	Status            string          `json:"status" validate:"omitempty,surveystatus"`
	Triggers          []string        `json:"triggers" validate:"dive,required"`
	AttributeFilters  []filterRequest `json:"attributeFilters" validate:"dive"`
	DisplayOption     string          `json:"displayOption" validate:"omitempty,oneof=displayOnce displayMultiple respondMultiple"`
	RecontactDays     *int            `json:"recontactDays" validate:"omitempty,min=0"`
	AutoClose         *int            `json:"autoClose" validate:"omitempty,min=0"`
	Delay             int             `json:"delay" validate:"min=0"`
	Questions         json.RawMessage `json:"questions"`
	ThankYouCard      json.RawMessage `json:"thankYouCard"`
	ProductOverwrites json.RawMessage `json:"productOverwrites"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,surveystatus"`
}

// Me handles GET /api/v1/management/me.
func (h *ManagementHandler) Me(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"environmentId": identity.EnvironmentIDFromContext(r.Context()),
		"apiKeyId":      identity.APIKeyIDFromContext(r.Context()),
	})
}

// CreateEnvironment handles POST /api/v1/management/environments. It
// creates a product with one environment and returns a new API key scoped
// to it. The raw key is only ever returned here.
func (h *ManagementHandler) CreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req environmentRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	now := h.now().UTC()

	product := &domain.Product{
		ID:                   identity.NewID(),
		Name:                 req.Product.Name,
		BrandColor:           valueOr(req.Product.BrandColor, "#64748b"),
		HighlightBorderColor: req.Product.HighlightBorderColor,
		Placement:            valueOr(req.Product.Placement, "bottomRight"),
		ClickOutsideClose:    boolOr(req.Product.ClickOutsideClose, true),
		DarkOverlay:          req.Product.DarkOverlay,
		ShowSignature:        boolOr(req.Product.ShowSignature, true),
		RecontactDays:        7,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.Product.RecontactDays != nil {
		product.RecontactDays = *req.Product.RecontactDays
	}
	if err := h.repo.CreateProduct(ctx, product); err != nil {
		WriteError(w, r, err)
		return
	}

	env := &domain.Environment{
		ID:        identity.NewID(),
		ProductID: product.ID,
		Type:      valueOr(req.Type, "production"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateEnvironment(ctx, env); err != nil {
		WriteError(w, r, err)
		return
	}

	raw, err := identity.GenerateAPIKey()
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.repo.CreateAPIKey(ctx, &domain.APIKey{
		ID:            identity.NewID(),
		EnvironmentID: env.ID,
		Label:         valueOr(req.Label, "default"),
		HashedKey:     identity.HashAPIKey(raw),
		CreatedAt:     now,
	}); err != nil {
		WriteError(w, r, err)
		return
	}

	slog.Info("Environment created", "environment_id", env.ID, "product_id", product.ID,
		"created_by", identity.APIKeyIDFromContext(ctx))
	JSON(w, http.StatusCreated, environmentResponse{Environment: env, Product: product, APIKey: raw})
}

// CreateActionClass handles POST /api/v1/management/action-classes.
func (h *ManagementHandler) CreateActionClass(w http.ResponseWriter, r *http.Request) {
	var req actionClassRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	now := h.now().UTC()
	class := &domain.ActionClass{
		ID:            identity.NewID(),
		EnvironmentID: identity.EnvironmentIDFromContext(r.Context()),
		Name:          req.Name,
		Description:   req.Description,
		Type:          domain.ActionClassType(valueOr(req.Type, string(domain.ActionClassCode))),
		NoCodeConfig:  req.NoCodeConfig,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if class.Type == domain.ActionClassNoCode && len(class.NoCodeConfig) == 0 {
		WriteError(w, r, domain.NewValidationError("Fields are missing or incorrectly formatted", map[string]string{
			"noCodeConfig": "Required",
		}))
		return
	}
	if err := h.repo.CreateActionClass(r.Context(), class); err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, class)
}

// CreateAttributeClass handles POST /api/v1/management/attribute-classes.
func (h *ManagementHandler) CreateAttributeClass(w http.ResponseWriter, r *http.Request) {
	var req attributeClassRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	class := &domain.AttributeClass{
		ID:            identity.NewID(),
		EnvironmentID: identity.EnvironmentIDFromContext(r.Context()),
		Name:          req.Name,
		Type:          domain.ActionClassCode,
		CreatedAt:     h.now().UTC(),
	}
	if err := h.repo.CreateAttributeClass(r.Context(), class); err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, class)
}

// ListSurveys handles GET /api/v1/management/surveys.
func (h *ManagementHandler) ListSurveys(w http.ResponseWriter, r *http.Request) {
	surveys, err := h.repo.GetSurveys(r.Context(), identity.EnvironmentIDFromContext(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if surveys == nil {
		surveys = []domain.Survey{}
	}
	JSON(w, http.StatusOK, surveys)
}

// CreateSurvey handles POST /api/v1/management/surveys.
func (h *ManagementHandler) CreateSurvey(w http.ResponseWriter, r *http.Request) {
	var req surveyRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	now := h.now().UTC()
	survey := &domain.Survey{
		ID:                identity.NewID(),
		EnvironmentID:     identity.EnvironmentIDFromContext(r.Context()),
		Name:              req.Name,
		Type:              valueOr(req.Type, "web"),
		Status:            domain.SurveyStatus(valueOr(req.Status, string(domain.SurveyStatusDraft))),
		Triggers:          req.Triggers,
		DisplayOption:     valueOr(req.DisplayOption, "displayOnce"),
		RecontactDays:     req.RecontactDays,
		AutoClose:         req.AutoClose,
		Delay:             req.Delay,
		Questions:         req.Questions,
		ThankYouCard:      req.ThankYouCard,
		ProductOverwrites: req.ProductOverwrites,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, f := range req.AttributeFilters {
		survey.AttributeFilters = append(survey.AttributeFilters, domain.AttributeFilter{
			ID:               identity.NewID(),
			AttributeClassID: f.AttributeClassID,
			Condition:        domain.FilterCondition(f.Condition),
			Value:            f.Value,
		})
	}
	if err := h.repo.CreateSurvey(r.Context(), survey); err != nil {
		WriteError(w, r, err)
		return
	}

	created, err := h.repo.GetSurvey(r.Context(), survey.ID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, created)
}

// UpdateSurveyStatus handles PUT /api/v1/management/surveys/{surveyId}/status.
func (h *ManagementHandler) UpdateSurveyStatus(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyId")
	var req statusRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.authorizeSurvey(r, surveyID); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.repo.UpdateSurveyStatus(r.Context(), surveyID, domain.SurveyStatus(req.Status)); err != nil {
		WriteError(w, r, err)
		return
	}
	survey, err := h.repo.GetSurvey(r.Context(), surveyID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, survey)
}

// ListResponses handles GET /api/v1/management/surveys/{surveyId}/responses.
func (h *ManagementHandler) ListResponses(w http.ResponseWriter, r *http.Request) {
	surveyID := chi.URLParam(r, "surveyId")
	if err := h.authorizeSurvey(r, surveyID); err != nil {
		WriteError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	list, err := h.responses.ListResponses(r.Context(), identity.EnvironmentIDFromContext(r.Context()), surveyID, limit, offset)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Response{}
	}
	JSON(w, http.StatusOK, list)
}

// authorizeSurvey fails with NotFound for unknown surveys and with an
// AuthorizationError for surveys of another environment.
func (h *ManagementHandler) authorizeSurvey(r *http.Request, surveyID string) error {
	if err := pathID("surveyId", surveyID); err != nil {
		return err
	}
	survey, err := h.repo.GetSurvey(r.Context(), surveyID)
	if err != nil {
		return err
	}
	if survey == nil {
		return domain.NotFound("Survey", surveyID)
	}
	if survey.EnvironmentID != identity.EnvironmentIDFromContext(r.Context()) {
		return &domain.AuthorizationError{Message: "You are not authorized to access this survey"}
	}
	return nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError("Fields are missing or incorrectly formatted", map[string]string{
			name: "Must be a non-negative integer",
		})
	}
	return n, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
