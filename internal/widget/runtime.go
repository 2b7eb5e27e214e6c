// Package widget is the client runtime embedded next to a host
// application: it syncs state, tracks actions, renders triggered surveys
// and delivers their responses.
package widget

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/surveysync/internal/client"
	"github.com/ashureev/surveysync/internal/domain"
)

// Version is reported to the server as jsVersion.
const Version = "1.0.0"

// API is the part of the public API the widget calls.
type API interface {
	Sync(ctx context.Context, in client.SyncInput) (*domain.State, error)
	SetAttribute(ctx context.Context, personID, key, value string) (*domain.State, error)
	SetUserID(ctx context.Context, personID, sessionID, userID string) (*domain.State, error)
	TrackAction(ctx context.Context, sessionID, name string, properties map[string]string) error
	CreateDisplay(ctx context.Context, surveyID, personID string) (*domain.Display, error)
	UpdateDisplay(ctx context.Context, displayID, responseID string) (*domain.Display, error)
	ResponseAPI
}

// Config holds the settings of one widget instance.
type Config struct {
	APIHost       string
	EnvironmentID string
	Debug         bool

	// RetryAttempts is the number of retries per response payload after
	// the first attempt. Nil means the default of 2.
	RetryAttempts *int
	RetryDelay    time.Duration
	Debounce      time.Duration
}

// ErrorHandler receives errors that cannot be returned to a caller, such
// as failures inside an asynchronous render.
type ErrorHandler func(err error)

// Runtime is the context shared by every widget component: configuration,
// logger, error handler and API client. One is created per page load.
type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	onError    ErrorHandler
	instanceID string
	api        API
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLogger replaces the runtime logger.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.logger = logger }
}

// WithErrorHandler sets the handler for asynchronous errors.
func WithErrorHandler(h ErrorHandler) RuntimeOption {
	return func(rt *Runtime) { rt.onError = h }
}

// WithAPI replaces the HTTP client.
func WithAPI(api API) RuntimeOption {
	return func(rt *Runtime) { rt.api = api }
}

// NewRuntime validates cfg and builds the runtime context.
func NewRuntime(cfg Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg.EnvironmentID == "" {
		return nil, domain.NewValidationError("environmentId is required", map[string]string{"environmentId": "Required"})
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	rt := &Runtime{
		cfg:        cfg,
		instanceID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(rt)
	}

	if rt.api == nil {
		if cfg.APIHost == "" {
			return nil, domain.NewValidationError("apiHost is required", map[string]string{"apiHost": "Required"})
		}
		rt.api = client.New(cfg.APIHost, cfg.EnvironmentID)
	}
	if rt.logger == nil {
		level := slog.LevelWarn
		if cfg.Debug {
			level = slog.LevelDebug
		}
		rt.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	rt.logger = rt.logger.With("instance_id", rt.instanceID)
	if rt.onError == nil {
		rt.onError = func(err error) {
			rt.logger.Error("Widget error", "error", err)
		}
	}
	return rt, nil
}

// Config returns the runtime configuration.
func (rt *Runtime) Config() Config { return rt.cfg }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// InstanceID identifies this runtime in logs.
func (rt *Runtime) InstanceID() string { return rt.instanceID }

// HandleError forwards err to the configured error handler.
func (rt *Runtime) HandleError(err error) {
	if err == nil {
		return
	}
	rt.onError(err)
}

func (rt *Runtime) retryAttempts() int {
	if rt.cfg.RetryAttempts == nil {
		return DefaultRetryAttempts
	}
	return *rt.cfg.RetryAttempts
}

// IsNetworkError reports whether err came from a failed API call.
func IsNetworkError(err error) bool {
	var netErr *client.NetworkError
	return errors.As(err, &netErr)
}
