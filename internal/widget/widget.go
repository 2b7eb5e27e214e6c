package widget

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/surveysync/internal/client"
	"github.com/ashureev/surveysync/internal/domain"
)

// ErrNotInitialized is returned by calls that need a synced state.
var ErrNotInitialized = errors.New("widget not initialized")

// Renderer shows a survey to the visitor. Render returns once the survey
// is on screen; the renderer reports answers through view.Respond and
// calls view.Close when the visitor dismisses or completes it.
type Renderer interface {
	Render(ctx context.Context, view *SurveyView) error
}

// Widget syncs state with the API, evaluates tracked actions against the
// eligible surveys and renders at most one survey at a time.
type Widget struct {
	rt       *Runtime
	renderer Renderer

	mu    sync.RWMutex
	state *domain.State

	running atomic.Bool
	renders sync.WaitGroup
	after   func(time.Duration) <-chan time.Time
}

// New creates a widget. Call Init before anything else.
func New(rt *Runtime, renderer Renderer) *Widget {
	return &Widget{rt: rt, renderer: renderer, after: time.After}
}

// Init performs the first sync. A failure leaves the widget unusable.
func (w *Widget) Init(ctx context.Context) error {
	if err := w.Sync(ctx); err != nil {
		return err
	}
	w.rt.logger.Debug("Widget initialized", "environment_id", w.rt.cfg.EnvironmentID)
	return nil
}

// Sync refreshes the state snapshot, reusing the current person and
// session. On failure the previous snapshot is kept.
func (w *Widget) Sync(ctx context.Context) error {
	in := client.SyncInput{JSVersion: Version}
	if state := w.State(); state != nil {
		if state.Person != nil {
			in.PersonID = state.Person.ID
		}
		if state.Session != nil {
			in.SessionID = state.Session.ID
		}
	}

	state, err := w.rt.api.Sync(ctx, in)
	if err != nil {
		return err
	}
	w.setState(state)
	w.rt.logger.Debug("State synced", "surveys", len(state.Surveys))
	return nil
}

// Reset forgets the current person and starts over anonymously.
func (w *Widget) Reset(ctx context.Context) error {
	w.setState(nil)
	return w.Sync(ctx)
}

// State returns the current snapshot or nil before Init.
func (w *Widget) State() *domain.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Widget) setState(state *domain.State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// SetAttribute stores an attribute on the current person.
func (w *Widget) SetAttribute(ctx context.Context, key, value string) error {
	state := w.State()
	if state == nil || state.Person == nil {
		return ErrNotInitialized
	}
	if current, ok := state.Person.Attribute(key); ok && current == value {
		return nil
	}

	updated, err := w.rt.api.SetAttribute(ctx, state.Person.ID, key, value)
	if err != nil {
		return err
	}
	w.setState(updated)
	return nil
}

// SetUserID identifies the current person. The user id of an identified
// person cannot be changed; call Reset first.
func (w *Widget) SetUserID(ctx context.Context, userID string) error {
	state := w.State()
	if state == nil || state.Person == nil || state.Session == nil {
		return ErrNotInitialized
	}
	if state.Person.UserID == userID {
		return nil
	}
	if state.Person.IsIdentified() {
		return domain.NewValidationError("userId cannot be changed", map[string]string{"userId": "already set"})
	}

	updated, err := w.rt.api.SetUserID(ctx, state.Person.ID, state.Session.ID, userID)
	if err != nil {
		return err
	}
	w.setState(updated)
	return nil
}

// TrackAction records an action and renders the first eligible survey it
// triggers. Actions of anonymous persons and automatic actions are not
// sent. A failed POST is returned but does not stop trigger evaluation.
func (w *Widget) TrackAction(ctx context.Context, name string, properties map[string]string) error {
	state := w.State()
	if state == nil {
		return ErrNotInitialized
	}

	var trackErr error
	if state.Person.IsIdentified() && !domain.IsAutomaticAction(name) && state.Session != nil {
		if err := w.rt.api.TrackAction(ctx, state.Session.ID, name, properties); err != nil {
			w.rt.HandleError(err)
			trackErr = err
		} else {
			w.rt.logger.Debug("Action tracked", "action", name)
		}
	}

	for i := range state.Surveys {
		survey := state.Surveys[i]
		if survey.HasTrigger(name) {
			w.trigger(ctx, survey, state)
			break
		}
	}
	return trackErr
}

// Wait blocks until every render started so far has finished its setup.
func (w *Widget) Wait() {
	w.renders.Wait()
}

// Rendering reports whether a survey is currently shown.
func (w *Widget) Rendering() bool {
	return w.running.Load()
}

func (w *Widget) trigger(ctx context.Context, survey domain.Survey, state *domain.State) {
	if !w.running.CompareAndSwap(false, true) {
		w.rt.logger.Debug("Survey already running, skipping", "survey_id", survey.ID)
		return
	}

	w.renders.Add(1)
	go func() {
		defer w.renders.Done()
		if err := w.render(context.WithoutCancel(ctx), survey, state); err != nil {
			w.running.Store(false)
			w.rt.HandleError(err)
		}
	}()
}

func (w *Widget) render(ctx context.Context, survey domain.Survey, state *domain.State) error {
	if survey.Delay > 0 {
		<-w.after(time.Duration(survey.Delay) * time.Second)
	}

	var personID, userID string
	if state.Person != nil {
		personID = state.Person.ID
		userID = state.Person.UserID
	}

	display, err := w.rt.api.CreateDisplay(ctx, survey.ID, personID)
	if err != nil {
		return err
	}

	surveyState := NewSurveyState(survey.ID, userID)
	surveyState.SetDisplayID(display.ID)

	view := &SurveyView{
		Survey:     survey,
		Appearance: ResolveAppearance(state.Product, &survey),
		widget:     w,
		state:      surveyState,
	}
	view.queue = NewResponseQueue(ctx, w.rt.api, surveyState, personID,
		WithRetries(w.rt.retryAttempts()),
		WithRetryDelay(w.rt.cfg.RetryDelay),
		WithDebounce(w.rt.cfg.Debounce),
		WithQueueLogger(w.rt.logger),
		WithFailureHandler(func(_ Update, err error) {
			w.rt.HandleError(err)
		}),
		WithCreatedHandler(func(r *domain.Response) {
			if _, err := w.rt.api.UpdateDisplay(ctx, display.ID, r.ID); err != nil {
				w.rt.logger.Warn("Failed to link display to response", "display_id", display.ID, "error", err)
			}
		}),
	)

	w.rt.logger.Debug("Rendering survey", "survey_id", survey.ID, "display_id", display.ID)
	if err := w.renderer.Render(ctx, view); err != nil {
		view.queue.Close()
		return err
	}

	if survey.AutoClose != nil && *survey.AutoClose > 0 {
		go func() {
			<-w.after(time.Duration(*survey.AutoClose) * time.Second)
			if !view.interacted.Load() {
				_ = view.Close(ctx)
			}
		}()
	}
	return nil
}

// SurveyView is the handle a Renderer uses for one rendered survey.
type SurveyView struct {
	Survey     domain.Survey
	Appearance Appearance

	widget     *Widget
	state      *SurveyState
	queue      *ResponseQueue
	interacted atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

// State returns the ids and answers of this render.
func (v *SurveyView) State() *SurveyState {
	return v.state
}

// Queue returns the response queue of this render.
func (v *SurveyView) Queue() *ResponseQueue {
	return v.queue
}

// Respond enqueues an answer update.
func (v *SurveyView) Respond(u Update) error {
	v.interacted.Store(true)
	return v.queue.Add(u)
}

// Close ends the render: the queue stops, the state is re-synced and a new
// survey may render afterwards. Only the first call has an effect.
func (v *SurveyView) Close(ctx context.Context) error {
	v.closeOnce.Do(func() {
		v.queue.Close()
		w := v.widget
		if err := w.Sync(ctx); err != nil {
			w.rt.HandleError(err)
			v.closeErr = err
		}
		w.running.Store(false)
		w.rt.logger.Debug("Survey closed", "survey_id", v.Survey.ID)
	})
	return v.closeErr
}
