package widget

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/surveysync/internal/client"
	"github.com/ashureev/surveysync/internal/domain"
)

// DefaultRetryAttempts is the number of retries per payload after the
// first attempt.
const DefaultRetryAttempts = 2

const queueBuffer = 64

// ErrQueueStopped is returned by Add once the queue no longer accepts
// updates: it was closed, halted after a failure or completed.
var ErrQueueStopped = errors.New("response queue stopped")

// ResponseAPI is what the queue needs to deliver responses.
type ResponseAPI interface {
	CreateResponse(ctx context.Context, in client.CreateResponseInput) (*domain.Response, error)
	UpdateResponse(ctx context.Context, responseID string, data domain.ResponseData, finished bool) (*domain.Response, error)
}

// Update is one answer payload produced by the survey UI.
type Update struct {
	Data     domain.ResponseData
	Finished bool
}

func (u Update) merge(next Update) Update {
	return Update{
		Data:     u.Data.Merge(next.Data),
		Finished: u.Finished || next.Finished,
	}
}

// QueueOption configures a ResponseQueue.
type QueueOption func(*ResponseQueue)

// WithRetries sets the retries per payload after the first attempt.
func WithRetries(n int) QueueOption {
	return func(q *ResponseQueue) {
		if n >= 0 {
			q.retries = n
		}
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) QueueOption {
	return func(q *ResponseQueue) { q.retryDelay = d }
}

// WithDebounce merges updates that arrive within d of each other into a
// single request.
func WithDebounce(d time.Duration) QueueOption {
	return func(q *ResponseQueue) { q.debounce = d }
}

// WithFailureHandler is called with the payload that exhausted its
// attempts. The queue halts afterwards.
func WithFailureHandler(fn func(Update, error)) QueueOption {
	return func(q *ResponseQueue) { q.onFailure = fn }
}

// WithCreatedHandler is called once the response has been created.
func WithCreatedHandler(fn func(*domain.Response)) QueueOption {
	return func(q *ResponseQueue) { q.onCreated = fn }
}

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *ResponseQueue) { q.logger = logger }
}

// ResponseQueue delivers the updates of one survey render in order. A
// single worker goroutine sends them: the first delivered payload creates
// the response, later ones update it. Each payload is tried 1+retries
// times; when all attempts fail the failure handler gets the payload and
// the queue halts. Delivery of a finished payload also ends the queue.
type ResponseQueue struct {
	api      ResponseAPI
	state    *SurveyState
	personID string

	retries    int
	retryDelay time.Duration
	debounce   time.Duration
	onFailure  func(Update, error)
	onCreated  func(*domain.Response)
	logger     *slog.Logger

	in        chan Update
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	failed *Update
	unsent *Update
}

// NewResponseQueue starts the worker for one render. In-flight requests
// keep ctx values but are not cancelled by it or by Close.
func NewResponseQueue(ctx context.Context, api ResponseAPI, state *SurveyState, personID string, opts ...QueueOption) *ResponseQueue {
	q := &ResponseQueue{
		api:        api,
		state:      state,
		personID:   personID,
		retries:    DefaultRetryAttempts,
		retryDelay: time.Second,
		logger:     slog.Default(),
		in:         make(chan Update, queueBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run(context.WithoutCancel(ctx))
	return q
}

// Add enqueues an update. It returns ErrQueueStopped once the worker has
// exited.
func (q *ResponseQueue) Add(u Update) error {
	select {
	case <-q.done:
		return ErrQueueStopped
	case <-q.stop:
		return ErrQueueStopped
	default:
	}
	select {
	case q.in <- u:
		return nil
	case <-q.done:
		return ErrQueueStopped
	case <-q.stop:
		return ErrQueueStopped
	}
}

// Close stops processing further updates. A request already in flight
// completes and its result is still recorded in the survey state.
func (q *ResponseQueue) Close() {
	q.closeOnce.Do(func() { close(q.stop) })
}

// Done is closed when the worker has exited.
func (q *ResponseQueue) Done() <-chan struct{} {
	return q.done
}

// Wait blocks until the worker has exited.
func (q *ResponseQueue) Wait() {
	<-q.done
}

// Failed returns the payload that exhausted its attempts, if any.
func (q *ResponseQueue) Failed() (Update, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failed == nil {
		return Update{}, false
	}
	return *q.failed, true
}

// Pending returns the updates that were accepted but never sent, including
// a payload the worker was holding when the queue was closed. It is only
// meaningful after the worker has exited.
func (q *ResponseQueue) Pending() []Update {
	var pending []Update
	q.mu.Lock()
	if q.unsent != nil {
		pending = append(pending, *q.unsent)
		q.unsent = nil
	}
	q.mu.Unlock()
	for {
		select {
		case u := <-q.in:
			pending = append(pending, u)
		default:
			return pending
		}
	}
}

func (q *ResponseQueue) run(ctx context.Context) {
	defer close(q.done)

	for {
		select {
		case <-q.stop:
			return
		default:
		}

		var u Update
		select {
		case <-q.stop:
			return
		case u = <-q.in:
		}
		u, ok := q.collect(u)
		if !ok {
			q.keepUnsent(u)
			return
		}

		if err := q.deliver(ctx, u); err != nil {
			if errors.Is(err, ErrQueueStopped) {
				q.keepUnsent(u)
				return
			}
			q.mu.Lock()
			q.failed = &u
			q.mu.Unlock()
			q.logger.Error("Response delivery failed, halting queue",
				"survey_id", q.state.SurveyID(), "error", err)
			if q.onFailure != nil {
				q.onFailure(u, err)
			}
			return
		}

		if u.Finished {
			q.logger.Debug("Response finished", "survey_id", q.state.SurveyID(), "response_id", q.state.ResponseID())
			return
		}
	}
}

func (q *ResponseQueue) keepUnsent(u Update) {
	q.mu.Lock()
	q.unsent = &u
	q.mu.Unlock()
}

// collect merges updates arriving within the debounce window into u. It
// reports false when the queue was closed meanwhile.
func (q *ResponseQueue) collect(u Update) (Update, bool) {
	if q.debounce <= 0 {
		return u, true
	}
	window := time.After(q.debounce)
	for {
		select {
		case next := <-q.in:
			u = u.merge(next)
			window = time.After(q.debounce)
		case <-window:
			return u, true
		case <-q.stop:
			return u, false
		}
	}
}

func (q *ResponseQueue) deliver(ctx context.Context, u Update) error {
	var lastErr error
	for attempt := 0; attempt <= q.retries; attempt++ {
		if attempt > 0 {
			q.logger.Debug("Retrying response delivery", "attempt", attempt+1, "error", lastErr)
			select {
			case <-time.After(q.retryDelay):
			case <-q.stop:
				return ErrQueueStopped
			}
		}
		if lastErr = q.send(ctx, u); lastErr == nil {
			q.state.Accumulate(u)
			return nil
		}
	}
	return lastErr
}

func (q *ResponseQueue) send(ctx context.Context, u Update) error {
	if responseID := q.state.ResponseID(); responseID != "" {
		_, err := q.api.UpdateResponse(ctx, responseID, u.Data, u.Finished)
		return err
	}

	data := u.Data
	if data == nil {
		data = domain.ResponseData{}
	}
	response, err := q.api.CreateResponse(ctx, client.CreateResponseInput{
		SurveyID:  q.state.SurveyID(),
		DisplayID: q.state.DisplayID(),
		PersonID:  q.personID,
		Data:      data,
		Finished:  u.Finished,
	})
	if err != nil {
		return err
	}
	q.state.SetResponseID(response.ID)
	if q.onCreated != nil {
		q.onCreated(response)
	}
	return nil
}
