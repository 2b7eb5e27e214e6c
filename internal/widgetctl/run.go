package widgetctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/widget"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Retries    int
	RetryDelay time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Play a visitor scenario through the widget runtime",
		Long: `Boot a widget runtime, sync, identify the visitor, set attributes and
track the scenario's actions. Every survey an action renders is answered
with the scenario's answers and closed. A JSON report is printed.

Example:
  widgetctl run --api-host http://localhost:8080 --environment env-1 checkout.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := LoadScenario(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			report, err := RunScenario(ctx, opts, scenario)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().IntVar(&opts.Retries, "retries", widget.DefaultRetryAttempts, "retries per response payload")
	cmd.Flags().DurationVar(&opts.RetryDelay, "retry-delay", time.Second, "pause between response attempts")

	return cmd
}

// Report summarizes a scenario run.
type Report struct {
	Scenario   string         `json:"scenario"`
	InstanceID string         `json:"instanceId"`
	PersonID   string         `json:"personId"`
	SessionID  string         `json:"sessionId"`
	Renders    []RenderReport `json:"renders"`
	Errors     []string       `json:"errors"`
}

// RenderReport describes one rendered survey.
type RenderReport struct {
	Action     string              `json:"action"`
	SurveyID   string              `json:"surveyId"`
	DisplayID  string              `json:"displayId"`
	ResponseID string              `json:"responseId,omitempty"`
	Data       domain.ResponseData `json:"data"`
	Finished   bool                `json:"finished"`
}

// scriptedRenderer hands rendered views back to the scenario runner.
type scriptedRenderer struct {
	mu    sync.Mutex
	views []*widget.SurveyView
}

func (r *scriptedRenderer) Render(_ context.Context, view *widget.SurveyView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, view)
	return nil
}

func (r *scriptedRenderer) take() *widget.SurveyView {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return nil
	}
	view := r.views[0]
	r.views = r.views[1:]
	return view
}

// RunScenario plays scenario against the configured API.
func RunScenario(ctx context.Context, opts *RunOptions, scenario *Scenario) (*Report, error) {
	report := &Report{Scenario: scenario.Name, Renders: []RenderReport{}, Errors: []string{}}
	var errMu sync.Mutex
	collect := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		report.Errors = append(report.Errors, err.Error())
	}

	retries := opts.Retries
	rt, err := widget.NewRuntime(widget.Config{
		APIHost:       opts.APIHost,
		EnvironmentID: opts.EnvironmentID,
		Debug:         opts.Debug,
		RetryAttempts: &retries,
		RetryDelay:    opts.RetryDelay,
	}, widget.WithLogger(opts.logger()), widget.WithErrorHandler(collect))
	if err != nil {
		return nil, err
	}
	report.InstanceID = rt.InstanceID()

	renderer := &scriptedRenderer{}
	w := widget.New(rt, renderer)
	if err := w.Init(ctx); err != nil {
		return nil, fmt.Errorf("sync failed: %w", err)
	}

	if scenario.UserID != "" {
		if err := w.SetUserID(ctx, scenario.UserID); err != nil {
			return nil, fmt.Errorf("set user id: %w", err)
		}
	}

	keys := make([]string, 0, len(scenario.Attributes))
	for key := range scenario.Attributes {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if err := w.SetAttribute(ctx, key, scenario.Attributes[key]); err != nil {
			return nil, fmt.Errorf("set attribute %s: %w", key, err)
		}
	}

	for _, action := range scenario.Actions {
		// Track failures reach the error handler; the run continues.
		_ = w.TrackAction(ctx, action.Name, action.Properties)
		w.Wait()

		view := renderer.take()
		if view == nil {
			continue
		}
		render, err := answer(ctx, view, scenario.Answers)
		if err != nil {
			return nil, err
		}
		render.Action = action.Name
		report.Renders = append(report.Renders, render)
	}

	if state := w.State(); state != nil {
		if state.Person != nil {
			report.PersonID = state.Person.ID
		}
		if state.Session != nil {
			report.SessionID = state.Session.ID
		}
	}
	return report, nil
}

func answer(ctx context.Context, view *widget.SurveyView, answers []Answer) (RenderReport, error) {
	for _, a := range answers {
		if err := view.Respond(widget.Update{Data: a.responseData(), Finished: a.Finished}); err != nil {
			break
		}
	}
	if len(answers) > 0 {
		select {
		case <-view.Queue().Done():
		case <-ctx.Done():
			return RenderReport{}, fmt.Errorf("waiting for survey %s responses: %w", view.Survey.ID, ctx.Err())
		}
	}
	_ = view.Close(ctx)

	state := view.State()
	return RenderReport{
		SurveyID:   view.Survey.ID,
		DisplayID:  state.DisplayID(),
		ResponseID: state.ResponseID(),
		Data:       state.Data(),
		Finished:   state.Finished(),
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
