// Package pipeline orchestrates one trigger event through the
// fetch -> transform -> dispatch chain, one independent run per matching
// workflow. Failures are contained per run; a bad workflow never stops its
// siblings.
package pipeline

import (
	"context"
	"strings"
	"sync"

	"relay/internal/dispatch"
	"relay/internal/execlog"
	"relay/internal/fetch"
	"relay/internal/logging"
	"relay/internal/observability"
	"relay/internal/transform"
	"relay/internal/workflow"
)

// State is a run's position in the pipeline.
type State string

const (
	StateIdle         State = "idle"
	StateMatching     State = "matching"
	StateFetching     State = "fetching"
	StateTransforming State = "transforming"
	StateDispatching  State = "dispatching"
	StateLogged       State = "logged"
	StateAborted      State = "aborted"
)

// Default content for the Maps source when a workflow carries no
// instructions: skip the model entirely and send the fixed arrival note.
const (
	arrivalSubject = "Arrival Update"
	arrivalBody    = "I'm coming home."
)

// Event is an application trigger: a notification arrived from App, with an
// optional title hint used for source content selection.
type Event struct {
	App  string
	Hint string
}

// RunResult is the terminal record of one workflow run.
type RunResult struct {
	Workflow workflow.Workflow
	State    State
	Dispatch dispatch.Result
}

// Runner drives workflow runs.
type Runner struct {
	store       *workflow.Store
	fetcher     *fetch.Fetcher
	transformer *transform.Transformer
	dispatcher  *dispatch.Dispatcher
	recorder    *execlog.Recorder
	metrics     *observability.Metrics
	logger      logging.Logger
}

func NewRunner(
	store *workflow.Store,
	fetcher *fetch.Fetcher,
	transformer *transform.Transformer,
	dispatcher *dispatch.Dispatcher,
	recorder *execlog.Recorder,
	metrics *observability.Metrics,
	logger logging.Logger,
) *Runner {
	return &Runner{
		store:       store,
		fetcher:     fetcher,
		transformer: transformer,
		dispatcher:  dispatcher,
		recorder:    recorder,
		metrics:     metrics,
		logger:      logging.OrNop(logger),
	}
}

// ProcessEvent loads the workflows matching the event's app and runs each.
// Returns after every run finished.
func (r *Runner) ProcessEvent(ctx context.Context, ev Event) []RunResult {
	workflows := r.store.LoadMatching(ctx, ev.App)
	if len(workflows) == 0 {
		r.logger.Debug("no matching workflows for app %q", ev.App)
		return nil
	}
	return r.RunWorkflows(ctx, workflows, ev.Hint)
}

// RunWorkflows runs the given workflows concurrently against one hint. The
// geofence path calls this directly with its pre-matched set.
func (r *Runner) RunWorkflows(ctx context.Context, workflows []workflow.Workflow, hint string) []RunResult {
	results := make([]RunResult, len(workflows))
	var wg sync.WaitGroup
	for i, wf := range workflows {
		wg.Add(1)
		go func(i int, wf workflow.Workflow) {
			defer wg.Done()
			results[i] = r.run(ctx, wf, hint)
		}(i, wf)
	}
	wg.Wait()
	return results
}

func (r *Runner) run(ctx context.Context, wf workflow.Workflow, hint string) RunResult {
	ctx = observability.ContextWithWorkflowID(ctx, wf.ID)
	result := RunResult{Workflow: wf, State: StateFetching}
	r.logger.Debug("executing workflow %s: %s -> %s", wf.ID, wf.Source, wf.Destination)

	content, err := r.fetcher.Fetch(ctx, &wf, hint)
	if err != nil {
		r.logger.Warn("fetch failed for workflow %s: %v", wf.ID, err)
	}
	if content == nil {
		result.State = StateAborted
		r.metrics.RecordPipelineRun(string(StateAborted))
		r.recorder.Record(ctx, wf, false, "Failed to fetch source content")
		return result
	}

	result.State = StateTransforming
	var processed transform.Processed
	if wf.Source == workflow.SourceMaps && strings.TrimSpace(wf.Instructions) == "" {
		processed = transform.Processed{
			Original: *content,
			Subject:  arrivalSubject,
			Body:     arrivalBody,
		}
	} else {
		processed = r.transformer.Transform(ctx, *content, wf.Instructions)
	}

	result.State = StateDispatching
	result.Dispatch = r.dispatcher.Dispatch(ctx, wf.Destination, wf.DestinationAccount, processed)

	message := result.Dispatch.Message
	if !result.Dispatch.Success {
		message = result.Dispatch.Err
	}
	r.recorder.Record(ctx, wf, result.Dispatch.Success, message)
	result.State = StateLogged
	r.metrics.RecordPipelineRun(string(StateLogged))
	return result
}
