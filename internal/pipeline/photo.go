package pipeline

import (
	"context"
	"fmt"
	"strings"

	"relay/internal/dispatch"
	"relay/internal/observability"
	"relay/internal/vision"
	"relay/internal/workflow"
)

// PhotoEvent is one new image picked up by the photo watcher.
type PhotoEvent struct {
	Path      string
	Timestamp int64 // unix ms, capture or file time
	Data      []byte
}

// PhotoRunner runs photo workflows against new images. Separate from the
// text pipeline because photos never pass through fetch or transform: the
// image itself is the content and the gate decides per workflow.
type PhotoRunner struct {
	runner  *Runner
	matcher *vision.PersonMatcher
	decider *vision.DecisionMaker
}

func NewPhotoRunner(runner *Runner, matcher *vision.PersonMatcher, decider *vision.DecisionMaker) *PhotoRunner {
	return &PhotoRunner{runner: runner, matcher: matcher, decider: decider}
}

// ProcessPhoto offers ev to every photo workflow. Each workflow keeps its own
// timestamp gate; images at or before the gate are never analyzed for that
// workflow. The gate advances after every analysis regardless of whether the
// image was forwarded, so a re-delivered event can never forward twice.
func (p *PhotoRunner) ProcessPhoto(ctx context.Context, ev PhotoEvent) {
	r := p.runner
	workflows := r.store.LoadPhotoWorkflows(ctx)
	if len(workflows) == 0 {
		r.logger.Debug("no photo workflows")
		return
	}

	for _, wf := range workflows {
		gate := wf.GateTs()
		if ev.Timestamp <= gate {
			r.logger.Debug("photo %s at ts=%d is behind gate=%d for workflow %s", ev.Path, ev.Timestamp, gate, wf.ID)
			r.metrics.RecordPhotoSkipped()
			continue
		}

		p.runOne(ctx, wf, ev)

		next := gate
		if ev.Timestamp > next {
			next = ev.Timestamp
		}
		if err := r.store.AdvancePhotoGate(wf, next); err != nil {
			r.logger.Warn("failed to advance photo gate for workflow %s: %v", wf.ID, err)
		}
	}
}

func (p *PhotoRunner) runOne(ctx context.Context, wf workflow.Workflow, ev PhotoEvent) {
	ctx = observability.ContextWithWorkflowID(ctx, wf.ID)
	r := p.runner

	if len(wf.PhotoPersonEmbeds) > 0 {
		if !p.matcher.Match(ctx, ev.Data, wf.PhotoPersonEmbeds) {
			r.logger.Debug("photo %s did not match %s for workflow %s", ev.Path, wf.PhotoPersonName, wf.ID)
			return
		}
		subject := fmt.Sprintf("Photo matched: %s", wf.PhotoPersonName)
		body := fmt.Sprintf("Automatically forwarding a photo matched to %s.", wf.PhotoPersonName)
		result := r.dispatcher.DispatchPhoto(ctx, wf.Destination, wf.DestinationAccount, subject, body, ev.Data)
		p.recordPhotoResult(ctx, wf, result)
		return
	}

	decision := p.decider.Decide(ctx, ev.Data, wf.Instructions)
	if !decision.Forward {
		r.logger.Debug("photo %s not forwarded for workflow %s: %s", ev.Path, wf.ID, decision.Reason)
		return
	}

	body := "Auto-forwarded based on instruction. Reason: " + decision.Reason
	if decision.Parse != "" {
		body += "\n" + decision.Parse
	}
	result := r.dispatcher.DispatchPhoto(ctx, wf.Destination, wf.DestinationAccount, "Photo matched", strings.TrimSpace(body), ev.Data)
	p.recordPhotoResult(ctx, wf, result)
}

func (p *PhotoRunner) recordPhotoResult(ctx context.Context, wf workflow.Workflow, result dispatch.Result) {
	message := result.Message
	if !result.Success {
		message = result.Err
	}
	p.runner.recorder.Record(ctx, wf, result.Success, message)
}
