package trigger

import (
	"context"
	"math"
	"sync"
	"time"

	"relay/internal/logging"
	"relay/internal/observability"
	"relay/internal/pipeline"
	"relay/internal/workflow"
)

// Transition is a geofence boundary event kind.
type Transition string

const (
	TransitionEnter Transition = "ENTER"
	TransitionExit  Transition = "EXIT"
	TransitionDwell Transition = "DWELL"
)

// DwellDelay is how long a position must loiter inside a region before a
// DWELL transition fires.
const DwellDelay = time.Minute

// TransitionEvent is one reported geofence transition. When the reporting
// layer knows which regions fired it sets IDs; otherwise the position alone
// is matched against registered regions.
type TransitionEvent struct {
	Transition Transition
	IDs        []string
	Latitude   float64
	Longitude  float64
}

// Registrar tracks active geofence regions with the location backend. The
// workflow ID doubles as the region request ID, so transition callbacks can
// name the exact workflows that fired.
type Registrar interface {
	Register(ctx context.Context, id string, g workflow.Geofence) error
	Unregister(ctx context.Context, id string) error
}

// MemoryRegistrar is an in-process Registrar used when no platform location
// service exists: regions live in memory and matching is done by distance.
type MemoryRegistrar struct {
	mu      sync.RWMutex
	regions map[string]workflow.Geofence
}

var _ Registrar = (*MemoryRegistrar)(nil)

func NewMemoryRegistrar() *MemoryRegistrar {
	return &MemoryRegistrar{regions: make(map[string]workflow.Geofence)}
}

func (r *MemoryRegistrar) Register(_ context.Context, id string, g workflow.Geofence) error {
	r.mu.Lock()
	r.regions[id] = g
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistrar) Unregister(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.regions, id)
	r.mu.Unlock()
	return nil
}

// Containing returns the IDs of registered regions that contain the point.
func (r *MemoryRegistrar) Containing(lat, lng float64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, g := range r.regions {
		if HaversineMeters(lat, lng, g.Latitude, g.Longitude) <= g.RadiusMeters {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count reports the number of registered regions.
func (r *MemoryRegistrar) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regions)
}

// WorkflowRunner runs a pre-matched workflow set against one hint.
type WorkflowRunner interface {
	RunWorkflows(ctx context.Context, workflows []workflow.Workflow, hint string) []pipeline.RunResult
}

// GeofenceTrigger matches geofence transitions to Maps workflows and runs
// the pipeline for them.
type GeofenceTrigger struct {
	store     *workflow.Store
	registrar Registrar
	runner    WorkflowRunner
	metrics   *observability.Metrics
	logger    logging.Logger
}

func NewGeofenceTrigger(store *workflow.Store, registrar Registrar, runner WorkflowRunner, metrics *observability.Metrics, logger logging.Logger) *GeofenceTrigger {
	return &GeofenceTrigger{
		store:     store,
		registrar: registrar,
		runner:    runner,
		metrics:   metrics,
		logger:    logging.OrNop(logger),
	}
}

// HandleTransition runs all workflows matching ev. ID matching wins when the
// event names regions; otherwise workflows whose geofence contains the
// reported position match.
func (t *GeofenceTrigger) HandleTransition(ctx context.Context, ev TransitionEvent) []pipeline.RunResult {
	all := t.store.LoadAll(ctx)

	var matched []workflow.Workflow
	if len(ev.IDs) > 0 {
		idSet := make(map[string]struct{}, len(ev.IDs))
		for _, id := range ev.IDs {
			idSet[id] = struct{}{}
		}
		for _, wf := range all {
			if wf.Source != workflow.SourceMaps {
				continue
			}
			if _, ok := idSet[wf.ID]; ok {
				matched = append(matched, wf)
			}
		}
	} else {
		for _, wf := range all {
			if wf.Source != workflow.SourceMaps {
				continue
			}
			g, ok := wf.Geofence()
			if !ok {
				continue
			}
			if HaversineMeters(ev.Latitude, ev.Longitude, g.Latitude, g.Longitude) <= g.RadiusMeters {
				matched = append(matched, wf)
			}
		}
	}

	if len(matched) == 0 {
		t.logger.Debug("no geofence workflows matched transition=%s ids=%v", ev.Transition, ev.IDs)
		t.metrics.RecordTrigger("Maps", "unmatched")
		return nil
	}

	t.logger.Info("geofence trigger transition=%s matched=%d", ev.Transition, len(matched))
	t.metrics.RecordTrigger("Maps", "accepted")
	hint := "Geofence " + string(ev.Transition)
	return t.runner.RunWorkflows(ctx, matched, hint)
}

// ReregisterAll registers a region for every active Maps workflow. Called at
// startup so regions survive process restarts.
func (t *GeofenceTrigger) ReregisterAll(ctx context.Context) int {
	var count int
	for _, wf := range t.store.LoadAll(ctx) {
		if wf.Source != workflow.SourceMaps {
			continue
		}
		g, ok := wf.Geofence()
		if !ok {
			continue
		}
		if err := t.registrar.Register(ctx, wf.ID, g); err != nil {
			t.logger.Warn("failed to register geofence for workflow %s: %v", wf.ID, err)
			continue
		}
		count++
	}
	t.logger.Info("registered %d geofence regions", count)
	return count
}

// RegisterWorkflow adds a region for a newly created workflow.
func (t *GeofenceTrigger) RegisterWorkflow(ctx context.Context, id string, g workflow.Geofence) {
	if err := t.registrar.Register(ctx, id, g); err != nil {
		t.logger.Warn("failed to register geofence for workflow %s: %v", id, err)
	}
}

// UnregisterWorkflow drops the region of a deleted workflow.
func (t *GeofenceTrigger) UnregisterWorkflow(ctx context.Context, id string) {
	if err := t.registrar.Unregister(ctx, id); err != nil {
		t.logger.Warn("failed to unregister geofence for workflow %s: %v", id, err)
	}
}

// EvaluateNow treats the given position as an ENTER for every containing
// region. The scheduler uses this to recover transitions missed while down.
func (t *GeofenceTrigger) EvaluateNow(ctx context.Context, lat, lng float64) []pipeline.RunResult {
	return t.HandleTransition(ctx, TransitionEvent{
		Transition: TransitionEnter,
		Latitude:   lat,
		Longitude:  lng,
	})
}

const earthRadiusMeters = 6371000.0

// HaversineMeters is the great-circle distance between two coordinates.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
