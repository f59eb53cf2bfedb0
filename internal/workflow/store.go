package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"relay/internal/logging"
)

// ErrNotFound reports a workflow id with no local record.
var ErrNotFound = errors.New("workflow not found")

// RemoteStore loads workflow definitions from a remote backend. It is
// read-only from the pipeline's point of view; photo-state mutations always
// land in local files.
type RemoteStore interface {
	Load(ctx context.Context) ([]Workflow, error)
}

// LocalStore persists workflows as workflow_<id>.json files under one
// directory.
type LocalStore struct {
	dir    string
	mu     sync.Mutex
	logger logging.Logger
}

// NewLocalStore creates the directory when missing.
func NewLocalStore(dir string, logger logging.Logger) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("workflow dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workflow dir: %w", err)
	}
	return &LocalStore{dir: dir, logger: logging.OrNop(logger)}, nil
}

// record is the on-disk shape. Source and destination stay raw strings so
// legacy tags ("Google") survive a round trip through normalization.
type record struct {
	ID                   string      `json:"id"`
	Source               string      `json:"source"`
	SourceAccount        string      `json:"sourceAccount"`
	Destination          string      `json:"destination"`
	DestinationAccount   string      `json:"destinationAccount"`
	Instructions         string      `json:"instructions"`
	GeoLatitude          *float64    `json:"geoLatitude,omitempty"`
	GeoLongitude         *float64    `json:"geoLongitude,omitempty"`
	GeoRadiusMeters      *float64    `json:"geoRadiusMeters,omitempty"`
	Active               *bool       `json:"active,omitempty"`
	CreatedAt            time.Time   `json:"createdAt"`
	PhotoBaselineTs      int64       `json:"photoBaselineTs,omitempty"`
	PhotoLastProcessedTs int64       `json:"photoLastProcessedTs,omitempty"`
	PhotoBootstrapCount  int         `json:"photoBootstrapCount,omitempty"`
	PhotoPersonName      string      `json:"photoPersonName,omitempty"`
	PhotoPersonEmbeds    [][]float32 `json:"photoPersonEmbeddings,omitempty"`
}

func (r record) toWorkflow() (Workflow, error) {
	source, err := ParseSource(r.Source)
	if err != nil {
		return Workflow{}, err
	}
	destination, err := ParseDestination(r.Destination)
	if err != nil {
		return Workflow{}, err
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return Workflow{
		ID:                   r.ID,
		Source:               source,
		SourceAccount:        r.SourceAccount,
		Destination:          destination,
		DestinationAccount:   r.DestinationAccount,
		Instructions:         r.Instructions,
		GeoLatitude:          r.GeoLatitude,
		GeoLongitude:         r.GeoLongitude,
		GeoRadiusMeters:      r.GeoRadiusMeters,
		Active:               active,
		CreatedAt:            r.CreatedAt,
		PhotoBaselineTs:      r.PhotoBaselineTs,
		PhotoLastProcessedTs: r.PhotoLastProcessedTs,
		PhotoBootstrapCount:  r.PhotoBootstrapCount,
		PhotoPersonName:      r.PhotoPersonName,
		PhotoPersonEmbeds:    r.PhotoPersonEmbeds,
	}, nil
}

func (s *LocalStore) path(id string) string {
	return filepath.Join(s.dir, "workflow_"+id+".json")
}

// List returns every parseable workflow file. A corrupt file is skipped with
// a warning, never fatal.
func (s *LocalStore) List() []Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *LocalStore) listLocked() []Workflow {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("read workflow dir %s: %v", s.dir, err)
		return nil
	}

	var workflows []Workflow
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "workflow_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("read workflow file %s: %v", name, err)
			continue
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("parse workflow file %s: %v", name, err)
			continue
		}
		wf, err := rec.toWorkflow()
		if err != nil {
			s.logger.Warn("invalid workflow file %s: %v", name, err)
			continue
		}
		workflows = append(workflows, wf)
	}
	return workflows
}

// Save writes a workflow file, assigning an ID when absent.
func (s *LocalStore) Save(wf *Workflow) error {
	if wf.ID == "" {
		wf.ID = NewID()
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}
	if err := wf.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(*wf)
}

func (s *LocalStore) writeLocked(wf Workflow) error {
	active := wf.Active
	rec := record{
		ID:                   wf.ID,
		Source:               string(wf.Source),
		SourceAccount:        wf.SourceAccount,
		Destination:          string(wf.Destination),
		DestinationAccount:   wf.DestinationAccount,
		Instructions:         wf.Instructions,
		GeoLatitude:          wf.GeoLatitude,
		GeoLongitude:         wf.GeoLongitude,
		GeoRadiusMeters:      wf.GeoRadiusMeters,
		Active:               &active,
		CreatedAt:            wf.CreatedAt,
		PhotoBaselineTs:      wf.PhotoBaselineTs,
		PhotoLastProcessedTs: wf.PhotoLastProcessedTs,
		PhotoBootstrapCount:  wf.PhotoBootstrapCount,
		PhotoPersonName:      wf.PhotoPersonName,
		PhotoPersonEmbeds:    wf.PhotoPersonEmbeds,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workflow %s: %w", wf.ID, err)
	}
	if err := os.WriteFile(s.path(wf.ID), data, 0o644); err != nil {
		return fmt.Errorf("write workflow %s: %w", wf.ID, err)
	}
	return nil
}

// Get returns a workflow by id.
func (s *LocalStore) Get(id string) (Workflow, bool) {
	for _, wf := range s.List() {
		if wf.ID == id {
			return wf, true
		}
	}
	return Workflow{}, false
}

// Delete removes the workflow file; deleting a missing workflow is a no-op.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete workflow %s: %w", id, err)
	}
	return nil
}

// UpdatePhotoState advances a workflow's photoLastProcessedTs. The value is
// monotone: an older timestamp never overwrites a newer one.
func (s *LocalStore) UpdatePhotoState(id string, lastProcessedTs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, wf := range s.listLocked() {
		if wf.ID != id {
			continue
		}
		if lastProcessedTs <= wf.PhotoLastProcessedTs {
			return nil
		}
		wf.PhotoLastProcessedTs = lastProcessedTs
		return s.writeLocked(wf)
	}
	return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
}

// SetActive flips the active flag on a stored workflow.
func (s *LocalStore) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, wf := range s.listLocked() {
		if wf.ID != id {
			continue
		}
		wf.Active = active
		return s.writeLocked(wf)
	}
	return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
}

// Store merges local-file-backed and remote-backed workflows.
type Store struct {
	local  *LocalStore
	remote RemoteStore
	logger logging.Logger
}

// NewStore builds the merged view; remote may be nil for local-only setups.
func NewStore(local *LocalStore, remote RemoteStore, logger logging.Logger) *Store {
	return &Store{local: local, remote: remote, logger: logging.OrNop(logger)}
}

// Local exposes the underlying local store for mutation paths.
func (s *Store) Local() *LocalStore {
	return s.local
}

// LoadAll merges local and remote workflows, deduplicates by the
// (source, destination, instructions) triple with local winning, and keeps
// only active ones. Remote failure degrades to local-only.
func (s *Store) LoadAll(ctx context.Context) []Workflow {
	merged := s.local.List()

	if s.remote != nil {
		remote, err := s.remote.Load(ctx)
		if err != nil {
			s.logger.Warn("remote workflow load failed, continuing with local only: %v", err)
		} else {
			merged = append(merged, remote...)
		}
	}

	seen := make(map[Key]struct{}, len(merged))
	result := make([]Workflow, 0, len(merged))
	for _, wf := range merged {
		if !wf.Active {
			continue
		}
		key := wf.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, wf)
	}
	return result
}

// LoadMatching returns active workflows whose source matches the given app.
// The tag is normalized first, so "Gmail" matches workflows persisted with
// the legacy "Google" source.
func (s *Store) LoadMatching(ctx context.Context, appName string) []Workflow {
	source, err := ParseSource(appName)
	if err != nil {
		s.logger.Debug("ignoring unrecognized app %q", appName)
		return nil
	}

	var matching []Workflow
	for _, wf := range s.LoadAll(ctx) {
		if wf.Source == source {
			matching = append(matching, wf)
		}
	}
	return matching
}

// LoadPhotoWorkflows returns active Photos workflows.
func (s *Store) LoadPhotoWorkflows(ctx context.Context) []Workflow {
	return s.LoadMatching(ctx, string(SourcePhotos))
}

// AdvancePhotoGate persists a workflow's new photo high-water mark. A
// workflow that only exists remotely gets a local shadow record on its first
// mutation; the remote store stays read-only, and the shadow wins the merge
// dedupe on subsequent loads.
func (s *Store) AdvancePhotoGate(wf Workflow, lastProcessedTs int64) error {
	err := s.local.UpdatePhotoState(wf.ID, lastProcessedTs)
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	shadow := wf
	if lastProcessedTs > shadow.PhotoLastProcessedTs {
		shadow.PhotoLastProcessedTs = lastProcessedTs
	}
	s.logger.Debug("creating local shadow for remote workflow %s", wf.ID)
	return s.local.Save(&shadow)
}
