package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/observability"
	"relay/internal/pipeline"
	"relay/internal/trigger"
	"relay/internal/workflow"
)

type stubProcessor struct {
	mu     sync.Mutex
	events []pipeline.Event
	runs   int
	photos []pipeline.PhotoEvent
}

func (s *stubProcessor) ProcessEvent(_ context.Context, ev pipeline.Event) []pipeline.RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *stubProcessor) RunWorkflows(_ context.Context, wfs []workflow.Workflow, _ string) []pipeline.RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	return make([]pipeline.RunResult, len(wfs))
}

func (s *stubProcessor) ProcessPhoto(_ context.Context, ev pipeline.PhotoEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos = append(s.photos, ev)
}

type testServer struct {
	srv   *Server
	proc  *stubProcessor
	local *workflow.LocalStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	local, err := workflow.NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)
	store := workflow.NewStore(local, nil, nil)

	proc := &stubProcessor{}
	notifications := trigger.NewNotificationTrigger(
		trigger.NewDebouncer(0),
		map[string]string{"com.google.android.gm": "Gmail"},
		proc, nil, nil,
	)
	geofences := trigger.NewGeofenceTrigger(store, trigger.NewMemoryRegistrar(), proc, nil, nil)
	photos, err := trigger.NewPhotoWatcher(t.TempDir(), proc, func(string) int64 { return 1 }, nil)
	require.NoError(t, err)

	srv := NewServer(Config{Addr: ":0"}, notifications, geofences, photos, store, observability.NewMetrics(), nil)
	return &testServer{srv: srv, proc: proc, local: local}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotificationTriggerEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodPost, "/triggers/notification", map[string]string{
		"package": "com.google.android.gm",
		"title":   "New mail",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["status"])
	assert.NotEmpty(t, body["eventId"])

	require.Eventually(t, func() bool {
		ts.proc.mu.Lock()
		defer ts.proc.mu.Unlock()
		return len(ts.proc.events) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Gmail", ts.proc.events[0].App)
	assert.Equal(t, "New mail", ts.proc.events[0].Hint)
}

func TestNotificationTriggerRequiresPackage(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodPost, "/triggers/notification", map[string]string{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGeofenceTriggerEndpoint(t *testing.T) {
	ts := newTestServer(t)

	wf := &workflow.Workflow{
		Source:             workflow.SourceMaps,
		Destination:        workflow.DestinationTelegram,
		DestinationAccount: "1",
		Active:             true,
	}
	wf.SetGeofence(workflow.Geofence{Latitude: 52, Longitude: 4, RadiusMeters: 100})
	require.NoError(t, ts.local.Save(wf))

	w := ts.request(t, http.MethodPost, "/triggers/geofence", map[string]any{
		"transition": "enter",
		"ids":        []string{wf.ID},
	})
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		ts.proc.mu.Lock()
		defer ts.proc.mu.Unlock()
		return ts.proc.runs == 1
	}, time.Second, 5*time.Millisecond)
}

func TestGeofenceTriggerRejectsBadTransition(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodPost, "/triggers/geofence", map[string]any{"transition": "SIDEWAYS"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkflowCRUD(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodPost, "/workflows", map[string]any{
		"source":             "Gmail",
		"sourceAccount":      "Any",
		"destination":        "Telegram",
		"destinationAccount": "555",
		"instructions":       "summarize",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created workflow.Workflow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Active)

	w = ts.request(t, http.MethodGet, "/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []workflow.Workflow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	w = ts.request(t, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.request(t, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateWorkflowLegacySourceAlias(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodPost, "/workflows", map[string]any{
		"source":             "Google",
		"destination":        "Telegram",
		"destinationAccount": "555",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created workflow.Workflow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, workflow.SourceGmail, created.Source)
}

func TestCreateWorkflowRejectsUnknownSource(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodPost, "/workflows", map[string]any{
		"source":             "Carrier Pigeon",
		"destination":        "Telegram",
		"destinationAccount": "555",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateMapsWorkflowRequiresGeofence(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodPost, "/workflows", map[string]any{
		"source":             "Maps",
		"destination":        "Telegram",
		"destinationAccount": "555",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
