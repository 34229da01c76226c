package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mieweb/pulse-desktop/lib/capture"
	"github.com/mieweb/pulse-desktop/lib/events"
	"github.com/mieweb/pulse-desktop/lib/media"
	"github.com/mieweb/pulse-desktop/lib/project"
	"github.com/mieweb/pulse-desktop/lib/recording"
	"github.com/mieweb/pulse-desktop/lib/timeline"
	"github.com/mieweb/pulse-desktop/lib/watcher"
)

type stubScreen struct{}

func (stubScreen) Prepare(ctx context.Context) error                    { return nil }
func (stubScreen) Start(ctx context.Context, fn media.SampleFunc) error { return nil }
func (stubScreen) Stop(ctx context.Context) error                       { return nil }

type stubSink struct{ cfg media.RecordingConfig }

func (s stubSink) Open() error {
	return os.WriteFile(s.cfg.OutputPath, []byte("stub"), 0o644)
}
func (stubSink) WriteVideo(media.Sample) error { return nil }
func (stubSink) WriteAudio(media.Sample) error { return nil }
func (stubSink) Finalize() error               { return nil }

func newTestService(t *testing.T) (*ApiService, *project.Manager, *timeline.Store, http.Handler) {
	t.Helper()

	root := t.TempDir()
	bus := events.NewBus()
	store := timeline.NewStore()
	projects := project.NewManager(root, "")
	watch := watcher.New(root, bus)

	factory := func(ctx context.Context, cfg media.RecordingConfig) (*capture.Session, error) {
		return capture.NewSession(cfg, stubScreen{}, nil, func(c media.RecordingConfig) capture.SampleSink {
			return stubSink{cfg: c}
		}), nil
	}
	baseCfg := media.RecordingConfig{Width: 1920, Height: 1080, FPS: 30, Quality: 80}
	preinit := capture.NewManager(factory, bus, baseCfg, time.Minute)
	coord := recording.New(t.Context(), bus, preinit, factory, store, watch, projects)

	svc, err := New(bus, preinit, coord, store, projects, baseCfg)
	require.NoError(t, err)

	r := chi.NewRouter()
	svc.Routes(r)
	return svc, projects, store, r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	_, _, _, h := newTestService(t)

	rec := doJSON(t, h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Recording)
	assert.Equal(t, "NotInitialized", status.PreInitStatus)
}

func TestProjectLifecycle(t *testing.T) {
	_, _, _, h := newTestService(t)

	rec := doJSON(t, h, http.MethodPost, "/projects", map[string]string{"project_name": "demo"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Equal(t, []string{"demo"}, names)

	rec = doJSON(t, h, http.MethodPut, "/projects/current", map[string]string{"project_name": "ghost"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/projects/current", map[string]string{"project_name": "demo"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/projects/current", nil)
	var current currentProjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, "demo", current.ProjectName)
}

func TestCaptureRegionValidation(t *testing.T) {
	_, _, _, h := newTestService(t)

	rec := doJSON(t, h, http.MethodPost, "/capture/region", regionRequest{X: -1, Y: 0, W: 100, H: 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/capture/region", regionRequest{X: 10, Y: 10, W: 1280, H: 720})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTimelineSaveUndoRedo(t *testing.T) {
	_, projects, store, h := newTestService(t)
	require.NoError(t, projects.Create("demo"))
	dir := projects.Dir("demo")

	tl, err := store.Load(dir, "demo")
	require.NoError(t, err)
	tl.Entries = []timeline.Entry{{ID: "e1", Filename: "recording-1.mp4", Label: "first"}}
	require.NoError(t, store.Save(dir, tl))

	edited := tl.Clone()
	edited.Entries[0].Label = "renamed"
	rec := doJSON(t, h, http.MethodPut, "/projects/demo/timeline", edited)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/projects/demo/timeline/undo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	loaded, err := store.Load(dir, "demo")
	require.NoError(t, err)
	assert.Equal(t, "first", loaded.Entries[0].Label)

	rec = doJSON(t, h, http.MethodPost, "/projects/demo/timeline/redo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	loaded, err = store.Load(dir, "demo")
	require.NoError(t, err)
	assert.Equal(t, "renamed", loaded.Entries[0].Label)

	// nothing further to redo
	rec = doJSON(t, h, http.MethodPost, "/projects/demo/timeline/redo", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	_, projects, _, h := newTestService(t)
	require.NoError(t, projects.Create("demo"))
	dir := projects.Dir("demo")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dropped.mp4"), []byte("external clip"), 0o644))

	rec := doJSON(t, h, http.MethodPost, "/projects/demo/timeline/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp reconcileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Promoted)
}
