// Package api exposes the engine to the UI layer: JSON commands over HTTP
// and a websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/mieweb/pulse-desktop/lib/capture"
	"github.com/mieweb/pulse-desktop/lib/events"
	"github.com/mieweb/pulse-desktop/lib/logger"
	"github.com/mieweb/pulse-desktop/lib/media"
	"github.com/mieweb/pulse-desktop/lib/project"
	"github.com/mieweb/pulse-desktop/lib/recording"
	"github.com/mieweb/pulse-desktop/lib/timeline"
)

// ApiService backs every UI command. The UI never touches the engine
// directly; it invokes these handlers and consumes the event stream.
type ApiService struct {
	bus      *events.Bus
	preinit  *capture.Manager
	coord    *recording.Coordinator
	store    *timeline.Store
	projects *project.Manager

	// base capture configuration; region commands derive from it
	baseCfg media.RecordingConfig

	// per-project undo/redo histories for timeline edits
	histMu    sync.Mutex
	histories map[string]*timeline.History

	// region selector overlay state, owned by the UI process
	selMu        sync.Mutex
	selectorOpen bool
}

func New(bus *events.Bus, preinit *capture.Manager, coord *recording.Coordinator, store *timeline.Store, projects *project.Manager, baseCfg media.RecordingConfig) (*ApiService, error) {
	switch {
	case bus == nil:
		return nil, fmt.Errorf("bus cannot be nil")
	case preinit == nil:
		return nil, fmt.Errorf("preinit manager cannot be nil")
	case coord == nil:
		return nil, fmt.Errorf("coordinator cannot be nil")
	case store == nil:
		return nil, fmt.Errorf("store cannot be nil")
	case projects == nil:
		return nil, fmt.Errorf("projects cannot be nil")
	}

	return &ApiService{
		bus:       bus,
		preinit:   preinit,
		coord:     coord,
		store:     store,
		projects:  projects,
		baseCfg:   baseCfg,
		histories: make(map[string]*timeline.History),
	}, nil
}

// Routes mounts every UI command.
func (s *ApiService) Routes(r chi.Router) {
	r.Get("/status", s.GetStatus)
	r.Get("/events", s.HandleEventsSocket)

	r.Post("/capture/authorize", s.AuthorizeCapture)
	r.Post("/capture/region", s.SetCaptureRegion)
	r.Delete("/capture/region", s.ClearCaptureRegion)
	r.Post("/capture/mic", s.SetMicEnabled)

	r.Get("/audio/devices", s.GetAudioDevices)
	r.Post("/audio/device", s.SetAudioDevice)

	r.Get("/projects", s.GetProjects)
	r.Post("/projects", s.CreateProject)
	r.Get("/projects/current", s.GetCurrentProject)
	r.Put("/projects/current", s.SetCurrentProject)

	r.Get("/output-folder", s.GetOutputFolder)
	r.Put("/output-folder", s.SetOutputFolder)

	r.Get("/projects/{project_name}/timeline", s.GetProjectTimeline)
	r.Put("/projects/{project_name}/timeline", s.SaveProjectTimeline)
	r.Post("/projects/{project_name}/timeline/reconcile", s.ReconcileProjectTimeline)
	r.Post("/projects/{project_name}/timeline/undo", s.UndoTimeline)
	r.Post("/projects/{project_name}/timeline/redo", s.RedoTimeline)

	r.Get("/pre-init", s.GetPreInitStatus)
	r.Post("/pre-init/toggle", s.TogglePreInit)
	r.Post("/activity", s.UpdateActivity)

	r.Post("/open/file", s.OpenFile)
	r.Post("/open/folder", s.OpenFolder)
	r.Post("/region-selector/open", s.OpenRegionSelector)
	r.Post("/region-selector/close", s.CloseRegionSelector)
}

// Shutdown stops any in-flight recording.
func (s *ApiService) Shutdown(ctx context.Context) error {
	return s.coord.StopAll(ctx)
}

type statusResponse struct {
	Recording      bool   `json:"recording"`
	PreInitStatus  string `json:"pre_init_status"`
	CurrentProject string `json:"current_project,omitempty"`
}

func (s *ApiService) GetStatus(w http.ResponseWriter, r *http.Request) {
	name, _ := s.projects.Current()
	writeJSON(w, http.StatusOK, statusResponse{
		Recording:      s.coord.IsRecording(),
		PreInitStatus:  s.preinit.State().String(),
		CurrentProject: name,
	})
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

func readJSON(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// rebuildPipeline applies a config change that invalidates the
// pre-initialized session.
func (s *ApiService) rebuildPipeline(ctx context.Context, cfg media.RecordingConfig) error {
	s.preinit.UpdateActivity()
	if err := s.preinit.SetConfig(ctx, cfg); err != nil {
		logger.FromContext(ctx).Error("failed to rebuild capture pipeline", "err", err)
		return err
	}
	return nil
}
