package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mieweb/pulse-desktop/lib/logger"
	"github.com/mieweb/pulse-desktop/lib/timeline"
)

func (s *ApiService) historyFor(project string) *timeline.History {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	h, ok := s.histories[project]
	if !ok {
		h = timeline.NewHistory()
		s.histories[project] = h
	}
	return h
}

func (s *ApiService) GetProjectTimeline(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "project_name")
	tl, err := s.store.Load(s.projects.Dir(name), name)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to load timeline", "err", err, "project", name)
		writeError(w, http.StatusInternalServerError, "failed to load timeline")
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// SaveProjectTimeline persists a user edit (reorder, label change, soft
// delete). The previous state is pushed onto the project's undo history.
func (s *ApiService) SaveProjectTimeline(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "project_name")

	var tl timeline.Timeline
	if !readJSON(w, r, &tl) {
		return
	}
	tl.ProjectName = name

	dir := s.projects.Dir(name)
	previous, err := s.store.Load(dir, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load timeline")
		return
	}

	if err := s.store.Save(dir, &tl); err != nil {
		logger.FromContext(r.Context()).Error("failed to save timeline", "err", err, "project", name)
		writeError(w, http.StatusInternalServerError, "failed to save timeline")
		return
	}

	s.historyFor(name).Push(previous)
	s.preinit.UpdateActivity()
	w.WriteHeader(http.StatusNoContent)
}

type reconcileResponse struct {
	Promoted int `json:"promoted"`
}

// ReconcileProjectTimeline cross-checks the timeline against the files on
// disk and reports how many external files were promoted to entries.
func (s *ApiService) ReconcileProjectTimeline(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "project_name")

	promoted, err := s.store.Reconcile(s.projects.Dir(name), name)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to reconcile timeline", "err", err, "project", name)
		writeError(w, http.StatusInternalServerError, "failed to reconcile timeline")
		return
	}
	s.preinit.UpdateActivity()
	writeJSON(w, http.StatusOK, reconcileResponse{Promoted: promoted})
}

func (s *ApiService) UndoTimeline(w http.ResponseWriter, r *http.Request) {
	s.timelineHistoryStep(w, r, func(h *timeline.History, current *timeline.Timeline) (*timeline.Timeline, bool) {
		return h.Undo(current)
	})
}

func (s *ApiService) RedoTimeline(w http.ResponseWriter, r *http.Request) {
	s.timelineHistoryStep(w, r, func(h *timeline.History, current *timeline.Timeline) (*timeline.Timeline, bool) {
		return h.Redo(current)
	})
}

func (s *ApiService) timelineHistoryStep(w http.ResponseWriter, r *http.Request, step func(*timeline.History, *timeline.Timeline) (*timeline.Timeline, bool)) {
	name := chi.URLParam(r, "project_name")
	dir := s.projects.Dir(name)

	current, err := s.store.Load(dir, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load timeline")
		return
	}

	restored, ok := step(s.historyFor(name), current)
	if !ok {
		writeError(w, http.StatusConflict, "nothing to restore")
		return
	}

	if err := s.store.Save(dir, restored); err != nil {
		logger.FromContext(r.Context()).Error("failed to persist restored timeline", "err", err, "project", name)
		writeError(w, http.StatusInternalServerError, "failed to save timeline")
		return
	}
	writeJSON(w, http.StatusOK, restored)
}
