package api

import (
	"net/http"

	"github.com/mieweb/pulse-desktop/lib/logger"
)

type projectRequest struct {
	ProjectName string `json:"project_name"`
}

func (s *ApiService) GetProjects(w http.ResponseWriter, r *http.Request) {
	names, err := s.projects.List()
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list projects", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *ApiService) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.projects.Create(req.ProjectName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type currentProjectResponse struct {
	ProjectName string `json:"project_name,omitempty"`
}

func (s *ApiService) GetCurrentProject(w http.ResponseWriter, r *http.Request) {
	name, _ := s.projects.Current()
	writeJSON(w, http.StatusOK, currentProjectResponse{ProjectName: name})
}

// SetCurrentProject selects the project recordings land in. Every switch
// tears down the warm capture session and pre-initializes a fresh one.
func (s *ApiService) SetCurrentProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.projects.SetCurrent(req.ProjectName); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.preinit.UpdateActivity()
	if err := s.preinit.Shutdown(r.Context()); err != nil {
		logger.FromContext(r.Context()).Warn("failed to tear down pipeline on project switch", "err", err)
	}
	if err := s.preinit.Initialize(r.Context()); err != nil {
		logger.FromContext(r.Context()).Warn("failed to rebuild pipeline on project switch", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type outputFolderResponse struct {
	Path string `json:"path"`
}

func (s *ApiService) GetOutputFolder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, outputFolderResponse{Path: s.projects.Root()})
}

type outputFolderRequest struct {
	Path string `json:"path"`
}

func (s *ApiService) SetOutputFolder(w http.ResponseWriter, r *http.Request) {
	var req outputFolderRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.projects.SetRoot(req.Path); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
