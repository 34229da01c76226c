package api

import (
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mieweb/pulse-desktop/lib/logger"
)

type openRequest struct {
	Path string `json:"path"`
}

// OpenFile hands a clip to the system video player.
func (s *ApiService) OpenFile(w http.ResponseWriter, r *http.Request) {
	s.openPath(w, r, false)
}

// OpenFolder reveals a directory in the system file browser.
func (s *ApiService) OpenFolder(w http.ResponseWriter, r *http.Request) {
	s.openPath(w, r, true)
}

func (s *ApiService) openPath(w http.ResponseWriter, r *http.Request, wantDir bool) {
	log := logger.FromContext(r.Context())

	var req openRequest
	if !readJSON(w, r, &req) {
		return
	}

	// only paths under the output root are openable through this surface
	root := filepath.Clean(s.projects.Root())
	abs, err := filepath.Abs(req.Path)
	if err != nil || (abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator))) {
		writeError(w, http.StatusBadRequest, "path is outside the output folder")
		return
	}

	info, err := os.Stat(abs)
	if err != nil {
		writeError(w, http.StatusNotFound, "no such file")
		return
	}
	if info.IsDir() != wantDir {
		writeError(w, http.StatusBadRequest, "wrong path type")
		return
	}

	opener := "xdg-open"
	if runtime.GOOS == "darwin" {
		opener = "open"
	}
	if err := exec.Command(opener, abs).Start(); err != nil {
		log.Error("failed to open path", "err", err, "path", abs)
		writeError(w, http.StatusInternalServerError, "failed to open path")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type regionSelectorRequest struct {
	AspectRatio   string `json:"aspect_ratio,omitempty"`
	ScaleToPreset bool   `json:"scale_to_preset,omitempty"`
}

// OpenRegionSelector marks the region overlay as active. The overlay itself
// is drawn by the UI process; it reports the chosen rectangle through
// SetCaptureRegion.
func (s *ApiService) OpenRegionSelector(w http.ResponseWriter, r *http.Request) {
	var req regionSelectorRequest
	if !readJSON(w, r, &req) {
		return
	}

	s.selMu.Lock()
	s.selectorOpen = true
	s.selMu.Unlock()

	s.preinit.UpdateActivity()
	w.WriteHeader(http.StatusNoContent)
}

func (s *ApiService) CloseRegionSelector(w http.ResponseWriter, r *http.Request) {
	s.selMu.Lock()
	s.selectorOpen = false
	s.selMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
