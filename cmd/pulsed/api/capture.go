package api

import (
	"net/http"
	"os/exec"
	"runtime"

	"github.com/mieweb/pulse-desktop/lib/logger"
	"github.com/mieweb/pulse-desktop/lib/media"
)

type authorizeResponse struct {
	Granted bool   `json:"granted"`
	Detail  string `json:"detail,omitempty"`
}

// AuthorizeCapture requests OS screen-recording permission. On platforms
// without a permission broker it reports access as granted; the display is
// not probed.
func (s *ApiService) AuthorizeCapture(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	switch runtime.GOOS {
	case "darwin":
		// opening the privacy pane is the closest a background process can
		// get to prompting; the user grants and relaunches
		if err := exec.CommandContext(r.Context(), "open",
			"x-apple.systempreferences:com.apple.preference.security?Privacy_ScreenCapture").Run(); err != nil {
			log.Error("failed to open screen-recording privacy settings", "err", err)
			writeJSON(w, http.StatusOK, authorizeResponse{Granted: false, Detail: "open System Settings > Privacy > Screen Recording"})
			return
		}
		writeJSON(w, http.StatusOK, authorizeResponse{Granted: false, Detail: "grant access in System Settings, then restart capture"})
	default:
		// X11 capture needs no grant; success is reported without checking
		// that a display is reachable
		writeJSON(w, http.StatusOK, authorizeResponse{Granted: true})
	}
}

type regionRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// SetCaptureRegion restricts capture to a display rectangle and rebuilds the
// pre-initialized pipeline.
func (s *ApiService) SetCaptureRegion(w http.ResponseWriter, r *http.Request) {
	var req regionRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.W <= 0 || req.H <= 0 || req.X < 0 || req.Y < 0 {
		writeError(w, http.StatusBadRequest, "region must lie inside the display")
		return
	}

	cfg := s.preinit.Config()
	cfg.Region = &media.Rect{X: req.X, Y: req.Y, W: req.W, H: req.H}
	// encoded dimensions follow the region; mismatched dimensions scramble
	// the encoded output
	cfg.Width = req.W
	cfg.Height = req.H

	if err := s.rebuildPipeline(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to apply capture region")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCaptureRegion returns to full-display capture.
func (s *ApiService) ClearCaptureRegion(w http.ResponseWriter, r *http.Request) {
	cfg := s.preinit.Config()
	cfg.Region = nil
	cfg.Width = s.baseCfg.Width
	cfg.Height = s.baseCfg.Height

	if err := s.rebuildPipeline(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear capture region")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type micEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetMicEnabled toggles microphone capture and rebuilds the pipeline.
func (s *ApiService) SetMicEnabled(w http.ResponseWriter, r *http.Request) {
	var req micEnabledRequest
	if !readJSON(w, r, &req) {
		return
	}

	cfg := s.preinit.Config()
	cfg.CaptureMic = req.Enabled

	if err := s.rebuildPipeline(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to apply microphone setting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAudioDevices lists microphone inputs.
func (s *ApiService) GetAudioDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := media.ListAudioDevices(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to enumerate audio devices", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to enumerate audio devices")
		return
	}
	if devices == nil {
		devices = []media.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

type audioDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// SetAudioDevice selects the microphone and rebuilds the pipeline.
func (s *ApiService) SetAudioDevice(w http.ResponseWriter, r *http.Request) {
	var req audioDeviceRequest
	if !readJSON(w, r, &req) {
		return
	}

	cfg := s.preinit.Config()
	cfg.MicDeviceID = req.DeviceID

	if err := s.rebuildPipeline(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to apply audio device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type preInitResponse struct {
	Status string `json:"status"`
}

func (s *ApiService) GetPreInitStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, preInitResponse{Status: s.preinit.State().String()})
}

type toggleResponse struct {
	Enabled bool `json:"enabled"`
}

func (s *ApiService) TogglePreInit(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.preinit.Toggle(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to toggle pre-init", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to toggle pre-initialization")
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{Enabled: enabled})
}

// UpdateActivity marks the user active, deferring the idle shutdown.
func (s *ApiService) UpdateActivity(w http.ResponseWriter, r *http.Request) {
	s.preinit.UpdateActivity()
	w.WriteHeader(http.StatusNoContent)
}
