package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hexlattice/scanhub/api/schemas"
	"github.com/hexlattice/scanhub/internal/camera"
	"github.com/hexlattice/scanhub/internal/scanner"
)

const defaultEventWait = 25 * time.Second

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	devices, err := s.coord.Cameras(r.Context())
	if err != nil {
		s.sendScannerError(w, err)
		return
	}

	defaultID := ""
	if dev, err := camera.DefaultDevice(devices); err == nil {
		defaultID = dev.ID
	}

	infos := make([]schemas.CameraInfo, 0, len(devices))
	for _, dev := range devices {
		infos = append(infos, schemas.CameraInfo{
			DeviceID: dev.ID,
			Label:    dev.Label,
			Default:  dev.ID == defaultID,
		})
	}
	sendSuccess(w, infos)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an absent or empty device_id selects the default.
	var req schemas.SwitchRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := s.coord.Start(r.Context(), req.DeviceID); err != nil {
		s.sendScannerError(w, err)
		return
	}
	sendSuccess(w, s.coord.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Stop(); err != nil {
		s.sendScannerError(w, err)
		return
	}
	sendSuccess(w, s.coord.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Reset(); err != nil {
		s.sendScannerError(w, err)
		return
	}
	sendSuccess(w, s.coord.Snapshot())
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Retry(); err != nil {
		s.sendScannerError(w, err)
		return
	}
	sendSuccess(w, s.coord.Snapshot())
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req schemas.SwitchRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.DeviceID == "" {
		sendError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	if err := s.coord.SwitchCamera(r.Context(), req.DeviceID); err != nil {
		s.sendScannerError(w, err)
		return
	}
	sendSuccess(w, s.coord.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, s.coord.Snapshot())
}

// eventPayload mirrors scanner.Event with the state rendered as a string.
type eventPayload struct {
	State     string                 `json:"state"`
	Detection *schemas.Detection     `json:"detection,omitempty"`
	Product   *schemas.ProductRecord `json:"product,omitempty"`
	Error     string                 `json:"error,omitempty"`
	At        time.Time              `json:"at"`
}

// handleEvents long-polls the next transition. 204 means the wait budget
// elapsed with nothing to report; poll again.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	wait := s.cfg.EventWaitBudget
	if wait <= 0 {
		wait = defaultEventWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ev, ok := <-s.coord.Events():
		if !ok {
			sendError(w, http.StatusGone, "scanner closed")
			return
		}
		sendSuccess(w, eventPayload{
			State:     ev.State.String(),
			Detection: ev.Detection,
			Product:   ev.Product,
			Error:     ev.Error,
			At:        ev.At,
		})
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
		w.WriteHeader(http.StatusNoContent)
	}
}

// sendScannerError maps coordinator and camera errors to HTTP statuses.
func (s *Server) sendScannerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scanner.ErrAlreadyRunning),
		errors.Is(err, scanner.ErrInvalidTransition),
		errors.Is(err, camera.ErrCameraBusy):
		sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, camera.ErrPermissionDenied):
		sendError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, camera.ErrUnknownDevice), errors.Is(err, camera.ErrNoCamera):
		sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scanner.ErrClosed):
		sendError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("Scanner operation failed.", zap.Error(err))
		sendError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeOptionalBody decodes JSON when a body is present and tolerates an
// empty one.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func sendJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func sendSuccess(w http.ResponseWriter, data interface{}) {
	sendJSON(w, http.StatusOK, schemas.APIResponse{Success: true, Data: data})
}

func sendError(w http.ResponseWriter, statusCode int, message string) {
	sendJSON(w, statusCode, schemas.APIResponse{Success: false, Error: message})
}
