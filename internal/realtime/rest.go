package realtime

import (
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"

	// Frame uploads may be any of these formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gorilla/mux"

	scanerrors "scanbridge/internal/errors"
	"scanbridge/internal/scan"
	"scanbridge/internal/session"
)

// maxFrameBytes bounds an uploaded camera frame.
const maxFrameBytes = 8 << 20

type cameraStatusRequest struct {
	HasPermission bool   `json:"hasPermission"`
	DeviceID      string `json:"deviceId"`
}

type batchRequest struct {
	Codes []scan.DetectedCode `json:"codes"`
}

type submitResponse struct {
	Accepted bool `json:"accepted"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": len(s.sessionMgr.List()),
	})
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req session.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, scanerrors.Wrap(err, scanerrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if req.ViewportHeight < 0 {
		writeError(w, scanerrors.New(scanerrors.ErrCodeInvalidInput, "viewportHeight must not be negative"))
		return
	}

	sess, err := s.sessionMgr.Open(req)
	if err != nil {
		writeError(w, err)
		return
	}

	// Sessions opened over REST have no owning page; every client sees them.
	s.subscribeAllClients(sess.ID)

	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionMgr.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionMgr.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	s.sessionOp(w, r, s.sessionMgr.Start)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	s.sessionOp(w, r, s.sessionMgr.Resume)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	s.sessionOp(w, r, s.sessionMgr.Stop)
}

func (s *Server) sessionOp(w http.ResponseWriter, r *http.Request, op func(string) (*session.Session, error)) {
	sess, err := op(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessionMgr.Cancel(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": session.ReasonCancelled})
}

func (s *Server) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	var req cameraStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, scanerrors.Wrap(err, scanerrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	sess, err := s.sessionMgr.UpdateCamera(mux.Vars(r)["id"], req.HasPermission, req.DeviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleSubmitFrame decodes an uploaded camera frame and queues it for
// barcode detection.
func (s *Server) handleSubmitFrame(w http.ResponseWriter, r *http.Request) {
	img, _, err := image.Decode(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		writeError(w, scanerrors.InvalidImage(err))
		return
	}

	accepted, err := s.sessionMgr.SubmitFrame(mux.Vars(r)["id"], img)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Accepted: accepted})
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, scanerrors.Wrap(err, scanerrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	accepted, err := s.sessionMgr.SubmitBatch(mux.Vars(r)["id"], req.Codes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Accepted: accepted})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionMgr.History())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError sends the coded error as the response body. Errors without a
// code are reported as INTERNAL_ERROR.
func writeError(w http.ResponseWriter, err error) {
	var scanErr *scanerrors.ScanError
	if !errors.As(err, &scanErr) {
		scanErr = scanerrors.Wrap(err, scanerrors.ErrCodeInternal, err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(scanErr.Code))
	io.WriteString(w, scanErr.ToJSON())
}

func statusFor(code scanerrors.ErrorCode) int {
	switch code {
	case scanerrors.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case scanerrors.ErrCodeSessionClosed:
		return http.StatusGone
	case scanerrors.ErrCodeCameraUnavailable, scanerrors.ErrCodeAlreadyScanning:
		return http.StatusConflict
	case scanerrors.ErrCodeMaxSessions:
		return http.StatusTooManyRequests
	case scanerrors.ErrCodeInvalidInput, scanerrors.ErrCodeInvalidImage, scanerrors.ErrCodeInvalidMessage:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
