package session

import (
	"time"

	"scanbridge/internal/detect"
	"scanbridge/internal/scan"
)

// State represents the lifecycle state of a scan session as the page sees it.
type State string

const (
	// StateWaiting: no camera permission or no device; the page shows a
	// placeholder instead of the feed.
	StateWaiting  State = "waiting"
	StateReady    State = "ready"
	StateScanning State = "scanning"
	StateClosed   State = "closed"
)

// Session is a point-in-time view of one scan session.
type Session struct {
	ID            string       `json:"id"`
	State         State        `json:"state"`
	Label         string       `json:"label"`
	CreatedAt     time.Time    `json:"createdAt"`
	Guide         scan.Guide   `json:"guide"`
	CameraActive  bool         `json:"cameraActive"`
	HasPermission bool         `json:"hasPermission"`
	DeviceID      string       `json:"deviceId,omitempty"`
	Frames        detect.Stats `json:"frames"`
}

// OpenRequest describes the scan UI being opened.
type OpenRequest struct {
	ViewportHeight float64 `json:"viewportHeight"`
	DeviceID       string  `json:"deviceId"`
	HasPermission  bool    `json:"hasPermission"`
	Label          string  `json:"label"`
}

// EventType distinguishes session events.
type EventType string

const (
	EventState   EventType = "state"
	EventHaptic  EventType = "haptic"
	EventScanned EventType = "scanned"
	EventClosed  EventType = "closed"
)

// Event is something that happened in a session.
type Event struct {
	SessionID string        `json:"sessionId"`
	Type      EventType     `json:"type"`
	Value     string        `json:"value,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Session   *Session      `json:"session,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Close reasons carried by EventClosed.
const (
	ReasonScanned   = "scanned"
	ReasonCancelled = "cancelled"
	ReasonShutdown  = "shutdown"
)

// Record is one accepted scan kept in the history.
type Record struct {
	SessionID string    `json:"sessionId"`
	Label     string    `json:"label,omitempty"`
	Value     string    `json:"value"`
	ScannedAt time.Time `json:"scannedAt"`
}
