package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"scanbridge/internal/scan"
)

// Message is the envelope for all messages between the page and the shell.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`

	// Set on barcode messages only: pages read data.value directly.
	SessionID string `json:"sessionId,omitempty"`
	Value     string `json:"value,omitempty"`
}

// NewMessage creates a shell-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewBarcodeMessage builds the barcode message. The value sits at the top
// level ({type:"barcode", value}) and is repeated in the payload.
func NewBarcodeMessage(sessionID, value string) (*Message, error) {
	msg, err := NewMessage(TypeBarcode, BarcodePayload{SessionID: sessionID, Value: value})
	if err != nil {
		return nil, err
	}
	msg.SessionID = sessionID
	msg.Value = value
	return msg, nil
}

// Shell → page message types.
const (
	TypeBarcode    = "barcode"
	TypeScanState  = "scan.state"
	TypeScanClosed = "scan.closed"
	TypeHaptic     = "haptic"
	TypeError      = "error"
)

// Page → shell message types.
const (
	TypeRequestBarcodeScan = "requestBarcodeScan"
	TypeScanStart          = "scan.start"
	TypeScanResume         = "scan.resume"
	TypeScanStop           = "scan.stop"
	TypeScanCancel         = "scan.cancel"
	TypeScanBatch          = "scan.batch"
	TypeCameraStatus       = "camera.status"
)

// Shell → page payloads.

// BarcodePayload mirrors the top-level fields of a barcode message.
type BarcodePayload struct {
	SessionID string `json:"sessionId"`
	Value     string `json:"value"`
}

type ScanStatePayload struct {
	ID           string     `json:"id"`
	State        string     `json:"state"`
	Label        string     `json:"label,omitempty"`
	Guide        scan.Guide `json:"guide"`
	MarkerY      float64    `json:"markerY"`
	CameraActive bool       `json:"cameraActive"`
	CreatedAt    string     `json:"createdAt"`
}

type ScanClosedPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type HapticPayload struct {
	SessionID  string `json:"sessionId"`
	DurationMs int64  `json:"durationMs"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Page → shell payloads.

type RequestBarcodeScanPayload struct {
	ViewportHeight float64 `json:"viewportHeight"`
	DeviceID       string  `json:"deviceId"`
	HasPermission  bool    `json:"hasPermission"`
	Label          string  `json:"label"`
}

type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}

type ScanBatchPayload struct {
	SessionID string              `json:"sessionId"`
	Codes     []scan.DetectedCode `json:"codes"`
}

type CameraStatusPayload struct {
	SessionID     string `json:"sessionId"`
	HasPermission bool   `json:"hasPermission"`
	DeviceID      string `json:"deviceId"`
}
