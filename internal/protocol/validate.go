package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed page→shell message types.
var validClientTypes = map[string]bool{
	TypeRequestBarcodeScan: true,
	TypeScanStart:          true,
	TypeScanResume:         true,
	TypeScanStop:           true,
	TypeScanCancel:         true,
	TypeScanBatch:          true,
	TypeCameraStatus:       true,
}

// ValidateClientMessage validates a raw JSON message from the page.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	// Pages send a bare {"type":"requestBarcodeScan"}; every other type
	// needs a payload.
	if msg.Type == TypeRequestBarcodeScan {
		if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
			msg.Payload = json.RawMessage("{}")
		}
	} else if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	// Validate required payload fields per type.
	switch msg.Type {
	case TypeRequestBarcodeScan:
		var p RequestBarcodeScanPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.ViewportHeight < 0 {
			return nil, fmt.Errorf("field 'viewportHeight' must not be negative in %s payload", msg.Type)
		}

	case TypeScanStart, TypeScanResume, TypeScanStop, TypeScanCancel:
		var p SessionIDPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}

	case TypeScanBatch:
		var p ScanBatchPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}

	case TypeCameraStatus:
		var p CameraStatusPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to the page.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
