package session

import (
	"sync"
	"time"

	"scanbridge/internal/detect"
)

// deviceCamera is the scan.Camera of one session: permission and device are
// reported by the phone, activity drives the detection stream.
type deviceCamera struct {
	mu            sync.RWMutex
	hasPermission bool
	deviceID      string
	stream        *detect.Stream
}

func (c *deviceCamera) HasPermission() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasPermission
}

func (c *deviceCamera) Device() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID, c.deviceID != ""
}

func (c *deviceCamera) SetActive(active bool) {
	c.stream.SetActive(active)
}

func (c *deviceCamera) update(hasPermission bool, deviceID string) {
	c.mu.Lock()
	c.hasPermission = hasPermission
	c.deviceID = deviceID
	c.mu.Unlock()
}

// eventHaptics turns a vibration request into an event for the phone.
type eventHaptics struct {
	m  *Manager
	ms *managedSession
}

func (h eventHaptics) Pulse(d time.Duration) {
	h.m.publish(h.ms, Event{Type: EventHaptic, Duration: d})
}
