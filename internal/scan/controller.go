// Package scan turns a noisy stream of camera-detected codes into at most
// one accepted value per scan activation.
//
// A Controller gates every batch on three rules: the session must be
// scanning, the debounce window since the last accept must have elapsed,
// and the code's bounding box must sit on the guide line. The first code
// that passes is accepted; scanning stops and the camera is switched off
// before the result is handed to the embedder.
package scan

import (
	"strings"
	"sync"
	"time"
)

// Options wires a Controller to its collaborators. Nil fields fall back to
// the system clock, a timer-based scheduler and no haptics.
type Options struct {
	Camera    Camera
	Haptics   Haptics
	Clock     Clock
	Scheduler Scheduler

	// OnScanned receives the trimmed value, synchronously inside OnBatch.
	OnScanned func(value string)
	// OnClose runs one scheduling tick after OnScanned.
	OnClose func()

	Debounce time.Duration
	Pulse    time.Duration
}

// Controller owns the state of one scan session.
type Controller struct {
	guide Guide

	camera    Camera
	haptics   Haptics
	clock     Clock
	scheduler Scheduler
	onScanned func(string)
	onClose   func()
	debounce  time.Duration
	pulse     time.Duration

	mu             sync.Mutex
	scanning       bool
	cameraActive   bool
	lastAcceptedAt time.Time

	// syncing is set while a goroutine pushes cameraActive to the camera;
	// cameraDirty asks it to push again once the call returns.
	syncing     bool
	cameraDirty bool
}

// New creates a controller for a freshly opened scan UI: not scanning,
// camera preview running.
func New(guide Guide, opts Options) *Controller {
	c := &Controller{
		guide:        guide,
		camera:       opts.Camera,
		haptics:      opts.Haptics,
		clock:        opts.Clock,
		scheduler:    opts.Scheduler,
		onScanned:    opts.OnScanned,
		onClose:      opts.OnClose,
		debounce:     opts.Debounce,
		pulse:        opts.Pulse,
		cameraActive: true,
	}
	if c.haptics == nil {
		c.haptics = noHaptics{}
	}
	if c.clock == nil {
		c.clock = systemClock{}
	}
	if c.scheduler == nil {
		c.scheduler = timerScheduler{}
	}
	if c.debounce <= 0 {
		c.debounce = DebounceWindow
	}
	if c.pulse <= 0 {
		c.pulse = HapticPulse
	}
	c.syncCamera()
	return c
}

// Guide returns the session's guide line.
func (c *Controller) Guide() Guide {
	return c.guide
}

// Ready reports whether camera permission is granted and a device selected.
func (c *Controller) Ready() bool {
	if c.camera == nil || !c.camera.HasPermission() {
		return false
	}
	_, ok := c.camera.Device()
	return ok
}

// Start begins evaluating batches. It returns false, changing nothing, when
// the camera is not ready.
func (c *Controller) Start() bool {
	if !c.Ready() {
		return false
	}
	c.mu.Lock()
	c.scanning = true
	c.cameraActive = true
	c.lastAcceptedAt = time.Time{}
	c.mu.Unlock()

	c.syncCamera()
	return true
}

// Resume re-arms a session after a completed or cancelled scan. It is a
// no-op returning false while already scanning.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	if c.scanning {
		c.mu.Unlock()
		return false
	}
	c.lastAcceptedAt = time.Time{}
	c.cameraActive = true
	c.scanning = true
	c.mu.Unlock()

	c.syncCamera()
	return true
}

// Stop is a user cancel. Camera state and callbacks are left alone.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.scanning = false
	c.mu.Unlock()
}

// Close tears the session down. The camera is always told to stop, whatever
// the controller last believed its state to be.
func (c *Controller) Close() {
	c.mu.Lock()
	c.scanning = false
	c.cameraActive = false
	c.mu.Unlock()

	c.syncCamera()
}

// syncCamera pushes cameraActive to the camera. Calls are serialized and
// the last one always carries the latest state, so a change made while the
// camera is busy (even from inside its own SetActive) is applied right after.
func (c *Controller) syncCamera() {
	if c.camera == nil {
		return
	}
	for {
		c.mu.Lock()
		if c.syncing {
			c.cameraDirty = true
			c.mu.Unlock()
			return
		}
		want := c.cameraActive
		c.syncing = true
		c.cameraDirty = false
		c.mu.Unlock()

		c.camera.SetActive(want)

		c.mu.Lock()
		c.syncing = false
		again := c.cameraDirty || c.cameraActive != want
		c.mu.Unlock()
		if !again {
			return
		}
	}
}

// State returns a snapshot of the session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Scanning:       c.scanning,
		CameraActive:   c.cameraActive,
		LastAcceptedAt: c.lastAcceptedAt,
	}
}

// OnBatch evaluates the codes detected in one analyzed frame.
func (c *Controller) OnBatch(codes []DetectedCode) {
	c.mu.Lock()
	if !c.scanning {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	if !c.lastAcceptedAt.IsZero() && now.Sub(c.lastAcceptedAt) < c.debounce {
		c.mu.Unlock()
		return
	}
	value, ok := selectCode(codes, c.guide)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.lastAcceptedAt = now
	c.scanning = false
	c.cameraActive = false
	c.mu.Unlock()

	c.haptics.Pulse(c.pulse)
	c.syncCamera()
	if c.onScanned != nil {
		c.onScanned(value)
	}
	if c.onClose != nil {
		c.scheduler.Defer(c.onClose)
	}
}

// selectCode returns the trimmed value of the first code in batch order that
// carries a value and a frame on the guide line. A code on the line whose
// value is only whitespace discards the whole batch.
func selectCode(codes []DetectedCode, guide Guide) (string, bool) {
	for _, code := range codes {
		if code.Value == "" || code.Frame == nil {
			continue
		}
		if !guide.Accepts(*code.Frame) {
			continue
		}
		value := strings.TrimSpace(code.Value)
		if value == "" {
			return "", false
		}
		return value, true
	}
	return "", false
}
