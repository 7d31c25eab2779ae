package scan

import (
	"math"
	"time"
)

const (
	// DebounceWindow is the minimum time between two accepted reads.
	DebounceWindow = 1200 * time.Millisecond
	// HapticPulse is the vibration length fired on accept.
	HapticPulse = 80 * time.Millisecond
	// DefaultTolerance is the ± pixel band around the guide line.
	DefaultTolerance = 20
	// MarkerOffset places the secondary overlay marker below the guide line.
	MarkerOffset = 30
)

// Rect is a bounding box in video frame coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CenterY returns the vertical center of the box.
func (r Rect) CenterY() float64 {
	return r.Y + r.Height/2
}

// DetectedCode is one code found in an analyzed frame.
type DetectedCode struct {
	Value  string `json:"value"`
	Format string `json:"format,omitempty"`
	Frame  *Rect  `json:"frame,omitempty"` // nil when the decoder could not localize the code
}

// Guide is the horizontal acceptance line a code must straddle.
type Guide struct {
	LineY     float64 `json:"lineY"`
	Tolerance float64 `json:"tolerance"`
}

// GuideForViewport centers the guide line in a viewport of the given height.
func GuideForViewport(height, tolerance float64) Guide {
	return Guide{LineY: height / 2, Tolerance: tolerance}
}

// Accepts reports whether r's vertical center lies within tolerance of the
// guide line. Horizontal position is ignored.
func (g Guide) Accepts(r Rect) bool {
	return math.Abs(r.CenterY()-g.LineY) <= g.Tolerance
}

// MarkerY is where overlays draw the secondary marker line.
func (g Guide) MarkerY() float64 {
	return g.LineY + MarkerOffset
}

// State is a snapshot of a controller's session state.
type State struct {
	Scanning       bool      `json:"scanning"`
	CameraActive   bool      `json:"cameraActive"`
	LastAcceptedAt time.Time `json:"lastAcceptedAt"`
}

// Camera is the camera subsystem as seen by a controller.
type Camera interface {
	HasPermission() bool
	Device() (string, bool)
	SetActive(active bool)
}

// Haptics fires device feedback.
type Haptics interface {
	Pulse(d time.Duration)
}

// Clock supplies monotonic timestamps.
type Clock interface {
	Now() time.Time
}

// Scheduler runs f on a later scheduling opportunity, never inline.
type Scheduler interface {
	Defer(f func())
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type timerScheduler struct{}

func (timerScheduler) Defer(f func()) { time.AfterFunc(0, f) }

type noHaptics struct{}

func (noHaptics) Pulse(time.Duration) {}
