package session

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"scanbridge/internal/detect"
	scanerrors "scanbridge/internal/errors"
	"scanbridge/internal/logging"
	"scanbridge/internal/scan"
)

const (
	defaultEventBufCap      = 100
	defaultSubscriberBufCap = 100
	defaultHistorySize      = 50
	// defaultViewportHeight is used when the page does not report its height.
	defaultViewportHeight = 800
)

// Options configures a Manager. Zero values fall back to the scan package
// defaults.
type Options struct {
	MaxSessions int
	HistorySize int
	Tolerance   float64
	Debounce    time.Duration
	Haptic      time.Duration
	Decoder     detect.Decoder
	Clock       scan.Clock
	Scheduler   scan.Scheduler
}

// Manager manages the lifecycle of scan sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*managedSession
	opts     Options
	history  *RingBuffer[Record]
	log      *logrus.Entry
}

type managedSession struct {
	id        string
	label     string
	createdAt time.Time

	ctrl   *scan.Controller
	stream *detect.Stream
	camera *deviceCamera
	cancel context.CancelFunc

	events      *RingBuffer[Event]
	subscribers map[string]chan Event
	subMu       sync.RWMutex

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewManager creates a new session manager.
func NewManager(opts Options) *Manager {
	opts = withDefaults(opts)
	return &Manager{
		sessions: make(map[string]*managedSession),
		opts:     opts,
		history:  NewRingBuffer[Record](opts.HistorySize),
		log:      logging.NewLogger("session"),
	}
}

func withDefaults(opts Options) Options {
	if opts.MaxSessions < 1 {
		opts.MaxSessions = 1
	}
	if opts.HistorySize < 1 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = scan.DefaultTolerance
	}
	if opts.Decoder == nil {
		opts.Decoder = detect.NewDetector(detect.DefaultSymbologies, false)
	}
	return opts
}

// Reconfigure swaps the scan settings used for sessions opened from now on.
// Open sessions keep their guide and debounce.
func (m *Manager) Reconfigure(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()

	historySize := m.opts.HistorySize
	m.opts = withDefaults(opts)
	m.opts.HistorySize = historySize
}

// Open creates a scan session for a freshly shown scan UI. The camera
// preview starts right away; scanning waits for Start.
func (m *Manager) Open(req OpenRequest) (*Session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.opts.MaxSessions {
		limit := m.opts.MaxSessions
		m.mu.Unlock()
		return nil, scanerrors.MaxSessions(limit)
	}
	opts := m.opts

	height := req.ViewportHeight
	if height <= 0 {
		height = defaultViewportHeight
	}

	stream := detect.NewStream(opts.Decoder)
	ms := &managedSession{
		id:          uuid.New().String(),
		label:       req.Label,
		createdAt:   time.Now().UTC(),
		stream:      stream,
		camera:      &deviceCamera{hasPermission: req.HasPermission, deviceID: req.DeviceID, stream: stream},
		events:      NewRingBuffer[Event](defaultEventBufCap),
		subscribers: make(map[string]chan Event),
	}
	ms.ctrl = scan.New(scan.GuideForViewport(height, opts.Tolerance), scan.Options{
		Camera:    ms.camera,
		Haptics:   eventHaptics{m: m, ms: ms},
		Clock:     opts.Clock,
		Scheduler: opts.Scheduler,
		OnScanned: func(value string) { m.accepted(ms, value) },
		OnClose:   func() { m.finish(ms, ReasonScanned) },
		Debounce:  opts.Debounce,
		Pulse:     opts.Haptic,
	})
	stream.Attach(ms.ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	ms.cancel = cancel
	m.sessions[ms.id] = ms
	m.mu.Unlock()

	go stream.Run(ctx)

	m.log.WithFields(logrus.Fields{
		"session": ms.id,
		"lineY":   ms.ctrl.Guide().LineY,
		"ready":   ms.ctrl.Ready(),
	}).Info("scan session opened")

	m.publishState(ms)
	view := ms.view()
	return &view, nil
}

// Start begins scanning. A session without camera permission or device
// stays in the waiting state and a CAMERA_UNAVAILABLE error is returned.
func (m *Manager) Start(id string) (*Session, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if !ms.ctrl.Start() {
		_, hasDevice := ms.camera.Device()
		return nil, scanerrors.CameraUnavailable(id, ms.camera.HasPermission(), hasDevice)
	}
	m.publishState(ms)
	view := ms.view()
	return &view, nil
}

// Resume re-arms a session that is not scanning.
func (m *Manager) Resume(id string) (*Session, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if !ms.ctrl.Ready() {
		_, hasDevice := ms.camera.Device()
		return nil, scanerrors.CameraUnavailable(id, ms.camera.HasPermission(), hasDevice)
	}
	if !ms.ctrl.Resume() {
		return nil, scanerrors.AlreadyScanning(id)
	}
	m.publishState(ms)
	view := ms.view()
	return &view, nil
}

// Stop pauses scanning without closing the session.
func (m *Manager) Stop(id string) (*Session, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	ms.ctrl.Stop()
	m.publishState(ms)
	view := ms.view()
	return &view, nil
}

// Cancel is the user closing the scan UI without a read. The close event is
// published before Cancel returns.
func (m *Manager) Cancel(id string) error {
	ms, err := m.lookup(id)
	if err != nil {
		return err
	}
	ms.ctrl.Stop()
	m.finish(ms, ReasonCancelled)
	return nil
}

// UpdateCamera records the phone's permission and device selection.
func (m *Manager) UpdateCamera(id string, hasPermission bool, deviceID string) (*Session, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	ms.camera.update(hasPermission, deviceID)
	m.publishState(ms)
	view := ms.view()
	return &view, nil
}

// SubmitFrame queues a camera frame for decoding. It reports false when the
// camera is inactive and the frame was discarded.
func (m *Manager) SubmitFrame(id string, img image.Image) (bool, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return false, err
	}
	return ms.stream.Publish(img), nil
}

// SubmitBatch delivers codes the phone detected itself.
func (m *Manager) SubmitBatch(id string, codes []scan.DetectedCode) (bool, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return false, err
	}
	return ms.stream.PushBatch(codes), nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	view := ms.view()
	return &view, nil
}

// List returns all open sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	all := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		all = append(all, ms)
	}
	m.mu.RUnlock()

	result := make([]*Session, 0, len(all))
	for _, ms := range all {
		view := ms.view()
		result = append(result, &view)
	}
	return result
}

// History returns the most recent accepted scans, oldest first.
func (m *Manager) History() []Record {
	return m.history.ReadAll()
}

// Subscribe creates a channel that receives events for a session.
// Returns the subscription ID, the channel and the buffered history.
func (m *Manager) Subscribe(id string) (string, <-chan Event, []Event, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return "", nil, nil, err
	}
	return m.subscribe(ms)
}

// subscribe registers a channel unless the session finished after lookup;
// finish closes only the channels it finds, so a late one would never close.
func (m *Manager) subscribe(ms *managedSession) (string, <-chan Event, []Event, error) {
	subID := uuid.New().String()
	ch := make(chan Event, defaultSubscriberBufCap)

	history := ms.events.ReadAll()

	ms.subMu.Lock()
	defer ms.subMu.Unlock()
	if ms.closed.Load() {
		return "", nil, nil, scanerrors.SessionClosed(ms.id)
	}
	ms.subscribers[subID] = ch

	return subID, ch, history, nil
}

// Unsubscribe removes a subscriber from a session.
func (m *Manager) Unsubscribe(sessionID, subID string) {
	m.mu.RLock()
	ms, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	if !ok {
		return
	}

	ms.subMu.Lock()
	if ch, exists := ms.subscribers[subID]; exists {
		close(ch)
		delete(ms.subscribers, subID)
	}
	ms.subMu.Unlock()
}

// Shutdown closes every open session.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	all := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		all = append(all, ms)
	}
	m.mu.RUnlock()

	for _, ms := range all {
		ms.ctrl.Stop()
		m.finish(ms, ReasonShutdown)
	}
}

func (m *Manager) lookup(id string) (*managedSession, error) {
	m.mu.RLock()
	ms, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, scanerrors.SessionNotFound(id)
	}
	if ms.closed.Load() {
		return nil, scanerrors.SessionClosed(id)
	}
	return ms, nil
}

// accepted runs synchronously inside the controller's accepting batch.
func (m *Manager) accepted(ms *managedSession, value string) {
	m.history.Write(Record{
		SessionID: ms.id,
		Label:     ms.label,
		Value:     value,
		ScannedAt: time.Now().UTC(),
	})
	m.publish(ms, Event{Type: EventScanned, Value: value})
	m.publishState(ms)

	m.log.WithFields(logrus.Fields{
		"session": ms.id,
		"value":   value,
	}).Info("code accepted")
}

// finish tears a session down once: camera released, stream stopped,
// closed event published, subscribers closed.
func (m *Manager) finish(ms *managedSession, reason string) {
	ms.closeOnce.Do(func() {
		ms.subMu.Lock()
		ms.closed.Store(true)
		ms.subMu.Unlock()

		ms.ctrl.Close()
		ms.cancel()

		m.mu.Lock()
		delete(m.sessions, ms.id)
		m.mu.Unlock()

		m.publish(ms, Event{Type: EventClosed, Reason: reason})

		ms.subMu.Lock()
		for subID, ch := range ms.subscribers {
			close(ch)
			delete(ms.subscribers, subID)
		}
		ms.subMu.Unlock()

		m.log.WithFields(logrus.Fields{
			"session": ms.id,
			"reason":  reason,
			"frames":  ms.stream.Stats().Received,
		}).Info("scan session closed")
	})
}

func (m *Manager) publishState(ms *managedSession) {
	view := ms.view()
	m.publish(ms, Event{Type: EventState, Session: &view})
}

// publish records an event and sends it to all subscribers.
func (m *Manager) publish(ms *managedSession, event Event) {
	event.SessionID = ms.id
	event.Timestamp = time.Now().UTC()
	ms.events.Write(event)

	ms.subMu.RLock()
	defer ms.subMu.RUnlock()

	for _, ch := range ms.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber channel full, drop the event.
		}
	}
}

func (ms *managedSession) view() Session {
	st := ms.ctrl.State()

	state := StateWaiting
	switch {
	case ms.closed.Load():
		state = StateClosed
	case st.Scanning:
		state = StateScanning
	case ms.ctrl.Ready():
		state = StateReady
	}

	deviceID, _ := ms.camera.Device()
	return Session{
		ID:            ms.id,
		State:         state,
		Label:         ms.label,
		CreatedAt:     ms.createdAt,
		Guide:         ms.ctrl.Guide(),
		CameraActive:  st.CameraActive,
		HasPermission: ms.camera.HasPermission(),
		DeviceID:      deviceID,
		Frames:        ms.stream.Stats(),
	}
}
