// Package realtime bridges web pages to scan sessions over a websocket and a
// small REST API.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	scanerrors "scanbridge/internal/errors"
	"scanbridge/internal/logging"
	"scanbridge/internal/protocol"
	"scanbridge/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBufCap    = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Pages are served from arbitrary origins inside the shell.
	},
}

// Server manages websocket connections and routes messages between pages
// and the session manager.
type Server struct {
	sessionMgr *session.Manager
	staticDir  string
	log        *logrus.Entry

	clients   map[*client]bool
	clientsMu sync.RWMutex

	// subscriptions tracks event subscriptions per client.
	// key: client, value: map[sessionID]subscriptionID
	subscriptions   map[*client]map[string]string
	subscriptionsMu sync.Mutex

	// owned holds the sessions a client opened; they are cancelled when the
	// client goes away.
	owned   map[*client]map[string]bool
	ownedMu sync.Mutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	server *Server
}

// New creates a new realtime server.
func New(sessionMgr *session.Manager, staticDir string) *Server {
	return &Server{
		sessionMgr:    sessionMgr,
		staticDir:     staticDir,
		log:           logging.NewLogger("realtime"),
		clients:       make(map[*client]bool),
		subscriptions: make(map[*client]map[string]string),
		owned:         make(map[*client]map[string]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/sessions", s.handleOpenSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleCancelSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/start", s.handleStartSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/resume", s.handleResumeSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/stop", s.handleStopSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/cancel", s.handleCancelSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/camera", s.handleCameraStatus).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/frames", s.handleSubmitFrame).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/batch", s.handleSubmitBatch).Methods(http.MethodPost)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)

	if s.staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}

	return corsMiddleware(r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBufCap),
		done:   make(chan struct{}),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	s.subscriptionsMu.Lock()
	s.subscriptions[c] = make(map[string]string)
	s.subscriptionsMu.Unlock()

	s.log.WithField("remote", r.RemoteAddr).Debug("client connected")

	// Let the page know about sessions opened before it connected.
	s.sendSessionList(c)

	go c.writePump()
	go c.readPump()
}

// sendSessionList sends the state of every open session to a client.
func (s *Server) sendSessionList(c *client) {
	for _, sess := range s.sessionMgr.List() {
		msg, err := protocol.NewMessage(protocol.TypeScanState, statePayload(sess))
		if err != nil {
			continue
		}
		c.enqueue(msg)
	}
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.WithError(err).Warn("websocket read error")
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a message to the write pump without blocking.
func (c *client) enqueue(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		// Client buffer full, skip.
	}
}

// removeClient cleans up a disconnected client. Sessions it opened are
// cancelled: the page that asked for the scan is gone.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	s.subscriptionsMu.Lock()
	subs := s.subscriptions[c]
	delete(s.subscriptions, c)
	s.subscriptionsMu.Unlock()

	for sessionID, subID := range subs {
		s.sessionMgr.Unsubscribe(sessionID, subID)
	}

	s.ownedMu.Lock()
	owned := s.owned[c]
	delete(s.owned, c)
	s.ownedMu.Unlock()

	for sessionID := range owned {
		if err := s.sessionMgr.Cancel(sessionID); err == nil {
			s.log.WithField("session", sessionID).Info("cancelled scan of disconnected client")
		}
	}

	close(c.done)
}

// handleMessage processes a client message. Malformed messages are reported
// back to the page and never touch session state.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.log.WithError(err).Warn("rejected client message")
		s.sendError(c, scanerrors.Wrap(err, scanerrors.ErrCodeInvalidMessage, "invalid message"))
		return
	}

	switch msg.Type {
	case protocol.TypeRequestBarcodeScan:
		s.handleWSRequestScan(c, msg)
	case protocol.TypeScanStart:
		s.handleWSSessionOp(c, msg, s.sessionMgr.Start)
	case protocol.TypeScanResume:
		s.handleWSSessionOp(c, msg, s.sessionMgr.Resume)
	case protocol.TypeScanStop:
		s.handleWSSessionOp(c, msg, s.sessionMgr.Stop)
	case protocol.TypeScanCancel:
		s.handleWSCancel(c, msg)
	case protocol.TypeCameraStatus:
		s.handleWSCameraStatus(c, msg)
	case protocol.TypeScanBatch:
		s.handleWSBatch(c, msg)
	}
}

func (s *Server) handleWSRequestScan(c *client, msg *protocol.Message) {
	var payload protocol.RequestBarcodeScanPayload
	json.Unmarshal(msg.Payload, &payload)

	sess, err := s.sessionMgr.Open(session.OpenRequest{
		ViewportHeight: payload.ViewportHeight,
		DeviceID:       payload.DeviceID,
		HasPermission:  payload.HasPermission,
		Label:          payload.Label,
	})
	if err != nil {
		s.sendError(c, err)
		return
	}

	s.ownedMu.Lock()
	if s.owned[c] == nil {
		s.owned[c] = make(map[string]bool)
	}
	s.owned[c][sess.ID] = true
	s.ownedMu.Unlock()

	s.subscribeClient(c, sess.ID)
}

func (s *Server) handleWSSessionOp(c *client, msg *protocol.Message, op func(string) (*session.Session, error)) {
	var payload protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &payload)

	if _, err := op(payload.SessionID); err != nil {
		s.sendError(c, err)
	}
}

func (s *Server) handleWSCancel(c *client, msg *protocol.Message) {
	var payload protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &payload)

	if err := s.sessionMgr.Cancel(payload.SessionID); err != nil {
		s.sendError(c, err)
	}
}

func (s *Server) handleWSCameraStatus(c *client, msg *protocol.Message) {
	var payload protocol.CameraStatusPayload
	json.Unmarshal(msg.Payload, &payload)

	if _, err := s.sessionMgr.UpdateCamera(payload.SessionID, payload.HasPermission, payload.DeviceID); err != nil {
		s.sendError(c, err)
	}
}

func (s *Server) handleWSBatch(c *client, msg *protocol.Message) {
	var payload protocol.ScanBatchPayload
	json.Unmarshal(msg.Payload, &payload)

	if _, err := s.sessionMgr.SubmitBatch(payload.SessionID, payload.Codes); err != nil {
		s.sendError(c, err)
	}
}

// subscribeAllClients subscribes all connected clients to a session's events.
func (s *Server) subscribeAllClients(sessionID string) {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		s.subscribeClient(c, sessionID)
	}
}

// subscribeClient subscribes a single client to a session's events and
// replays the buffered history.
func (s *Server) subscribeClient(c *client, sessionID string) {
	s.subscriptionsMu.Lock()
	if _, exists := s.subscriptions[c][sessionID]; exists {
		s.subscriptionsMu.Unlock()
		return // Already subscribed.
	}
	s.subscriptionsMu.Unlock()

	subID, ch, history, err := s.sessionMgr.Subscribe(sessionID)
	if err != nil {
		return
	}

	s.subscriptionsMu.Lock()
	if s.subscriptions[c] == nil {
		s.subscriptions[c] = make(map[string]string)
	}
	s.subscriptions[c][sessionID] = subID
	s.subscriptionsMu.Unlock()

	for _, event := range history {
		s.sendEvent(c, event)
	}

	go func() {
		for event := range ch {
			s.sendEvent(c, event)
		}

		s.subscriptionsMu.Lock()
		if subs := s.subscriptions[c]; subs != nil && subs[sessionID] == subID {
			delete(subs, sessionID)
		}
		s.subscriptionsMu.Unlock()

		s.ownedMu.Lock()
		delete(s.owned[c], sessionID)
		s.ownedMu.Unlock()
	}()
}

// sendEvent translates a session event into the page protocol.
func (s *Server) sendEvent(c *client, event session.Event) {
	msg, err := eventMessage(event)
	if err != nil || msg == nil {
		return
	}
	c.enqueue(msg)
}

func eventMessage(event session.Event) (*protocol.Message, error) {
	switch event.Type {
	case session.EventState:
		if event.Session == nil {
			return nil, nil
		}
		return protocol.NewMessage(protocol.TypeScanState, statePayload(event.Session))
	case session.EventHaptic:
		return protocol.NewMessage(protocol.TypeHaptic, protocol.HapticPayload{
			SessionID:  event.SessionID,
			DurationMs: event.Duration.Milliseconds(),
		})
	case session.EventScanned:
		return protocol.NewBarcodeMessage(event.SessionID, event.Value)
	case session.EventClosed:
		return protocol.NewMessage(protocol.TypeScanClosed, protocol.ScanClosedPayload{
			SessionID: event.SessionID,
			Reason:    event.Reason,
		})
	}
	return nil, nil
}

func statePayload(sess *session.Session) protocol.ScanStatePayload {
	return protocol.ScanStatePayload{
		ID:           sess.ID,
		State:        string(sess.State),
		Label:        sess.Label,
		Guide:        sess.Guide,
		MarkerY:      sess.Guide.MarkerY(),
		CameraActive: sess.CameraActive,
		CreatedAt:    sess.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Server) sendError(c *client, err error) {
	code := scanerrors.GetCode(err)
	if code == "" {
		code = scanerrors.ErrCodeInternal
	}
	msg, mErr := protocol.NewErrorMessage(string(code), err.Error())
	if mErr != nil {
		return
	}
	c.enqueue(msg)
}
