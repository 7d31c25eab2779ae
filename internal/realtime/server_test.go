package realtime

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scanerrors "scanbridge/internal/errors"
	"scanbridge/internal/protocol"
	"scanbridge/internal/scan"
	"scanbridge/internal/session"
)

type blankDecoder struct{}

func (blankDecoder) Detect(image.Image) []scan.DetectedCode { return nil }

func newTestServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	sessMgr := session.NewManager(session.Options{MaxSessions: 10, Decoder: blankDecoder{}})
	t.Cleanup(sessMgr.Shutdown)
	return New(sessMgr, ""), sessMgr
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

const readyBody = `{"viewportHeight":800,"deviceId":"back","hasPermission":true,"label":"ticket"}`

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestServer_ListSessionsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(t, srv.Handler(), http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)

	var sessions []*session.Session
	decodeBody(t, w, &sessions)
	assert.Empty(t, sessions)
}

func TestServer_OpenSessionBadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(t, srv.Handler(), http.MethodPost, "/sessions", "invalid json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_INPUT")
}

func TestServer_OpenSessionNegativeViewport(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(t, srv.Handler(), http.MethodPost, "/sessions", `{"viewportHeight":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_GetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(t, srv.Handler(), http.MethodGet, "/sessions/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body scanerrors.ScanError
	decodeBody(t, w, &body)
	assert.Equal(t, scanerrors.ErrCodeSessionNotFound, body.Code)
	assert.Equal(t, "session not found: nonexistent", body.Message)
	assert.Equal(t, "nonexistent", body.Details["sessionId"])
}

func TestServer_RESTScanFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doRequest(t, h, http.MethodPost, "/sessions", readyBody)
	require.Equal(t, http.StatusCreated, w.Code)
	var sess session.Session
	decodeBody(t, w, &sess)
	assert.Equal(t, session.StateReady, sess.State)
	assert.Equal(t, 400.0, sess.Guide.LineY)

	w = doRequest(t, h, http.MethodPost, "/sessions/"+sess.ID+"/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &sess)
	assert.Equal(t, session.StateScanning, sess.State)

	batch := `{"codes":[` +
		`{"value":"OFF","frame":{"x":0,"y":0,"width":100,"height":20}},` +
		`{"value":" ON ","frame":{"x":0,"y":390,"width":100,"height":20}}]}`
	w = doRequest(t, h, http.MethodPost, "/sessions/"+sess.ID+"/batch", batch)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"accepted":true`)

	w = doRequest(t, h, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var records []session.Record
	decodeBody(t, w, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "ON", records[0].Value)
	assert.Equal(t, sess.ID, records[0].SessionID)
}

func TestServer_StartWithoutCamera(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doRequest(t, h, http.MethodPost, "/sessions", `{"viewportHeight":800}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var sess session.Session
	decodeBody(t, w, &sess)
	assert.Equal(t, session.StateWaiting, sess.State)

	w = doRequest(t, h, http.MethodPost, "/sessions/"+sess.ID+"/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "CAMERA_UNAVAILABLE")

	w = doRequest(t, h, http.MethodPost, "/sessions/"+sess.ID+"/camera", `{"hasPermission":true,"deviceId":"back"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, h, http.MethodPost, "/sessions/"+sess.ID+"/start", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_SubmitFrame(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doRequest(t, h, http.MethodPost, "/sessions", readyBody)
	require.Equal(t, http.StatusCreated, w.Code)
	var sess session.Session
	decodeBody(t, w, &sess)

	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/frames", &buf)
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":true`)

	w = doRequest(t, h, http.MethodPost, "/sessions/"+sess.ID+"/frames", "not an image")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_IMAGE")
}

func TestServer_CancelSession(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doRequest(t, h, http.MethodPost, "/sessions", readyBody)
	require.Equal(t, http.StatusCreated, w.Code)
	var sess session.Session
	decodeBody(t, w, &sess)

	w = doRequest(t, h, http.MethodPost, "/sessions/"+sess.ID+"/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, h, http.MethodGet, "/sessions/"+sess.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, h, http.MethodDelete, "/sessions/"+sess.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_CORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doRequest(t, srv.Handler(), http.MethodOptions, "/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendWS(t *testing.T, ws *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	msg := map[string]interface{}{
		"type":      msgType,
		"payload":   payload,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

// readUntil reads messages until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, msgType string) protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)

		var msg protocol.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestServer_WebSocketScanFlow(t *testing.T) {
	srv, sessMgr := newTestServer(t)
	ws := dialWS(t, srv)

	sendWS(t, ws, protocol.TypeRequestBarcodeScan, map[string]interface{}{
		"viewportHeight": 800,
		"deviceId":       "back",
		"hasPermission":  true,
	})

	var state protocol.ScanStatePayload
	require.NoError(t, json.Unmarshal(readUntil(t, ws, protocol.TypeScanState).Payload, &state))
	assert.Equal(t, "ready", state.State)
	assert.Equal(t, 430.0, state.MarkerY)
	sessionID := state.ID

	sendWS(t, ws, protocol.TypeScanStart, map[string]string{"sessionId": sessionID})
	require.NoError(t, json.Unmarshal(readUntil(t, ws, protocol.TypeScanState).Payload, &state))
	assert.Equal(t, "scanning", state.State)

	sendWS(t, ws, protocol.TypeScanBatch, map[string]interface{}{
		"sessionId": sessionID,
		"codes": []map[string]interface{}{
			{"value": "4006381333931", "frame": map[string]float64{"x": 0, "y": 380, "width": 120, "height": 40}},
		},
	})

	var haptic protocol.HapticPayload
	require.NoError(t, json.Unmarshal(readUntil(t, ws, protocol.TypeHaptic).Payload, &haptic))
	assert.Equal(t, int64(80), haptic.DurationMs)

	// Pages read the value straight off the message.
	barcode := readUntil(t, ws, protocol.TypeBarcode)
	assert.Equal(t, "4006381333931", barcode.Value)
	assert.Equal(t, sessionID, barcode.SessionID)

	var closed protocol.ScanClosedPayload
	require.NoError(t, json.Unmarshal(readUntil(t, ws, protocol.TypeScanClosed).Payload, &closed))
	assert.Equal(t, session.ReasonScanned, closed.Reason)

	assert.Empty(t, sessMgr.List())
}

func TestServer_WebSocketCancel(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dialWS(t, srv)

	sendWS(t, ws, protocol.TypeRequestBarcodeScan, map[string]interface{}{"hasPermission": true, "deviceId": "back"})
	var state protocol.ScanStatePayload
	require.NoError(t, json.Unmarshal(readUntil(t, ws, protocol.TypeScanState).Payload, &state))

	sendWS(t, ws, protocol.TypeScanCancel, map[string]string{"sessionId": state.ID})

	var closed protocol.ScanClosedPayload
	require.NoError(t, json.Unmarshal(readUntil(t, ws, protocol.TypeScanClosed).Payload, &closed))
	assert.Equal(t, session.ReasonCancelled, closed.Reason)
}

func TestServer_WebSocketInvalidMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dialWS(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, ws, protocol.TypeError).Payload, &payload))
	assert.Equal(t, "INVALID_MESSAGE", payload.Code)
}

func TestServer_WebSocketUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dialWS(t, srv)

	sendWS(t, ws, protocol.TypeScanStart, map[string]string{"sessionId": "nonexistent"})

	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, ws, protocol.TypeError).Payload, &payload))
	assert.Equal(t, "SESSION_NOT_FOUND", payload.Code)
}

func TestServer_DisconnectCancelsOwnedSessions(t *testing.T) {
	srv, sessMgr := newTestServer(t)
	ws := dialWS(t, srv)

	sendWS(t, ws, protocol.TypeRequestBarcodeScan, map[string]interface{}{})
	readUntil(t, ws, protocol.TypeScanState)
	require.Len(t, sessMgr.List(), 1)

	ws.Close()

	assert.Eventually(t, func() bool {
		return len(sessMgr.List()) == 0
	}, 2*time.Second, 20*time.Millisecond)
}
