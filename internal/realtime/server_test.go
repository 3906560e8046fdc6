package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"amicare/internal/protocol"
	"amicare/internal/session"
)

func newTestServer(t *testing.T) (*Server, *Store) {
	t.Helper()
	st, _ := newTestStore(t)
	return New(st, Options{HistorySize: 10}), st
}

func serve(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Message
}

func TestServer_SessionTab(t *testing.T) {
	srv, st := newTestServer(t)
	createSession(t, st, session.StatusPending)
	handler := srv.Handler()

	w := serve(t, handler, "GET", "/sessions/tab?userId="+seekerID+"&isPsw=false", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var sessions []*session.Enriched
	json.NewDecoder(w.Body).Decode(&sessions)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].OtherUser == nil || sessions[0].OtherUser.ID != pswID {
		t.Errorf("expected enriched counterpart, got %+v", sessions[0].OtherUser)
	}
}

func TestServer_SessionTabMissingUser(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(t, srv.Handler(), "GET", "/sessions/tab", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_GetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(t, srv.Handler(), "GET", "/sessions/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if msg := errorMessage(t, w); !strings.Contains(msg, "nonexistent") {
		t.Errorf("expected message naming the session, got %q", msg)
	}
}

func TestServer_Actions(t *testing.T) {
	srv, st := newTestServer(t)
	handler := srv.Handler()
	s := createSession(t, st, session.StatusNewRequest)

	w := serve(t, handler, "PATCH", "/sessions/"+s.ID+"/accept", "")
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", w.Code)
	}

	for _, user := range []string{seekerID, pswID} {
		w = serve(t, handler, "PATCH", "/sessions/"+s.ID+"/book", `{"userId":"`+user+`"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("book as %s: expected 200, got %d", user, w.Code)
		}
	}

	got, _ := st.Get(s.ID)
	if got.Status != session.StatusConfirmed || got.LiveStatus != session.LiveUpcoming {
		t.Errorf("expected confirmed/upcoming, got %s/%s", got.Status, got.LiveStatus)
	}

	w = serve(t, handler, "PATCH", "/sessions/"+s.ID+"/decline", "")
	if w.Code != http.StatusConflict {
		t.Errorf("decline confirmed: expected 409, got %d", w.Code)
	}

	w = serve(t, handler, "PATCH", "/sessions/"+s.ID+"/cancel", "")
	if w.Code != http.StatusOK {
		t.Errorf("cancel: expected 200, got %d", w.Code)
	}

	w = serve(t, handler, "PATCH", "/sessions/"+s.ID+"/teleport", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown action: expected 404, got %d", w.Code)
	}
}

func TestServer_BookBadBody(t *testing.T) {
	srv, st := newTestServer(t)
	s := createSession(t, st, session.StatusPending)

	w := serve(t, srv.Handler(), "PATCH", "/sessions/"+s.ID+"/book", "invalid json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_ChecklistAndComments(t *testing.T) {
	srv, st := newTestServer(t)
	handler := srv.Handler()
	s := createSession(t, st, session.StatusConfirmed)

	w := serve(t, handler, "PUT", "/sessions/"+s.ID+"/checklist", `{"checklist":[{"id":"1","task":"Walk","completed":true}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("checklist: expected 200, got %d", w.Code)
	}

	w = serve(t, handler, "POST", "/sessions/"+s.ID+"/comments", `{"userId":"`+seekerID+`","text":"thanks"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("comment: expected 201, got %d", w.Code)
	}

	w = serve(t, handler, "POST", "/sessions/"+s.ID+"/report", `{"userId":"`+seekerID+`","reason":"no-show"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("report: expected 201, got %d", w.Code)
	}

	w = serve(t, handler, "POST", "/sessions/"+s.ID+"/messages", `{"userId":"`+pswID+`","message":"hello"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("message: expected 201, got %d", w.Code)
	}

	got, _ := st.Get(s.ID)
	if len(got.Checklist) != 1 || len(got.Comments) != 1 {
		t.Errorf("expected checklist and comment stored, got %+v %+v", got.Checklist, got.Comments)
	}
	if len(st.Reports(s.ID)) != 1 || len(st.Messages(s.ID)) != 1 {
		t.Error("expected report and message stored")
	}
}

func TestServer_Payments(t *testing.T) {
	srv, st := newTestServer(t)
	handler := srv.Handler()
	s := createSession(t, st, session.StatusPending)

	w := serve(t, handler, "GET", "/payments/stripe/onboarding-status/acct_1", "")
	var status map[string]bool
	json.NewDecoder(w.Body).Decode(&status)
	if !status["isOnboardingComplete"] || !status["payoutsEnabled"] {
		t.Errorf("expected onboarded account, got %v", status)
	}

	w = serve(t, handler, "POST", "/payments/create-intent",
		`{"amount":8750,"currency":"cad","sessionId":"`+s.ID+`","pswStripeAccountId":"acct_1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create-intent: expected 200, got %d", w.Code)
	}
	var intent struct {
		ClientSecret string `json:"clientSecret"`
	}
	json.NewDecoder(w.Body).Decode(&intent)
	if intent.ClientSecret == "" {
		t.Fatal("expected a client secret")
	}

	w = serve(t, handler, "POST", "/payments/verify-status", `{"clientSecret":"`+intent.ClientSecret+`"}`)
	var verify map[string]string
	json.NewDecoder(w.Body).Decode(&verify)
	if verify["status"] != "succeeded" {
		t.Errorf("expected succeeded, got %v", verify)
	}

	w = serve(t, handler, "POST", "/payments/create-intent", `{"amount":0,"currency":"cad","sessionId":"`+s.ID+`"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero amount: expected 400, got %d", w.Code)
	}
}

func TestServer_DevRoutes(t *testing.T) {
	srv, st := newTestServer(t)
	handler := srv.Handler()

	w := serve(t, handler, "POST", "/dev/users", `{"id":"psw-9","isPsw":true,"stripeAccountId":"acct_9"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("put user: expected 201, got %d", w.Code)
	}
	if !st.PayoutAccountKnown("acct_9") {
		t.Error("expected acct_9 to be known")
	}

	w = serve(t, handler, "POST", "/dev/sessions", `{"id":"s9","senderId":"`+seekerID+`","receiverId":"psw-9","status":"confirmed"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d", w.Code)
	}

	w = serve(t, handler, "POST", "/dev/sessions/s9/live-status", `{"liveStatus":"ready"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("live status: expected 200, got %d", w.Code)
	}

	got, _ := st.Get("s9")
	if got.LiveStatus != session.LiveReady {
		t.Errorf("expected ready, got %s", got.LiveStatus)
	}
}

func TestServer_TokenRequired(t *testing.T) {
	st, _ := newTestStore(t)
	handler := New(st, Options{Token: "secret"}).Handler()

	w := serve(t, handler, "GET", "/sessions/tab?userId="+seekerID, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}

	req := httptest.NewRequest("GET", "/sessions/tab?userId="+seekerID, nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 with token, got %d", rec.Code)
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(t, srv.Handler(), "OPTIONS", "/sessions/tab", "")
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS Allow-Origin header")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected preflight 200, got %d", w.Code)
	}
}

// WebSocket tests.

func dialWS(t *testing.T, httpSrv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType string, payload any) {
	t.Helper()
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(msg)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readType reads until a message of msgType arrives.
func readType(t *testing.T, ws *websocket.Conn, msgType string) *protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type == msgType {
			return &msg
		}
	}
}

func TestServer_WebSocketInvalidMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	ws := dialWS(t, httpSrv)
	ws.WriteMessage(websocket.TextMessage, []byte("not json"))

	resp := readType(t, ws, protocol.TypeError)
	var p protocol.ErrorPayload
	resp.Decode(&p)
	if p.Code != protocol.ErrInvalidMessage {
		t.Errorf("expected %s, got %s", protocol.ErrInvalidMessage, p.Code)
	}
}

func TestServer_WebSocketPing(t *testing.T) {
	srv, _ := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	ws := dialWS(t, httpSrv)
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
	readType(t, ws, protocol.TypePong)
}

func TestServer_WebSocketJoinUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	ws := dialWS(t, httpSrv)
	send(t, ws, protocol.TypeJoin, protocol.SessionIDPayload{SessionID: "missing"})

	resp := readType(t, ws, protocol.TypeError)
	var p protocol.ErrorPayload
	resp.Decode(&p)
	if p.Code != protocol.ErrSessionNotFound || p.SessionID != "missing" {
		t.Errorf("unexpected error payload %+v", p)
	}
}

func TestServer_WebSocketConfirmBeforeJoin(t *testing.T) {
	srv, st := newTestServer(t)
	s := confirmedSession(t, st)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	ws := dialWS(t, httpSrv)
	send(t, ws, protocol.TypeUserConfirm, protocol.UserConfirmPayload{SessionID: s.ID, UserID: seekerID})

	resp := readType(t, ws, protocol.TypeError)
	var p protocol.ErrorPayload
	resp.Decode(&p)
	if p.Code != protocol.ErrNotJoined {
		t.Errorf("expected %s, got %s", protocol.ErrNotJoined, p.Code)
	}
}

func TestServer_WebSocketMutualStart(t *testing.T) {
	srv, st := newTestServer(t)
	s := confirmedSession(t, st)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	seeker := dialWS(t, httpSrv)
	psw := dialWS(t, httpSrv)

	send(t, seeker, protocol.TypeJoin, protocol.SessionIDPayload{SessionID: s.ID})
	readType(t, seeker, protocol.TypeLiveStatusUpdate) // snapshot: upcoming
	send(t, psw, protocol.TypeJoin, protocol.SessionIDPayload{SessionID: s.ID})
	readType(t, psw, protocol.TypeLiveStatusUpdate)

	send(t, seeker, protocol.TypeUserConfirm, protocol.UserConfirmPayload{SessionID: s.ID, UserID: seekerID})

	confirmed := readType(t, psw, protocol.TypeUserConfirmed)
	var cp protocol.UserConfirmedPayload
	confirmed.Decode(&cp)
	if cp.UserID != seekerID {
		t.Errorf("expected confirmation from %s, got %s", seekerID, cp.UserID)
	}

	send(t, psw, protocol.TypeUserConfirm, protocol.UserConfirmPayload{SessionID: s.ID, UserID: pswID})

	for _, ws := range []*websocket.Conn{seeker, psw} {
		update := readType(t, ws, protocol.TypeLiveStatusUpdate)
		var lp protocol.LiveStatusPayload
		update.Decode(&lp)
		if lp.LiveStatus != string(session.LiveStarted) {
			t.Errorf("expected started, got %s", lp.LiveStatus)
		}
		if lp.Version != 2 {
			t.Errorf("expected version 2, got %d", lp.Version)
		}
	}

	got, _ := st.Get(s.ID)
	if got.Status != session.StatusInProgress {
		t.Errorf("expected inProgress, got %s", got.Status)
	}
}

func TestServer_WebSocketLateJoinReplaysHistory(t *testing.T) {
	srv, st := newTestServer(t)
	s := confirmedSession(t, st)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	change, err := st.SetLiveStatus(s.ID, session.LiveReady)
	if err != nil {
		t.Fatal(err)
	}
	srv.PushLiveStatus(change)

	ws := dialWS(t, httpSrv)
	send(t, ws, protocol.TypeJoin, protocol.SessionIDPayload{SessionID: s.ID})

	update := readType(t, ws, protocol.TypeLiveStatusUpdate)
	var lp protocol.LiveStatusPayload
	update.Decode(&lp)
	if lp.LiveStatus != string(session.LiveReady) || lp.Version != change.Version {
		t.Errorf("expected replayed ready@%d, got %s@%d", change.Version, lp.LiveStatus, lp.Version)
	}
}

func TestServer_WebSocketLeaveStopsEvents(t *testing.T) {
	srv, st := newTestServer(t)
	s := confirmedSession(t, st)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	ws := dialWS(t, httpSrv)
	send(t, ws, protocol.TypeJoin, protocol.SessionIDPayload{SessionID: s.ID})
	readType(t, ws, protocol.TypeLiveStatusUpdate)

	send(t, ws, protocol.TypeLeave, protocol.SessionIDPayload{SessionID: s.ID})
	// The ping round trip orders the leave before the push below.
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
	readType(t, ws, protocol.TypePong)

	change, _ := st.SetLiveStatus(s.ID, session.LiveReady)
	srv.PushLiveStatus(change)

	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := ws.ReadMessage(); err == nil {
		t.Errorf("expected no events after leave, got %s", data)
	}
}
