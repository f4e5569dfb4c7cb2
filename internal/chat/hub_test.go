package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	myMiddleware "go-livechat/internal/middleware"
	"go-livechat/internal/presence"
	"go-livechat/internal/protocol"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(presence.NewRegistry(), HubConfig{SweepPeriod: 50 * time.Millisecond}, zerolog.Nop())
	go hub.Run(ctx)

	h := NewHandler(hub, nil, nil, nil, "", zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one with the given event satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, event string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f protocol.Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if f.Event == event && (match == nil || match(f.Data)) {
			return f.Data
		}
	}
}

func countIs(n int) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var c protocol.UserCount
		json.Unmarshal(raw, &c)
		return c.Count == n
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(protocol.Envelope{Event: event, Data: data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func TestHubRoomLifecycle(t *testing.T) {
	hub, srv := startHub(t)

	a := dial(t, srv)
	raw := readUntil(t, a, protocol.EventYourIP, nil)
	var me protocol.YourIP
	json.Unmarshal(raw, &me)
	if !strings.HasPrefix(me.DisplayName, "guest-") || me.Formatted != "local" {
		t.Fatalf("unexpected your_ip: %+v", me)
	}
	readUntil(t, a, protocol.EventUserCount, countIs(1))

	b := dial(t, srv)
	readUntil(t, a, protocol.EventUserJoined, nil)
	readUntil(t, a, protocol.EventUserCount, countIs(2))
	readUntil(t, b, protocol.EventUserCount, countIs(2))
	if hub.Online() != 2 {
		t.Fatalf("expected 2 online, got %d", hub.Online())
	}

	hi := "hi"
	send(t, a, protocol.EventSendMessage, protocol.SendMessage{Message: &hi})
	isHi := func(raw json.RawMessage) bool {
		var m protocol.NewMessage
		json.Unmarshal(raw, &m)
		return m.Message == "hi" && m.ID != ""
	}
	readUntil(t, a, protocol.EventNewMessage, isHi)
	readUntil(t, b, protocol.EventNewMessage, isHi)

	b.Close()
	readUntil(t, a, protocol.EventUserLeft, nil)
	readUntil(t, a, protocol.EventUserCount, countIs(1))
}

func TestHubRejectsBadRequests(t *testing.T) {
	_, srv := startHub(t)
	a := dial(t, srv)
	readUntil(t, a, protocol.EventUserCount, countIs(1))

	errorFor := func(event string) func(json.RawMessage) bool {
		return func(raw json.RawMessage) bool {
			var ack protocol.ErrorAck
			json.Unmarshal(raw, &ack)
			return ack.Event == event
		}
	}

	send(t, a, "dance", nil)
	readUntil(t, a, protocol.EventError, errorFor("dance"))

	send(t, a, protocol.EventSendMessage, map[string]any{})
	readUntil(t, a, protocol.EventError, errorFor(protocol.EventSendMessage))

	blank := "   "
	send(t, a, protocol.EventSendMessage, protocol.SendMessage{Message: &blank})
	readUntil(t, a, protocol.EventError, errorFor(protocol.EventSendMessage))

	if err := a.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	readUntil(t, a, protocol.EventError, errorFor(""))

	// the connection survives all of the above
	send(t, a, protocol.EventJoin, nil)
	readUntil(t, a, protocol.EventOnlineUsers, nil)
}

func TestHubTypingReachesOthers(t *testing.T) {
	_, srv := startHub(t)
	a := dial(t, srv)
	readUntil(t, a, protocol.EventUserCount, countIs(1))
	b := dial(t, srv)
	readUntil(t, b, protocol.EventUserCount, countIs(2))

	send(t, a, protocol.EventTyping, protocol.Typing{IsTyping: true})
	raw := readUntil(t, b, protocol.EventUserTyping, nil)
	var ut protocol.UserTyping
	json.Unmarshal(raw, &ut)
	if !ut.IsTyping || !strings.HasPrefix(ut.Username, "guest-") {
		t.Fatalf("unexpected typing payload: %+v", ut)
	}
}

type stubHistory struct {
	limit int
	msgs  []ChatMessage
}

func (s *stubHistory) RecentMessages(_ context.Context, limit int) ([]ChatMessage, error) {
	s.limit = limit
	return s.msgs, nil
}

func TestGetChatHistory(t *testing.T) {
	hub := NewHub(presence.NewRegistry(), HubConfig{}, zerolog.Nop())
	hist := &stubHistory{msgs: []ChatMessage{{ID: "1", Body: "old"}}}
	h := NewHandler(hub, nil, nil, hist, "", zerolog.Nop())

	rec := httptest.NewRecorder()
	h.GetChatHistory(rec, httptest.NewRequest("GET", "/api/chat/messages?limit=500", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if hist.limit != 100 {
		t.Fatalf("limit should be capped at 100, got %d", hist.limit)
	}
	var got []ChatMessage
	json.NewDecoder(rec.Body).Decode(&got)
	if len(got) != 1 || got[0].Body != "old" {
		t.Fatalf("unexpected body: %+v", got)
	}

	rec = httptest.NewRecorder()
	h.GetChatHistory(rec, httptest.NewRequest("GET", "/api/chat/messages?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	noHistory := NewHandler(hub, nil, nil, nil, "", zerolog.Nop())
	rec = httptest.NewRecorder()
	noHistory.GetChatHistory(rec, httptest.NewRequest("GET", "/api/chat/messages", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestOriginChecker(t *testing.T) {
	check := OriginChecker("https://example.com")
	r := httptest.NewRequest("GET", "/ws", nil)
	if !check(r) {
		t.Fatal("requests without Origin are allowed")
	}
	r.Header.Set("Origin", "https://evil.example")
	if check(r) {
		t.Fatal("foreign origin must be refused")
	}
	if !OriginChecker("*")(r) {
		t.Fatal("wildcard allows everything")
	}
}

func TestHealthReportsOnline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(presence.NewRegistry(), HubConfig{}, zerolog.Nop())
	go hub.Run(ctx)

	h := NewHandler(hub, nil, nil, nil, "", zerolog.Nop())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWs)
	mux.HandleFunc("/health", h.Health)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	readUntil(t, conn, protocol.EventUserCount, countIs(1))

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["online"] != float64(1) {
		t.Fatalf("unexpected health response %d %+v", resp.StatusCode, body)
	}
	for _, field := range []string{"timestamp", "uptime_seconds"} {
		if _, ok := body[field]; !ok {
			t.Fatalf("health response missing %s: %+v", field, body)
		}
	}
}

func TestIdentifiedNameIsClamped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(presence.NewRegistry(), HubConfig{}, zerolog.Nop())
	go hub.Run(ctx)

	long := strings.Repeat("é", 100)
	h := NewHandler(hub, nil, nil, nil, "", zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWs(w, r.WithContext(myMiddleware.WithIdentity(r.Context(), "u-1", long)))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
	})

	conn := dial(t, srv)
	var me protocol.YourIP
	json.Unmarshal(readUntil(t, conn, protocol.EventYourIP, nil), &me)
	if me.DisplayName != strings.Repeat("é", maxDisplayName) {
		t.Fatalf("display name not clamped to %d runes: %q", maxDisplayName, me.DisplayName)
	}
}

func TestClampName(t *testing.T) {
	cases := map[string]string{
		"  alice  ":              "alice",
		"":                       "",
		strings.Repeat("a", 64):  strings.Repeat("a", 64),
		strings.Repeat("ab", 40): strings.Repeat("ab", 32),
	}
	for in, want := range cases {
		if got := clampName(in); got != want {
			t.Errorf("clampName(%q) = %q, want %q", in, got, want)
		}
	}
}
