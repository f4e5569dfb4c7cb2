package danmaku

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-livechat/internal/protocol"
)

func newTestRouter(store Store) (*Handler, http.Handler) {
	h := NewHandler(NewService(store), DefaultSchedulerConfig(), nil, zerolog.Nop())
	r := chi.NewRouter()
	r.Get("/api/videos/{videoID}/danmaku", h.List)
	r.Post("/api/videos/{videoID}/danmaku", h.Create)
	r.Delete("/api/danmaku/{id}", h.Delete)
	r.Get("/ws/danmaku", h.ServePlayback)
	return h, r
}

func TestHandlerCreateListDelete(t *testing.T) {
	_, r := newTestRouter(NewMemoryStore())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/api/videos/v1/danmaku", strings.NewReader(`{"content":"wow","timeMs":3000,"color":"#00ff00"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body)
	}
	var created Item
	json.NewDecoder(rec.Body).Decode(&created)
	if created.VideoID != "v1" || created.TimeMs != 3000 || created.Color != "#00ff00" {
		t.Fatalf("unexpected item %+v", created)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/videos/v1/danmaku", nil))
	var items []Item
	json.NewDecoder(rec.Body).Decode(&items)
	if rec.Code != http.StatusOK || len(items) != 1 || items[0].ID != created.ID {
		t.Fatalf("list: status %d items %+v", rec.Code, items)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/danmaku/"+created.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/danmaku/"+created.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: status %d", rec.Code)
	}
}

func TestHandlerCreateRejectsBadInput(t *testing.T) {
	_, r := newTestRouter(NewMemoryStore())

	for _, body := range []string{`{"content":""}`, `{"content":"x","timeMs":-10}`, `not json`} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("POST", "/api/videos/v1/danmaku", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f protocol.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestPlaybackSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, Item{ID: "1", VideoID: "v1", Content: "first", TimeMs: 0, Type: TypeScroll, Color: DefaultColor})
	store.Create(ctx, Item{ID: "2", VideoID: "v1", Content: "second", TimeMs: 0, Type: TypeScroll, Color: DefaultColor})

	_, r := newTestRouter(store)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/danmaku?video=v1", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	f := readFrame(t, conn)
	var loaded protocol.DanmakuLoaded
	f.Decode(&loaded)
	if f.Event != protocol.EventDanmakuLoaded || loaded.Count != 2 {
		t.Fatalf("expected danmaku_loaded with 2 items, got %s %s", f.Event, f.Data)
	}

	conn.WriteJSON(protocol.Envelope{Event: protocol.EventTick, Data: protocol.PlaybackPosition{CurrentTimeMs: 0}})
	f = readFrame(t, conn)
	var events []Event
	f.Decode(&events)
	if f.Event != protocol.EventDanmakuEvents || len(events) != 2 || events[0].TrackIndex == events[1].TrackIndex {
		t.Fatalf("unexpected tick result %s %+v", f.Event, events)
	}

	conn.WriteJSON(protocol.Envelope{Event: protocol.EventTick, Data: protocol.PlaybackPosition{CurrentTimeMs: 500}})
	conn.WriteJSON(protocol.Envelope{Event: protocol.EventSendDanmaku, Data: CreateRequest{Content: "live!"}})
	f = readFrame(t, conn)
	events = nil
	f.Decode(&events)
	if len(events) != 1 || events[0].Content != "live!" || events[0].Action != ActionShow {
		t.Fatalf("live danmaku should show immediately, got %+v", events)
	}

	saved, _ := store.List(ctx, "v1")
	if len(saved) != 3 || saved[2].TimeMs != 500 {
		t.Fatalf("live danmaku should be stored at the playhead, got %+v", saved)
	}

	conn.WriteJSON(protocol.Envelope{Event: protocol.EventSendDanmaku, Data: CreateRequest{Content: ""}})
	f = readFrame(t, conn)
	var ack protocol.ErrorAck
	f.Decode(&ack)
	if f.Event != protocol.EventError || ack.Event != protocol.EventSendDanmaku {
		t.Fatalf("expected an error ack, got %s %s", f.Event, f.Data)
	}
}

func TestPlaybackRequiresVideo(t *testing.T) {
	_, r := newTestRouter(NewMemoryStore())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/ws/danmaku", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
