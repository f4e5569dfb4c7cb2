package danmaku

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	myMiddleware "go-livechat/internal/middleware"
	"go-livechat/internal/protocol"
)

const (
	playbackWriteWait  = 10 * time.Second
	playbackPongWait   = 60 * time.Second
	playbackPingPeriod = (playbackPongWait * 9) / 10
	playbackReadLimit  = 4096
)

// ServePlayback handles GET /ws/danmaku?video=ID. Each socket owns one Scheduler;
// sessions are never shared, and the whole session is dropped when the socket closes.
func (h *Handler) ServePlayback(w http.ResponseWriter, r *http.Request) {
	videoID := r.URL.Query().Get("video")
	if videoID == "" {
		http.Error(w, "video is required", http.StatusBadRequest)
		return
	}
	items, err := h.svc.List(r.Context(), videoID)
	if err != nil {
		h.log.Error().Err(err).Str("video_id", videoID).Msg("[danmaku] load for playback failed")
		http.Error(w, "failed to load danmaku", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("[danmaku] upgrade failed")
		return
	}

	userID, _, _ := myMiddleware.IdentityFrom(r.Context())
	logger := h.log.With().Str("video_id", videoID).Logger()
	sess := &playbackSession{
		conn:    conn,
		sched:   NewScheduler(items, h.cfg, logger),
		svc:     h.svc,
		videoID: videoID,
		userID:  userID,
		log:     logger,
	}
	sess.run()
}

type playbackSession struct {
	conn    *websocket.Conn
	sched   *Scheduler
	svc     *Service
	videoID string
	userID  string
	log     zerolog.Logger
}

// run reads frames until the socket closes. Reads, scheduling and writes all happen on
// this goroutine; only pings are sent from a helper, through WriteControl.
func (s *playbackSession) run() {
	done := make(chan struct{})
	defer func() {
		close(done)
		s.conn.Close()
	}()
	go s.keepAlive(done)

	s.conn.SetReadLimit(playbackReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(playbackPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(playbackPongWait))
	})

	if err := s.write(protocol.EventDanmakuLoaded, protocol.DanmakuLoaded{Count: s.sched.Len()}); err != nil {
		return
	}

	for {
		var f protocol.Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("[danmaku] playback read failed")
			}
			return
		}
		if err := s.handle(f); err != nil {
			if errors.Is(err, errWrite) {
				return
			}
			if werr := s.write(protocol.EventError, protocol.ErrorAck{Event: f.Event, Message: err.Error()}); werr != nil {
				return
			}
		}
	}
}

var errWrite = errors.New("playback write failed")

func (s *playbackSession) handle(f protocol.Frame) error {
	switch f.Event {
	case protocol.EventTick, protocol.EventSeek:
		var pos protocol.PlaybackPosition
		if err := f.Decode(&pos); err != nil {
			return errors.New("invalid payload")
		}
		var events []Event
		if f.Event == protocol.EventSeek {
			events = s.sched.Seek(pos.CurrentTimeMs)
		} else {
			events = s.sched.Advance(pos.CurrentTimeMs)
		}
		return s.emit(events)

	case protocol.EventSendDanmaku:
		var req CreateRequest
		if err := f.Decode(&req); err != nil {
			return errors.New("invalid payload")
		}
		req.TimeMs = s.sched.Position()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		item, err := s.svc.Create(ctx, s.videoID, s.userID, req)
		if errors.Is(err, ErrInvalidItem) {
			return err
		}
		if err != nil {
			s.log.Error().Err(err).Msg("[danmaku] live create failed")
			return errors.New("failed to save danmaku")
		}
		if err := s.sched.Insert(item); err != nil {
			return err
		}
		// Show it right away rather than waiting for the next tick.
		return s.emit(s.sched.Advance(s.sched.Position()))

	default:
		return errors.New("unknown event")
	}
}

func (s *playbackSession) emit(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.write(protocol.EventDanmakuEvents, events)
}

func (s *playbackSession) write(event string, data any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(playbackWriteWait))
	if err := s.conn.WriteJSON(protocol.Envelope{Event: event, Data: data}); err != nil {
		s.log.Debug().Err(err).Msg("[danmaku] playback write failed")
		return errWrite
	}
	return nil
}

func (s *playbackSession) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(playbackPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(playbackWriteWait)); err != nil {
				return
			}
		}
	}
}
