package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-livechat/internal/ipinfo"
	myMiddleware "go-livechat/internal/middleware"
	"go-livechat/internal/presence"
	"go-livechat/internal/ratelimit"
)

const (
	lookupTimeout = 3 * time.Second
	// maxDisplayName matches chat_messages.sender_name.
	maxDisplayName = 64
)

// History serves previously relayed messages.
type History interface {
	RecentMessages(ctx context.Context, limit int) ([]ChatMessage, error)
}

type Handler struct {
	hub      *Hub
	limiter  ratelimit.Limiter
	resolver ipinfo.Resolver
	history  History
	upgrader websocket.Upgrader
	started  time.Time
	log      zerolog.Logger
}

// NewHandler wires the websocket entry point. history may be nil when nothing is archived.
func NewHandler(hub *Hub, limiter ratelimit.Limiter, resolver ipinfo.Resolver, history History, allowedOrigin string, logger zerolog.Logger) *Handler {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if resolver == nil {
		resolver = ipinfo.StaticResolver{}
	}
	return &Handler{
		hub:      hub,
		limiter:  limiter,
		resolver: resolver,
		history:  history,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     OriginChecker(allowedOrigin),
		},
		started: time.Now(),
		log:     logger,
	}
}

// OriginChecker allows every origin when allowed is empty or "*".
func OriginChecker(allowed string) func(r *http.Request) bool {
	if allowed == "" || allowed == "*" {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == allowed
	}
}

func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	ip := ipinfo.ClientIP(r)
	if !ipinfo.IsLocal(ip) {
		allowed, err := h.limiter.Allow(r.Context(), ip)
		if err != nil {
			// fail open: presence is advisory and a limiter outage should not lock everyone out
			h.log.Warn().Err(err).Str("ip", ip).Msg("[chat] rate limiter unavailable")
		} else if !allowed {
			h.log.Warn().Str("ip", ip).Msg("[chat] too many connections, refusing")
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("[chat] upgrade failed")
		return
	}

	connID := uuid.NewString()
	displayName := guestName(connID)
	if _, username, ok := myMiddleware.IdentityFrom(r.Context()); ok {
		if name := clampName(username); name != "" {
			displayName = name
		}
	}

	// Geo lookup happens here, on the connection's own goroutine, never on the hub loop.
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	info := h.resolver.Lookup(ctx, ip)
	cancel()

	client := newClient(h.hub, conn, connID)
	if !h.hub.enqueueRegister(client, presence.Meta{DisplayName: displayName, RemoteAddress: ip, Info: &info}) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func guestName(connID string) string {
	return "guest-" + connID[:6]
}

// clampName trims a display name and cuts it to maxDisplayName runes.
func clampName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= maxDisplayName {
		return name
	}
	return strings.TrimSpace(string([]rune(name)[:maxDisplayName]))
}

// GetChatHistory returns the most recent archived messages, oldest first.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "chat history is not enabled", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 100)
	}

	msgs, err := h.history.RecentMessages(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("[chat] load history failed")
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []ChatMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

type healthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Online        int       `json:"online"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:        "ok",
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Online:        h.hub.Online(),
	})
}
