package danmaku

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	myMiddleware "go-livechat/internal/middleware"
)

type Handler struct {
	svc      *Service
	cfg      SchedulerConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(svc *Service, cfg SchedulerConfig, checkOrigin func(*http.Request) bool, logger zerolog.Logger) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		svc: svc,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		log: logger,
	}
}

// List handles GET /api/videos/{videoID}/danmaku.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), chi.URLParam(r, "videoID"))
	if err != nil {
		h.log.Error().Err(err).Msg("[danmaku] list failed")
		http.Error(w, "failed to load danmaku", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Create handles POST /api/videos/{videoID}/danmaku.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID, _, _ := myMiddleware.IdentityFrom(r.Context())

	item, err := h.svc.Create(r.Context(), chi.URLParam(r, "videoID"), userID, req)
	if errors.Is(err, ErrInvalidItem) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("[danmaku] create failed")
		http.Error(w, "failed to save danmaku", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// Delete handles DELETE /api/danmaku/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "danmaku not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("[danmaku] delete failed")
		http.Error(w, "failed to delete danmaku", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
