package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"go-livechat/internal/presence"
	"go-livechat/internal/protocol"
)

var (
	errClientGone   = errors.New("client is not connected")
	errSlowConsumer = errors.New("client send buffer is full")
)

// HubConfig holds the hub knobs.
type HubConfig struct {
	Relay       RelayConfig
	SendBuffer  int           // per-client outbound queue
	SweepPeriod time.Duration // how often idle typing flags are swept
}

type handlerFunc func(h *Hub, connID string, f protocol.Frame) error

// Hub is the single event loop of the chat room. Run is the only goroutine that touches
// clients, the registry's write side and the relay's typing state, so none of them lock
// against each other. Read pumps enqueue frames; nothing writes to a socket from here.
type Hub struct {
	registry *presence.Registry
	presence *presence.Broadcaster
	relay    *Relay
	fanout   *presence.Fanout

	clients  map[string]*Client
	handlers map[string]handlerFunc

	register   chan registration
	unregister chan *Client
	inbound    chan inboundFrame
	done       chan struct{}

	cfg HubConfig
	log zerolog.Logger
}

func NewHub(registry *presence.Registry, cfg HubConfig, logger zerolog.Logger, opts ...RelayOption) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.SweepPeriod <= 0 {
		cfg.SweepPeriod = time.Second
	}
	h := &Hub{
		registry:   registry,
		clients:    make(map[string]*Client),
		register:   make(chan registration),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, 64),
		done:       make(chan struct{}),
		cfg:        cfg,
		log:        logger,
	}
	h.presence = presence.NewBroadcaster(registry, h, logger)
	h.relay = NewRelay(registry, h, cfg.Relay, logger, opts...)
	h.fanout = presence.NewFanout(h, logger)
	h.handlers = map[string]handlerFunc{
		protocol.EventJoin:        handleJoin,
		protocol.EventSendMessage: handleSendMessage,
		protocol.EventTyping:      handleTyping,
	}
	return h
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.SweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Int("clients", len(h.clients)).Msg("[hub] shutting down")
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.send)
			}
			close(h.done)
			return

		case reg := <-h.register:
			h.onRegister(reg)

		case c := <-h.unregister:
			h.onUnregister(c)

		case in := <-h.inbound:
			h.dispatch(in)

		case now := <-ticker.C:
			h.relay.ExpireTyping(now.UTC())
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Online reports the current roster size. Safe to call from any goroutine.
func (h *Hub) Online() int {
	return h.registry.Count()
}

// Send implements presence.Outbox. It is only called from the Run goroutine.
func (h *Hub) Send(connID string, env protocol.Envelope) error {
	c, ok := h.clients[connID]
	if !ok {
		return errClientGone
	}
	payload, err := protocol.Marshal(env.Event, env.Data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Event, err)
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSlowConsumer
	}
}

func (h *Hub) onRegister(reg registration) {
	c := reg.client
	h.clients[c.id] = c
	if _, err := h.presence.OnConnect(c.id, reg.meta); err != nil {
		h.log.Error().Err(err).Str("conn_id", c.id).Msg("[hub] register failed")
		delete(h.clients, c.id)
		close(c.send)
	}
}

func (h *Hub) onUnregister(c *Client) {
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		close(c.send)
	}
	if conn, found := h.presence.OnDisconnect(c.id); found {
		h.relay.Forget(conn)
	}
}

func (h *Hub) dispatch(in inboundFrame) {
	if _, ok := h.clients[in.connID]; !ok {
		// frame from a client that already unregistered
		return
	}
	if in.err != nil {
		h.ack(in.connID, "", "malformed frame")
		return
	}
	handle, ok := h.handlers[in.frame.Event]
	if !ok {
		h.ack(in.connID, in.frame.Event, "unknown event")
		return
	}
	if err := handle(h, in.connID, in.frame); err != nil {
		h.log.Debug().Err(err).Str("conn_id", in.connID).Str("event", in.frame.Event).Msg("[hub] request rejected")
		h.ack(in.connID, in.frame.Event, err.Error())
	}
}

// ack reports a rejected request to its sender only.
func (h *Hub) ack(connID, event, message string) {
	h.fanout.To(connID, protocol.Envelope{Event: protocol.EventError, Data: protocol.ErrorAck{Event: event, Message: message}})
}

// enqueue* block until the loop accepts the request or has stopped.

func (h *Hub) enqueueRegister(c *Client, meta presence.Meta) bool {
	select {
	case h.register <- registration{client: c, meta: meta}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) enqueueUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) enqueueFrame(in inboundFrame) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// ---------------------------------------------
// Event handlers
// ---------------------------------------------

func handleJoin(h *Hub, connID string, _ protocol.Frame) error {
	h.presence.SendRoster(connID)
	return nil
}

func handleSendMessage(h *Hub, connID string, f protocol.Frame) error {
	var req protocol.SendMessage
	if err := f.Decode(&req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if req.Message == nil {
		return errors.New("invalid payload: message is required")
	}
	_, err := h.relay.SendMessage(connID, *req.Message)
	return err
}

func handleTyping(h *Hub, connID string, f protocol.Frame) error {
	var req protocol.Typing
	if err := f.Decode(&req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return h.relay.SetTyping(connID, req.IsTyping)
}
