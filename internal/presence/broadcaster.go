package presence

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"go-livechat/internal/ipinfo"
	"go-livechat/internal/protocol"
)

// Meta is what the transport layer knows about a connection before it joins.
type Meta struct {
	DisplayName   string
	RemoteAddress string
	Info          *ipinfo.Info
}

// Broadcaster keeps every connected client informed about roster changes.
type Broadcaster struct {
	registry *Registry
	fanout   *Fanout
	now      func() time.Time
	log      zerolog.Logger
}

func NewBroadcaster(registry *Registry, out Outbox, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		fanout:   NewFanout(out, logger),
		now:      time.Now,
		log:      logger,
	}
}

// OnConnect registers the connection, tells it who it is, and announces the new roster.
func (b *Broadcaster) OnConnect(connID string, meta Meta) (Connection, error) {
	conn, err := b.registry.Register(connID, meta.DisplayName, meta.RemoteAddress, b.now().UTC())
	if err != nil {
		return Connection{}, fmt.Errorf("register %s: %w", connID, err)
	}

	b.fanout.To(conn.ID, protocol.Envelope{Event: protocol.EventYourIP, Data: protocol.YourIP{
		IP:          conn.RemoteAddress,
		Formatted:   ipinfo.Format(conn.RemoteAddress),
		DisplayName: conn.DisplayName,
		Info:        meta.Info,
	}})

	roster := b.registry.List()
	b.fanout.ToOthers(roster, conn.ID, protocol.Envelope{Event: protocol.EventUserJoined, Data: protocol.UserPresence{
		ID:        conn.ID,
		Username:  conn.DisplayName,
		Timestamp: conn.JoinedAt,
	}})
	b.announce(roster)

	b.log.Info().Str("conn_id", conn.ID).Str("name", conn.DisplayName).Int("online", len(roster)).Msg("[presence] joined")
	return conn, nil
}

// OnDisconnect removes the connection and announces the roster to whoever is left.
// Disconnects race with each other; an unknown id still triggers a roster broadcast.
func (b *Broadcaster) OnDisconnect(connID string) (Connection, bool) {
	conn, found := b.registry.Unregister(connID)
	roster := b.registry.List()

	if found {
		b.fanout.ToAll(roster, protocol.Envelope{Event: protocol.EventUserLeft, Data: protocol.UserPresence{
			ID:        conn.ID,
			Username:  conn.DisplayName,
			Timestamp: b.now().UTC(),
		}})
		b.log.Info().Str("conn_id", conn.ID).Str("name", conn.DisplayName).Int("online", len(roster)).Msg("[presence] left")
	} else {
		b.log.Debug().Str("conn_id", connID).Msg("[presence] disconnect for unknown connection")
	}
	b.announce(roster)
	return conn, found
}

// SendRoster re-sends the roster to a single connection (explicit join requests).
func (b *Broadcaster) SendRoster(connID string) {
	roster := b.registry.List()
	b.fanout.To(connID, protocol.Envelope{Event: protocol.EventOnlineUsers, Data: onlineUsers(roster)})
	b.fanout.To(connID, protocol.Envelope{Event: protocol.EventUserCount, Data: protocol.UserCount{Count: len(roster)}})
}

func (b *Broadcaster) announce(roster []Connection) {
	b.fanout.ToAll(roster, protocol.Envelope{Event: protocol.EventOnlineUsers, Data: onlineUsers(roster)})
	b.fanout.ToAll(roster, protocol.Envelope{Event: protocol.EventUserCount, Data: protocol.UserCount{Count: len(roster)}})
}

func onlineUsers(roster []Connection) []protocol.OnlineUser {
	users := make([]protocol.OnlineUser, len(roster))
	for i, c := range roster {
		users[i] = protocol.OnlineUser{ID: c.ID, Username: c.DisplayName, Timestamp: c.JoinedAt}
	}
	return users
}
