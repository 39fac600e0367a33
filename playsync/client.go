package playsync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/movieparty/server/party"
)

const (
	clientWriteWait    = 5 * time.Second
	heartbeatInterval  = 1 * time.Second
	clientEventBacklog = 32
)

// Client is a headless party participant: it joins a room over the
// websocket channel and drives either a detector (leader role) or a
// reconciler (follower role) against a local player adapter.
type Client struct {
	conn   *websocket.Conn
	code   string
	role   string
	pid    string
	events chan *party.Message
	stop   chan struct{}
	log    zerolog.Logger
}

// Dial connects to a party and performs the hello handshake.
func Dial(dialer *websocket.Dialer, addr, code, token string, log zerolog.Logger) (*Client, error) {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
			Subprotocols:     []string{party.WebsocketSubprotocolV1},
		}
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("code", code)
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	_, b, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, err
	}
	var hello party.Message
	if err := party.Deserialise(b, &hello); err != nil {
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
		return nil, err
	}
	if hello.Type != party.EventTypeHello {
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q, want %q", hello.Type, party.EventTypeHello)
	}
	h := hello.Payload.(*party.HelloPayload)

	return &Client{
		conn:   conn,
		code:   code,
		role:   h.Role,
		pid:    h.Participant,
		events: make(chan *party.Message, clientEventBacklog),
		stop:   make(chan struct{}),
		log:    log.With().Str("room", code).Str("participant", h.Participant).Logger(),
	}, nil
}

// Role reported by the server during the handshake.
func (c *Client) Role() string { return c.role }

// ParticipantID assigned by the server.
func (c *Client) ParticipantID() string { return c.pid }

// Events delivers inbound messages in the order the server sent them.
func (c *Client) Events() <-chan *party.Message { return c.events }

// Emit implements Emitter over the websocket channel.
func (c *Client) Emit(m *party.Message) error {
	b, err := m.Serialise()
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Close tears the connection down.
func (c *Client) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
	c.conn.Close()
}

// HandleRecv reads inbound frames until the connection dies.
func (c *Client) HandleRecv() {
	defer func() {
		close(c.events)
		c.conn.Close()
	}()
	for {
		select {
		case <-c.stop:
			return
		default:
			_, b, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			var m party.Message
			if err := party.Deserialise(b, &m); err != nil {
				c.log.Warn().Err(err).Msg("dropping invalid frame")
				continue
			}
			select {
			case c.events <- &m:
			case <-c.stop:
				return
			}
		}
	}
}

// SendHeartbeat probes RTT with periodic pings.
func (c *Client) SendHeartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := c.Emit(&party.Message{
				Type:    party.EventTypePing,
				Party:   c.code,
				Payload: &party.PingPayload{SentAt: float64(time.Now().UnixNano()) / 1e9},
			})
			if err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

// RunLeader runs the intent detector against player, emitting over
// this connection, until ctx is cancelled or the session ends. Inbound
// frames are drained so the read pump never stalls on a full backlog.
func (c *Client) RunLeader(ctx context.Context, player Player, tuning Tuning) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-c.events:
				if !ok {
					return
				}
				if m.Type == party.EventTypePartyEnded {
					c.log.Info().Msg("party ended")
					return
				}
			}
		}
	}()
	det := NewDetector(player, c, c.code, tuning, nil, c.log)
	det.Run(ctx)
}

// RunFollower feeds inbound events into a reconciler for player. The
// follower never emits authoritative events.
func (c *Client) RunFollower(ctx context.Context, player Player, tuning Tuning) {
	rec := NewReconciler(player, tuning, nil, c.log)
	go rec.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-c.events:
			if !ok {
				return
			}
			rec.Apply(m)
			if m.Type == party.EventTypePartyEnded {
				c.log.Info().Msg("party ended")
			}
		}
	}
}
