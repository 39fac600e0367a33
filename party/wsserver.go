package party

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

const (
	// WebsocketSubprotocolV1 is the magic subprotocol clients must speak.
	WebsocketSubprotocolV1 = "movieparty_v1"
)

const (
	wsReadBufferSize    = 1024
	wsWriteBufferSize   = 1024
	clientSendQueueSize = 32
	clientRecvQueueSize = 32
	doCheckSubprotocol  = true
)

const (
	// WriteWait bounds a single outbound websocket write so one dead
	// participant cannot stall its sender goroutine indefinitely.
	WriteWait = 10 * time.Second
)

// GetWSUpgrader returns the websocket upgrader for party connections.
func GetWSUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		Subprotocols: []string{
			WebsocketSubprotocolV1,
		},
		CheckOrigin: func(r *http.Request) bool {
			return true
		}, // disable origin check
	}
}

// ClientConn encapsulates an established participant websocket
// connection. Reading, writing and protocol handling each run on their
// own goroutine.
type ClientConn struct {
	id        string
	conn      *websocket.Conn
	recvQueue chan *Message
	sendQueue chan *Message
	closing   chan struct{}
	role      Role
	room      *Room
	log       zerolog.Logger
}

// NewClientConn wraps a websocket connection as a room participant.
func NewClientConn(id string, room *Room, conn *websocket.Conn, role Role, log zerolog.Logger) *ClientConn {
	return &ClientConn{
		id:        id,
		conn:      conn,
		recvQueue: make(chan *Message, clientRecvQueueSize),
		sendQueue: make(chan *Message, clientSendQueueSize),
		closing:   make(chan struct{}),
		role:      role,
		room:      room,
		log:       log.With().Str("participant", id).Logger(),
	}
}

func (c *ClientConn) ID() string         { return c.id }
func (c *ClientConn) Role() Role         { return c.role }
func (c *ClientConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// Deliver enqueues m for sending without blocking. Returns false when
// the participant's queue is full or the connection is finished.
func (c *ClientConn) Deliver(m *Message) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.sendQueue <- m:
		return true
	default:
		return false
	}
}

// Finalise is run by the room manager goroutine. Only the closing
// channel is closed: Deliver may be racing on another goroutine, and a
// send on a closed sendQueue would panic the process. HandleSend exits
// through its closing case instead.
func (c *ClientConn) Finalise() {
	close(c.closing)
}

// HandleRecv reads from the websocket and deserialises inbound frames.
func (c *ClientConn) HandleRecv() {
	defer func() {
		close(c.recvQueue)
		c.room.Leave(c)
	}()
	for {
		select {
		case <-c.closing:
			return
		default:
			_, raw, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.log.Warn().Err(err).Msg("unexpected closure")
				}
				return
			}
			var msg Message
			if err := Deserialise(raw, &msg); err != nil {
				c.log.Warn().Err(err).Str("frame", string(raw)).Msg("dropping invalid message")
				continue
			}
			c.recvQueue <- &msg
		}
	}
}

// HandleSend writes queued messages to the websocket.
func (c *ClientConn) HandleSend() {
	defer func() {
		c.conn.Close()
		c.room.Leave(c)
	}()
	for {
		select {
		case msg := <-c.sendQueue:
			if msg.Type == EventTypePong {
				p := msg.Payload.(*PongPayload)
				p.SvcTime = time.Since(msg.ReceivedAt).Seconds()
			}
			b, _ := msg.Serialise()
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-c.closing:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// HandleProtocol dispatches inbound messages: pings are answered
// locally, sync events are stamped with the sender and handed to the
// room's relay. Authority is enforced by the relay, not here.
func (c *ClientConn) HandleProtocol() {
	defer func() {
		c.room.Leave(c)
	}()
	for {
		select {
		case m, ok := <-c.recvQueue:
			if !ok {
				return
			}
			m.Sender = c.id
			switch {
			case m.Type == EventTypePing:
				p := m.Payload.(*PingPayload)
				c.Deliver(&Message{
					ReceivedAt: m.ReceivedAt,
					Type:       EventTypePong,
					Party:      c.room.Code,
					Payload:    &PongPayload{SentAt: p.SentAt},
				})
			case m.Type.IsAuthoritative():
				if err := c.room.Submit(m); err != nil {
					return
				}
			default:
				// silently drop
			}
		case <-c.closing:
			return
		}
	}
}

func checkValidClient(reg *Registry, code string, token string) (*Room, Role, error) {
	if code == "" {
		return nil, RoleUnauthorised, ErrPartyNotFound
	}
	room, err := reg.Lookup(code)
	if err != nil {
		return nil, RoleUnauthorised, err
	}

	role := RoleUnauthorised
	if room.CheckLeaderKey(token) {
		role = RoleLeader
	} else if room.CheckViewerKey(token) {
		role = RoleFollower
	}
	if role == RoleUnauthorised {
		return nil, RoleUnauthorised, ErrInvalidToken
	}
	return room, role, nil
}

func handleWSClient(reg *Registry, upgrader *websocket.Upgrader, log zerolog.Logger, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	token := q.Get("token")

	room, role, err := checkValidClient(reg, code, token)
	if err != nil {
		log.Warn().Str("remote", r.RemoteAddr).Err(err).Msg("participant failed to connect")
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	if doCheckSubprotocol && conn.Subprotocol() != WebsocketSubprotocolV1 {
		conn.WriteMessage(websocket.CloseMessage, []byte("unsupported subprotocol version"))
		conn.Close()
		return
	}

	pid := xid.New().String()
	client := NewClientConn(pid, room, conn, role, log)

	go client.HandleProtocol()
	go client.HandleSend()
	go client.HandleRecv()

	client.sendQueue <- &Message{
		Type:  EventTypeHello,
		Party: code,
		Payload: &HelloPayload{
			Role:        role.String(),
			Participant: pid,
			Party:       code,
		},
	}
	if err := room.Join(client); err != nil {
		conn.Close()
		return
	}
	log.Info().
		Str("role", role.String()).
		Str("participant", pid).
		Str("remote", conn.RemoteAddr().String()).
		Str("room", code).
		Msg("participant joined")
}

// WSHandleFunc returns the http handler for party websocket joins.
func WSHandleFunc(reg *Registry, log zerolog.Logger) func(http.ResponseWriter, *http.Request) {
	upgrader := GetWSUpgrader()
	return func(w http.ResponseWriter, r *http.Request) {
		handleWSClient(reg, upgrader, log, w, r)
	}
}
