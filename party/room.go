package party

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/movieparty/server/store"
)

const (
	roomEventQueueSize = 256
)

// Options holds room-level timing knobs.
type Options struct {
	// LeaderlessTimeout shuts a room down after it has had no
	// connected leader for this long.
	LeaderlessTimeout time.Duration
	// RecordWatchPeriod is how often the room re-reads its party
	// record to detect out-of-band termination.
	RecordWatchPeriod time.Duration
}

// DefaultOptions returns the production room options.
func DefaultOptions() Options {
	return Options{
		LeaderlessTimeout: 5 * time.Minute,
		RecordWatchPeriod: 5 * time.Second,
	}
}

// Conn is one participant's outbound delivery channel. Deliver must be
// best-effort and non-blocking; Finalise is run by the room manager
// goroutine only.
type Conn interface {
	ID() string
	Role() Role
	RemoteAddr() string
	Deliver(m *Message) bool
	Finalise()
}

type endRequest struct {
	token  string
	reason string
	reply  chan error
}

type followersRequest struct {
	reply chan []string
}

// Room owns the membership set and last playback snapshot for one
// party. All mutation happens on the manager goroutine; other
// goroutines communicate through channels only.
type Room struct {
	Code string

	participants map[string]Conn
	leaders      map[string]Conn
	recvQueue    chan *Message
	enqClient    chan Conn
	deqClient    chan Conn
	endRequests  chan endRequest
	followerReqs chan followersRequest
	closing      chan struct{}

	leaderKey string
	viewerKey string
	snapshot  PlaybackSnapshot

	registry *Registry
	parties  store.PartyStore
	chat     store.ChatStore
	opts     Options
	log      zerolog.Logger
}

// NewRoom creates a room with the given code and no participants. The
// party and chat stores may be nil, which disables the record watch and
// the manual-sync chat notice.
func NewRoom(code string, reg *Registry, leaderKey, viewerKey string, parties store.PartyStore, chat store.ChatStore, opts Options, log zerolog.Logger) *Room {
	return &Room{
		Code:         code,
		participants: make(map[string]Conn),
		leaders:      make(map[string]Conn),
		recvQueue:    make(chan *Message, roomEventQueueSize),
		enqClient:    make(chan Conn),
		deqClient:    make(chan Conn),
		endRequests:  make(chan endRequest),
		followerReqs: make(chan followersRequest),
		closing:      make(chan struct{}),
		leaderKey:    leaderKey,
		viewerKey:    viewerKey,
		snapshot:     PlaybackSnapshot{Position: 0, Playing: false, ObservedAt: time.Now()},
		registry:     reg,
		parties:      parties,
		chat:         chat,
		opts:         opts,
		log:          log.With().Str("room", code).Logger(),
	}
}

// CheckLeaderKey verifies key against the room's leader token.
func (r *Room) CheckLeaderKey(key string) bool { return key == r.leaderKey }

// CheckViewerKey verifies key against the room's viewer token.
func (r *Room) CheckViewerKey(key string) bool { return key == r.viewerKey }

// Join registers c with the room manager. Fails once the room is gone.
func (r *Room) Join(c Conn) error {
	select {
	case r.enqClient <- c:
		return nil
	case <-r.closing:
		return ErrPartyEnded
	}
}

// Leave deregisters the participant. Safe to call on a dead room.
func (r *Room) Leave(c Conn) {
	select {
	case r.deqClient <- c:
	case <-r.closing:
	}
}

// Submit hands an inbound event to the room manager for relay.
func (r *Room) Submit(m *Message) error {
	select {
	case r.recvQueue <- m:
		return nil
	case <-r.closing:
		return ErrPartyEnded
	}
}

// RequestEnd asks the manager to terminate the session. Only the
// holder of the leader token may end a party.
func (r *Room) RequestEnd(token string) error {
	req := endRequest{token: token, reason: "party ended by leader", reply: make(chan error, 1)}
	select {
	case r.endRequests <- req:
	case <-r.closing:
		return ErrPartyEnded
	}
	select {
	case err := <-req.reply:
		return err
	case <-r.closing:
		return nil
	}
}

// Followers returns the ids of the currently connected follower
// participants, read consistently through the room manager.
func (r *Room) Followers() ([]string, error) {
	req := followersRequest{reply: make(chan []string, 1)}
	select {
	case r.followerReqs <- req:
	case <-r.closing:
		return nil, ErrPartyEnded
	}
	select {
	case ids := <-req.reply:
		return ids, nil
	case <-r.closing:
		return nil, ErrPartyEnded
	}
}

// RunManager runs the room's event loop until the session ends.
func (r *Room) RunManager() {
	leaderlessTimer := time.NewTimer(r.opts.LeaderlessTimeout)
	watchTicker := time.NewTicker(r.opts.RecordWatchPeriod)
	defer func() {
		leaderlessTimer.Stop()
		watchTicker.Stop()
		for _, c := range r.participants {
			r.killParticipant(c)
		}
		select {
		case r.registry.deqRoom <- r:
		case <-r.registry.closing:
		}
	}()
	for {
		select {
		case m := <-r.recvQueue:
			if r.handleEvent(m) {
				return
			}
		case c := <-r.enqClient:
			r.joinParticipant(c)
			if c.Role() == RoleLeader && len(r.leaders) == 1 {
				if !leaderlessTimer.Stop() {
					select {
					case <-leaderlessTimer.C:
					default:
					}
				}
			}
		case c := <-r.deqClient:
			r.killParticipant(c)
			if c.Role() == RoleLeader && len(r.leaders) == 0 {
				leaderlessTimer.Reset(r.opts.LeaderlessTimeout)
			}
		case req := <-r.endRequests:
			if !r.CheckLeaderKey(req.token) {
				req.reply <- ErrForbidden
				continue
			}
			req.reply <- nil
			r.end(req.reason)
			return
		case req := <-r.followerReqs:
			ids := make([]string, 0, len(r.participants))
			for id := range r.participants {
				if _, isLeader := r.leaders[id]; !isLeader {
					ids = append(ids, id)
				}
			}
			sort.Strings(ids)
			req.reply <- ids
		case <-watchTicker.C:
			if r.recordDeactivated() {
				r.end("party record deactivated")
				return
			}
		case <-leaderlessTimer.C:
			r.end("no leader connected")
			return
		case <-r.closing:
			return
		}
	}
}

// handleEvent validates and relays one inbound event. Reports whether
// the event terminated the session.
func (r *Room) handleEvent(m *Message) bool {
	c, ok := r.participants[m.Sender]
	if !ok {
		return false
	}
	if !m.Type.IsAuthoritative() {
		r.log.Debug().Str("participant", m.Sender).Str("type", string(m.Type)).Msg("dropping non-sync event")
		return false
	}
	if c.Role() != RoleLeader {
		r.log.Warn().Str("participant", m.Sender).Str("type", string(m.Type)).Msg("follower attempted an authoritative event")
		c.Deliver(&Message{
			Type:    EventTypeError,
			Party:   r.Code,
			Payload: &ErrorPayload{Code: "forbidden", Reason: ErrForbidden.Error()},
		})
		return false
	}

	now := time.Now()
	switch p := m.Payload.(type) {
	case *PlayPayload:
		r.snapshot = PlaybackSnapshot{Position: p.Position, Playing: true, ObservedAt: now}
	case *PausePayload:
		r.snapshot = PlaybackSnapshot{Position: p.Position, Playing: false, ObservedAt: now}
	case *SeekPayload:
		r.snapshot = PlaybackSnapshot{Position: p.Position, Playing: p.WasPlaying, ObservedAt: now}
	case *ManualSyncPayload:
		r.snapshot = PlaybackSnapshot{Position: p.Position, Playing: r.snapshot.Playing, ObservedAt: now}
		r.appendSyncNotice(p)
	case *PartyEndedPayload:
		r.end(p.Reason)
		return true
	default:
		r.log.Warn().Str("type", string(m.Type)).Msg("dropping event with malformed payload")
		return false
	}

	m.Party = r.Code
	r.broadcast(m, m.Sender)
	return false
}

// broadcast delivers m to every participant except the excluded one.
// Delivery per participant is best-effort; a full queue drops the event
// for that participant rather than stalling the room.
func (r *Room) broadcast(m *Message, exclude string) {
	for id, c := range r.participants {
		if id == exclude {
			continue
		}
		if !c.Deliver(m) {
			r.log.Warn().Str("participant", id).Msg("send queue full, dropping event")
		}
	}
}

// end broadcasts the terminal event to everyone, leader included, and
// deactivates the party record. An ended room never becomes active
// again.
func (r *Room) end(reason string) {
	r.log.Info().Str("reason", reason).Msg("party ended")
	r.broadcast(NewSyncEvent(EventTypePartyEnded, r.Code, &PartyEndedPayload{Reason: reason}), "")
	if r.parties != nil {
		if p, err := r.parties.Get(r.Code); err == nil && p.IsActive {
			p.IsActive = false
			if err := r.parties.Save(p); err != nil {
				r.log.Error().Err(err).Msg("failed to deactivate party record")
			}
		}
	}
}

func (r *Room) recordDeactivated() bool {
	if r.parties == nil {
		return false
	}
	p, err := r.parties.Get(r.Code)
	if err == store.ErrNotFound {
		return true
	}
	if err != nil {
		r.log.Error().Err(err).Msg("party record check failed")
		return false
	}
	return !p.IsActive
}

func (r *Room) appendSyncNotice(p *ManualSyncPayload) {
	if r.chat == nil {
		return
	}
	text := fmt.Sprintf("Video manually synced to %s", FormatPosition(p.Position))
	if p.Note != "" {
		text = fmt.Sprintf("%s (%s)", text, p.Note)
	}
	err := r.chat.Append(&store.Message{
		Party:     r.Code,
		Sender:    store.SystemSender,
		Text:      text,
		Timestamp: time.Now(),
	})
	if err != nil {
		r.log.Error().Err(err).Msg("failed to append sync notice")
	}
}

func (r *Room) joinParticipant(c Conn) {
	if c == nil {
		return
	}
	r.participants[c.ID()] = c
	if c.Role() == RoleLeader {
		r.leaders[c.ID()] = c
	}
	r.sendSnapshot(c)
}

// killParticipant removes a participant, NOT thread-safe.
func (r *Room) killParticipant(c Conn) {
	if c == nil {
		return
	}
	if existing, ok := r.participants[c.ID()]; ok && existing == c {
		r.log.Info().Str("participant", c.ID()).Str("remote", c.RemoteAddr()).Msg("removing participant")
		delete(r.participants, c.ID())
		delete(r.leaders, c.ID())
		c.Finalise()
	}
}

// sendSnapshot catches a fresh joiner up with the current playback
// state so it converges without waiting for the next leader event.
func (r *Room) sendSnapshot(c Conn) {
	now := time.Now()
	c.Deliver(&Message{
		Type:      EventTypeSnapshot,
		Party:     r.Code,
		Timestamp: float64(now.UnixNano()) / 1e9,
		Payload: &SnapshotPayload{
			Position:   r.snapshot.PositionAt(now),
			Playing:    r.snapshot.Playing,
			ObservedAt: float64(r.snapshot.ObservedAt.UnixNano()) / 1e9,
		},
	})
}

// FormatPosition renders a position in seconds as HH:MM:SS.
func FormatPosition(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
