package party

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/movieparty/server/store"
)

const (
	partyCodeLength     = 6
	tokenLength         = 32
	roomCreationTimeout = 5 * time.Second
)

// PartyInfo is returned to the creator of a party. Whoever holds the
// leader token is the session's sole leader of record; leadership does
// not transfer.
type PartyInfo struct {
	Code        string `json:"code"`
	LeaderToken string `json:"leaderToken"`
	ViewerToken string `json:"viewerToken"`
}

// Lifecycle creates and terminates parties. It owns the coupling
// between the room registry and the party record store.
type Lifecycle struct {
	registry *Registry
	parties  store.PartyStore
	chat     store.ChatStore
	opts     Options
	log      zerolog.Logger
}

// NewLifecycle wires a lifecycle controller. parties and chat may be
// nil in tests.
func NewLifecycle(reg *Registry, parties store.PartyStore, chat store.ChatStore, opts Options, log zerolog.Logger) *Lifecycle {
	assertCryptoPRNG()
	return &Lifecycle{
		registry: reg,
		parties:  parties,
		chat:     chat,
		opts:     opts,
		log:      log,
	}
}

// CreateParty allocates a code and tokens, persists the party record,
// and registers a live room for it.
func (l *Lifecycle) CreateParty(videoURL, videoKind string) (*PartyInfo, error) {
	code, err := NewPartyCode(partyCodeLength)
	if err != nil {
		return nil, err
	}
	leaderKey, err := GenerateKey(tokenLength)
	if err != nil {
		return nil, err
	}
	viewerKey, err := GenerateKey(tokenLength)
	if err != nil {
		return nil, err
	}

	if l.parties != nil {
		err := l.parties.Create(&store.Party{
			Code:      code,
			CreatedAt: time.Now(),
			VideoURL:  videoURL,
			VideoKind: videoKind,
			IsActive:  true,
		})
		if err != nil {
			return nil, err
		}
	}

	room := NewRoom(code, l.registry, leaderKey, viewerKey, l.parties, l.chat, l.opts, l.log)
	t := time.After(roomCreationTimeout)
	select {
	case l.registry.enqRoom <- room:
	case <-l.registry.closing:
		l.rollbackRecord(code)
		return nil, errors.New("registry is shut down")
	case <-t:
		l.rollbackRecord(code)
		return nil, errors.New("room creation timed out")
	}
	l.log.Info().Str("room", code).Msg("party created")
	return &PartyInfo{Code: code, LeaderToken: leaderKey, ViewerToken: viewerKey}, nil
}

// rollbackRecord deactivates a record whose room never registered, so
// a failed creation does not leave a phantom active party behind.
func (l *Lifecycle) rollbackRecord(code string) {
	if l.parties == nil {
		return
	}
	p, err := l.parties.Get(code)
	if err != nil {
		return
	}
	p.IsActive = false
	if err := l.parties.Save(p); err != nil {
		l.log.Error().Err(err).Str("room", code).Msg("failed to roll back party record")
	}
}

// EndParty terminates the session. Fails with ErrForbidden unless
// token is the leader token. An ended party cannot be restarted.
func (l *Lifecycle) EndParty(code, token string) error {
	room, err := l.registry.Lookup(code)
	if err != nil {
		return err
	}
	return room.RequestEnd(token)
}
