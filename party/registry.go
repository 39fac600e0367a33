package party

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps party codes to live rooms. Ended codes are remembered
// so a join after termination fails with ErrPartyEnded rather than
// ErrPartyNotFound.
type Registry struct {
	rooms        map[string]*Room
	ended        map[string]struct{}
	enqRoom      chan *Room
	deqRoom      chan *Room
	closing      chan struct{}
	closingGuard sync.Once
	mutex        sync.RWMutex // guards rooms and ended for lookup
	log          zerolog.Logger
}

// NewRegistry creates an empty room registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		rooms:   make(map[string]*Room),
		ended:   make(map[string]struct{}),
		enqRoom: make(chan *Room),
		deqRoom: make(chan *Room),
		closing: make(chan struct{}),
		log:     log,
	}
}

// AddRoom registers r and starts its manager goroutine.
func (reg *Registry) AddRoom(r *Room) {
	reg.enqRoom <- r
}

// RemoveRoom deregisters r and releases its resources.
func (reg *Registry) RemoveRoom(r *Room) {
	reg.deqRoom <- r
}

// Lookup returns the live room for code.
func (reg *Registry) Lookup(code string) (*Room, error) {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	if r, ok := reg.rooms[code]; ok {
		return r, nil
	}
	if _, ok := reg.ended[code]; ok {
		return nil, ErrPartyEnded
	}
	return nil, ErrPartyNotFound
}

// Codes returns the codes of all live rooms.
func (reg *Registry) Codes() []string {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	out := make([]string, 0, len(reg.rooms))
	for code := range reg.rooms {
		out = append(out, code)
	}
	return out
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	return len(reg.rooms)
}

// Close shuts the registry down, ending every room.
func (reg *Registry) Close() {
	reg.closingGuard.Do(func() { close(reg.closing) })
}

func (reg *Registry) joinRoom(r *Room) {
	if r == nil {
		return
	}
	reg.rooms[r.Code] = r
	go r.RunManager()
	reg.log.Info().Str("room", r.Code).Msg("room registered")
}

func (reg *Registry) killRoom(r *Room) {
	if r == nil {
		return
	}
	if existing, ok := reg.rooms[r.Code]; ok && existing == r {
		delete(reg.rooms, r.Code)
		reg.ended[r.Code] = struct{}{}
		close(r.closing)
	}
	reg.log.Info().Str("room", r.Code).Msg("room deregistered")
}

// Run manages room registration until Close is called.
func (reg *Registry) Run() {
	defer func() {
		reg.mutex.Lock()
		for _, r := range reg.rooms {
			reg.killRoom(r)
		}
		reg.mutex.Unlock()
	}()
	for {
		select {
		case r := <-reg.enqRoom:
			reg.mutex.Lock()
			reg.joinRoom(r)
			reg.mutex.Unlock()
		case r := <-reg.deqRoom:
			reg.mutex.Lock()
			reg.killRoom(r)
			reg.mutex.Unlock()
		case <-reg.closing:
			return
		}
	}
}
