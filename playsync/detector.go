package playsync

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/movieparty/server/party"
)

// Emitter is where the detector sends authoritative events; in
// production it is the participant's websocket channel.
type Emitter interface {
	Emit(m *party.Message) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(m *party.Message) error

func (f EmitterFunc) Emit(m *party.Message) error { return f(m) }

type playerSample struct {
	pos   float64
	at    time.Time
	state State
}

// Detector translates the leader's locally observed player transitions
// into sync events, filtering out artifacts of the adapter's own
// polling. It picks its strategy from the adapter kind: callback-driven
// when the player implements Notifier, polling otherwise. Followers
// never run a detector.
type Detector struct {
	player  Player
	emitter Emitter
	code    string
	tuning  Tuning
	guard   *EchoGuard // optional, shared with a reconciler
	log     zerolog.Logger

	mu           sync.Mutex
	lastEmitted  State
	lastSeekEmit time.Time
	prev         playerSample
	seeded       bool
}

// NewDetector builds a detector for the leader's player. guard may be
// nil when nothing on this participant mutates the player
// programmatically.
func NewDetector(player Player, emitter Emitter, partyCode string, tuning Tuning, guard *EchoGuard, log zerolog.Logger) *Detector {
	return &Detector{
		player:      player,
		emitter:     emitter,
		code:        partyCode,
		tuning:      tuning,
		guard:       guard,
		log:         log.With().Str("room", partyCode).Logger(),
		lastEmitted: StatePaused,
	}
}

// Run observes the player until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	if n, ok := d.player.(Notifier); ok {
		n.SetListener(d)
		defer n.SetListener(nil)
		if st, err := d.player.State(); err == nil {
			d.mu.Lock()
			d.lastEmitted = st
			d.mu.Unlock()
		}
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(d.tuning.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.poll()
		case <-ctx.Done():
			return
		}
	}
}

func (d *Detector) suppressed() bool {
	return d.guard != nil && d.guard.Active()
}

// poll samples the player once: emits play/pause on genuine state
// transitions and detects seeks as position jumps that continuous
// playback cannot explain.
func (d *Detector) poll() {
	st, err := d.player.State()
	if err != nil {
		return // not ready, nothing to observe
	}
	pos, err := d.player.CurrentTime()
	if err != nil {
		return
	}
	now := time.Now()
	suppressed := d.suppressed()

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.seeded {
		d.prev = playerSample{pos: pos, at: now, state: st}
		d.lastEmitted = st
		d.seeded = true
		return
	}

	prev := d.prev
	if st != StateBuffering {
		d.prev = playerSample{pos: pos, at: now, state: st}
	} else {
		d.prev.pos = pos
		d.prev.at = now
	}

	if suppressed {
		// programmatic mutation in progress; resync baselines only
		d.lastEmitted = st
		return
	}

	// Continuous playback advances the reading linearly; only the
	// residual beyond that counts as a jump.
	expected := prev.pos
	if prev.state == StatePlaying {
		expected += now.Sub(prev.at).Seconds()
	}
	jump := math.Abs(pos - expected)
	if jump > d.tuning.DriftThreshold && now.Sub(d.lastSeekEmit) >= d.tuning.SeekCooldown {
		d.lastSeekEmit = now
		d.emit(party.NewSyncEvent(party.EventTypeSeek, d.code, &party.SeekPayload{
			Position:   pos,
			WasPlaying: st == StatePlaying,
		}))
	}

	if st != StateBuffering && st != d.lastEmitted {
		d.lastEmitted = st
		d.emitTransition(st, pos)
	}
}

// OnStateChange implements Listener for callback-capable adapters.
func (d *Detector) OnStateChange(s State, position float64) {
	if d.suppressed() || s == StateBuffering {
		return
	}
	d.mu.Lock()
	if s == d.lastEmitted {
		d.mu.Unlock()
		return
	}
	d.lastEmitted = s
	d.mu.Unlock()
	d.emitTransition(s, position)
}

// OnSeek implements Listener. Emissions within the debounce window are
// coalesced so a drag-scrub gesture produces one event, not a flood.
func (d *Detector) OnSeek(position float64) {
	if d.suppressed() {
		return
	}
	now := time.Now()
	d.mu.Lock()
	if now.Sub(d.lastSeekEmit) < d.tuning.SeekDebounce {
		d.mu.Unlock()
		return
	}
	d.lastSeekEmit = now
	d.mu.Unlock()

	wasPlaying := false
	if st, err := d.player.State(); err == nil {
		wasPlaying = st == StatePlaying
	}
	d.emit(party.NewSyncEvent(party.EventTypeSeek, d.code, &party.SeekPayload{
		Position:   position,
		WasPlaying: wasPlaying,
	}))
}

// ManualSync emits the leader's explicit resync command, always
// accompanied by the equivalent seek so followers converge even if
// they ignore the annotation.
func (d *Detector) ManualSync(note string) error {
	pos, err := d.player.CurrentTime()
	if err != nil {
		return err
	}
	wasPlaying := false
	if st, serr := d.player.State(); serr == nil {
		wasPlaying = st == StatePlaying
	}
	d.emit(party.NewSyncEvent(party.EventTypeManualSync, d.code, &party.ManualSyncPayload{
		Position: pos,
		Note:     note,
	}))
	d.emit(party.NewSyncEvent(party.EventTypeSeek, d.code, &party.SeekPayload{
		Position:   pos,
		WasPlaying: wasPlaying,
	}))
	return nil
}

func (d *Detector) emitTransition(s State, position float64) {
	switch s {
	case StatePlaying:
		d.emit(party.NewSyncEvent(party.EventTypePlay, d.code, &party.PlayPayload{Position: position}))
	case StatePaused:
		d.emit(party.NewSyncEvent(party.EventTypePause, d.code, &party.PausePayload{Position: position}))
	}
}

func (d *Detector) emit(m *party.Message) {
	if err := d.emitter.Emit(m); err != nil {
		d.log.Warn().Err(err).Str("type", string(m.Type)).Msg("failed to emit sync event")
	}
}
