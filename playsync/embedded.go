package playsync

import (
	"sync"
	"time"
)

// EmbeddedPlayer adapts an externally embedded player that exposes only
// a polling API: no seek callbacks, and SeekTo takes effect
// asynchronously after the embed's own command latency. The adapter
// reports Buffering while a seek is in flight. Intent detection against
// this backend must use the polling strategy.
type EmbeddedPlayer struct {
	mu        sync.Mutex
	ready     bool
	playing   bool
	basePos   float64
	startedAt time.Time
	duration  float64

	seekPending bool
	seekTarget  float64
	seekApplyAt time.Time
	latency     time.Duration
}

// NewEmbeddedPlayer returns an adapter whose seeks settle after the
// given command latency.
func NewEmbeddedPlayer(latency time.Duration) *EmbeddedPlayer {
	return &EmbeddedPlayer{latency: latency}
}

// Load attaches the embedded source and makes the adapter ready.
func (p *EmbeddedPlayer) Load(duration float64) {
	p.mu.Lock()
	p.ready = true
	p.playing = false
	p.basePos = 0
	p.duration = duration
	p.seekPending = false
	p.mu.Unlock()
}

// applySeekLocked folds a settled in-flight seek into the timeline.
func (p *EmbeddedPlayer) applySeekLocked(now time.Time) {
	if p.seekPending && !now.Before(p.seekApplyAt) {
		p.basePos = p.seekTarget
		p.startedAt = p.seekApplyAt
		p.seekPending = false
	}
}

func (p *EmbeddedPlayer) positionLocked(now time.Time) float64 {
	p.applySeekLocked(now)
	if p.seekPending {
		// embed still reports the old timeline until the command lands
		now = p.seekApplyAt.Add(-p.latency)
	}
	pos := p.basePos
	if p.playing {
		pos += now.Sub(p.startedAt).Seconds()
	}
	if pos < 0 {
		pos = 0
	}
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos
}

func (p *EmbeddedPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return ErrNotReady
	}
	if p.playing {
		return nil
	}
	now := time.Now()
	p.applySeekLocked(now)
	p.basePos = p.positionLocked(now)
	p.startedAt = now
	p.playing = true
	return nil
}

func (p *EmbeddedPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return ErrNotReady
	}
	if !p.playing {
		return nil
	}
	now := time.Now()
	p.basePos = p.positionLocked(now)
	p.startedAt = now
	p.playing = false
	return nil
}

// SeekTo issues the seek command to the embed. The new position becomes
// observable only after the command latency elapses.
func (p *EmbeddedPlayer) SeekTo(position float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return ErrNotReady
	}
	if position < 0 {
		position = 0
	}
	if p.duration > 0 && position > p.duration {
		position = p.duration
	}
	now := time.Now()
	p.applySeekLocked(now)
	p.basePos = p.positionLocked(now)
	p.startedAt = now
	p.seekPending = true
	p.seekTarget = position
	p.seekApplyAt = now.Add(p.latency)
	return nil
}

func (p *EmbeddedPlayer) CurrentTime() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return 0, ErrNotReady
	}
	return p.positionLocked(time.Now()), nil
}

func (p *EmbeddedPlayer) State() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return StatePaused, ErrNotReady
	}
	p.applySeekLocked(time.Now())
	if p.seekPending {
		return StateBuffering, nil
	}
	if p.playing {
		return StatePlaying, nil
	}
	return StatePaused, nil
}
