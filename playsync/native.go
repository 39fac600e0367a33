package playsync

import (
	"sync"
	"time"
)

// NativePlayer adapts a locally-addressable media element. Control is
// frame-accurate: SeekTo takes effect synchronously and transition
// callbacks fire on the caller's goroutine. Position advances with the
// wall clock while playing.
type NativePlayer struct {
	mu        sync.Mutex
	ready     bool
	playing   bool
	basePos   float64
	startedAt time.Time
	duration  float64 // 0 means unknown
	listener  Listener
}

// NewNativePlayer returns an adapter with no media loaded; every
// operation fails with ErrNotReady until Load is called.
func NewNativePlayer() *NativePlayer {
	return &NativePlayer{}
}

// Load attaches a media source of the given duration (0 for unknown)
// and makes the adapter ready.
func (p *NativePlayer) Load(duration float64) {
	p.mu.Lock()
	p.ready = true
	p.playing = false
	p.basePos = 0
	p.duration = duration
	p.mu.Unlock()
}

// SetListener registers the transition callback receiver.
func (p *NativePlayer) SetListener(l Listener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

func (p *NativePlayer) positionLocked(now time.Time) float64 {
	pos := p.basePos
	if p.playing {
		pos += now.Sub(p.startedAt).Seconds()
	}
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos
}

// Play starts playback. A no-op with no notification when already
// playing.
func (p *NativePlayer) Play() error {
	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return ErrNotReady
	}
	if p.playing {
		p.mu.Unlock()
		return nil
	}
	now := time.Now()
	p.startedAt = now
	p.playing = true
	l := p.listener
	pos := p.positionLocked(now)
	p.mu.Unlock()

	if l != nil {
		l.OnStateChange(StatePlaying, pos)
	}
	return nil
}

// Pause stops playback. A no-op with no notification when already
// paused.
func (p *NativePlayer) Pause() error {
	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return ErrNotReady
	}
	if !p.playing {
		p.mu.Unlock()
		return nil
	}
	now := time.Now()
	p.basePos = p.positionLocked(now)
	p.startedAt = now
	p.playing = false
	l := p.listener
	pos := p.basePos
	p.mu.Unlock()

	if l != nil {
		l.OnStateChange(StatePaused, pos)
	}
	return nil
}

// SeekTo repositions playback. Effective immediately; a subsequent
// CurrentTime reflects the new position.
func (p *NativePlayer) SeekTo(position float64) error {
	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return ErrNotReady
	}
	if position < 0 {
		position = 0
	}
	if p.duration > 0 && position > p.duration {
		position = p.duration
	}
	p.basePos = position
	p.startedAt = time.Now()
	l := p.listener
	p.mu.Unlock()

	if l != nil {
		l.OnSeek(position)
	}
	return nil
}

func (p *NativePlayer) CurrentTime() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return 0, ErrNotReady
	}
	return p.positionLocked(time.Now()), nil
}

func (p *NativePlayer) State() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return StatePaused, ErrNotReady
	}
	if p.playing {
		return StatePlaying, nil
	}
	return StatePaused, nil
}
