// Package playsync implements the participant side of the playback
// synchronization protocol: the player adapters, the leader intent
// detector and the follower reconciler.
package playsync

// State is the coarse playback state an adapter reports.
type State int

const (
	StatePaused State = iota
	StatePlaying
	StateBuffering
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StateBuffering:
		return "buffering"
	default:
		return "paused"
	}
}

// Player is the uniform capability surface both backends implement.
// After SeekTo(p) returns, CurrentTime eventually reports a value within
// a small epsilon of p: synchronously for the native backend,
// asynchronously for the embedded one. Play and Pause are idempotent; a
// redundant call produces no state-change notification.
type Player interface {
	Play() error
	Pause() error
	SeekTo(position float64) error
	CurrentTime() (float64, error)
	State() (State, error)
}

// Listener receives native transition callbacks from adapters that
// support them.
type Listener interface {
	OnStateChange(s State, position float64)
	OnSeek(position float64)
}

// Notifier is implemented by adapters with native callbacks (the local
// media element). The embedded backend exposes polling only and does
// not implement it.
type Notifier interface {
	SetListener(l Listener)
}

// AdapterError enumerates adapter-level failures. Both are recovered
// locally by the caller buffering or retrying the most recent event;
// they never take the session down.
type AdapterError int

const (
	// ErrNotReady means the underlying backend has no source loaded yet.
	ErrNotReady AdapterError = iota
	// ErrOperationFailed means the backend rejected the call, e.g.
	// autoplay blocked by platform policy.
	ErrOperationFailed
)

func (e AdapterError) Error() string {
	switch e {
	case ErrNotReady:
		return "player is not ready"
	case ErrOperationFailed:
		return "player operation failed"
	default:
		return "unknown player error"
	}
}
