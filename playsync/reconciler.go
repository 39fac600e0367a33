package playsync

import (
	"context"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/movieparty/server/party"
)

const settlePollInterval = 20 * time.Millisecond

// Notice is the informational surface for manual-sync annotations.
type Notice struct {
	Position float64
	Note     string
}

// Reconciler converges a follower's player with the leader's reported
// state. It holds the echo guard around every programmatic mutation,
// applies only the newest event when several arrive before a cycle
// completes, and buffers the most recent event per type while the
// adapter is not ready. It never emits sync events.
type Reconciler struct {
	player  Player
	tuning  Tuning
	guard   *EchoGuard
	mailbox chan *party.Message
	notices chan Notice
	pending map[party.EventType]*party.Message
	ended   atomic.Bool
	strikes int
	log     zerolog.Logger
}

// NewReconciler builds a reconciler for the follower's player. guard
// may be nil; a private one is created so mutations are still fenced.
func NewReconciler(player Player, tuning Tuning, guard *EchoGuard, log zerolog.Logger) *Reconciler {
	if guard == nil {
		guard = &EchoGuard{}
	}
	return &Reconciler{
		player:  player,
		tuning:  tuning,
		guard:   guard,
		mailbox: make(chan *party.Message, 1),
		notices: make(chan Notice, 8),
		pending: make(map[party.EventType]*party.Message),
		log:     log,
	}
}

// Guard returns the echo guard fencing this reconciler's mutations.
func (r *Reconciler) Guard() *EchoGuard { return r.guard }

// Notices delivers manual-sync annotations for display.
func (r *Reconciler) Notices() <-chan Notice { return r.notices }

// Ended reports whether the terminal transition has been processed.
func (r *Reconciler) Ended() bool { return r.ended.Load() }

// Apply hands an incoming event to the reconciler. Last-write-wins: if
// a previous event is still waiting it is replaced, never queued.
func (r *Reconciler) Apply(m *party.Message) {
	if m == nil {
		return
	}
	switch m.Type {
	case party.EventTypePlay, party.EventTypePause, party.EventTypeSeek,
		party.EventTypeManualSync, party.EventTypePartyEnded, party.EventTypeSnapshot:
	default:
		return
	}
	for {
		select {
		case r.mailbox <- m:
			return
		default:
			select {
			case <-r.mailbox:
			default:
			}
		}
	}
}

// Run processes events until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	retry := time.NewTicker(r.tuning.SettleDelay)
	defer retry.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.mailbox:
			r.drain(ctx, m)
		case <-retry.C:
			for _, m := range r.takePending() {
				r.drain(ctx, m)
			}
		}
	}
}

// drain reconciles m and any event that superseded it mid-cycle.
func (r *Reconciler) drain(ctx context.Context, m *party.Message) {
	for m != nil {
		m = r.reconcile(ctx, m)
	}
}

// reconcile applies one event. Returns a newer event if one arrived
// while this cycle was still converging; the caller abandons the old
// target in its favor.
func (r *Reconciler) reconcile(ctx context.Context, m *party.Message) *party.Message {
	if r.ended.Load() {
		// terminal state is idempotent: replayed events are no-ops
		return nil
	}

	if m.Type == party.EventTypePartyEnded {
		r.guard.Hold(r.tuning.SettleDelay)
		r.player.Pause() // stop regardless of in-flight state
		r.ended.Store(true)
		r.log.Info().Msg("session ended, playback stopped")
		return nil
	}

	cur, err := r.player.CurrentTime()
	if err != nil {
		r.buffer(m)
		return nil
	}

	threshold := r.effectiveThreshold()

	switch p := m.Payload.(type) {
	case *party.PlayPayload:
		r.guard.Hold(r.tuning.SettleDelay)
		if math.Abs(cur-p.Position) > threshold {
			if !r.mutate(m, r.player.SeekTo(p.Position)) {
				return nil
			}
			r.strikes++
		} else {
			r.strikes = 0
		}
		if !r.mutate(m, r.player.Play()) {
			return nil
		}
		return r.waitSettled(ctx, -1)

	case *party.PausePayload:
		// pause first so drift stops accumulating, then correct
		r.guard.Hold(r.tuning.SettleDelay)
		if !r.mutate(m, r.player.Pause()) {
			return nil
		}
		if math.Abs(cur-p.Position) > threshold {
			if !r.mutate(m, r.player.SeekTo(p.Position)) {
				return nil
			}
			r.strikes++
		} else {
			r.strikes = 0
		}
		return r.waitSettled(ctx, -1)

	case *party.SeekPayload:
		return r.reseek(ctx, m, p.Position, p.WasPlaying)

	case *party.ManualSyncPayload:
		playing := false
		if st, serr := r.player.State(); serr == nil {
			playing = st == StatePlaying
		}
		select {
		case r.notices <- Notice{Position: p.Position, Note: p.Note}:
		default:
		}
		return r.reseek(ctx, m, p.Position, playing)

	case *party.SnapshotPayload:
		if math.Abs(cur-p.Position) <= threshold {
			if p.Playing {
				if !r.mutate(m, r.player.Play()) {
					return nil
				}
			} else {
				if !r.mutate(m, r.player.Pause()) {
					return nil
				}
			}
			r.guard.Hold(r.tuning.SettleDelay)
			return r.waitSettled(ctx, -1)
		}
		return r.reseek(ctx, m, p.Position, p.Playing)
	}

	r.log.Warn().Str("type", string(m.Type)).Msg("ignoring event with unexpected payload")
	return nil
}

// reseek repositions the player and restores the playback state the
// leader reported. The echo guard goes up before the first mutation.
func (r *Reconciler) reseek(ctx context.Context, m *party.Message, target float64, wasPlaying bool) *party.Message {
	r.guard.Hold(r.tuning.SettleDelay)
	if !r.mutate(m, r.player.SeekTo(target)) {
		return nil
	}
	if newer := r.waitSeekSettled(ctx, target); newer != nil {
		return newer
	}
	r.guard.Hold(r.tuning.SettleDelay)
	if wasPlaying {
		if !r.mutate(m, r.player.Play()) {
			return nil
		}
	} else {
		if !r.mutate(m, r.player.Pause()) {
			return nil
		}
	}
	return r.waitSettled(ctx, -1)
}

// mutate applies one adapter call. A NotReady or failed call buffers
// the event for retry; neither crashes the session.
func (r *Reconciler) mutate(m *party.Message, err error) bool {
	if err == nil {
		return true
	}
	r.log.Warn().Err(err).Str("type", string(m.Type)).Msg("adapter call failed, buffering event")
	r.buffer(m)
	return false
}

// waitSeekSettled polls until the adapter reports a position within
// epsilon of target, bounded by SeekSettleTimeout. A newer event
// arriving mid-wait wins immediately.
func (r *Reconciler) waitSeekSettled(ctx context.Context, target float64) *party.Message {
	deadline := time.After(r.tuning.SeekSettleTimeout)
	tick := time.NewTicker(settlePollInterval)
	defer tick.Stop()
	for {
		if st, err := r.player.State(); err == nil && st != StateBuffering {
			if cur, cerr := r.player.CurrentTime(); cerr == nil && math.Abs(cur-target) <= r.settleEpsilon() {
				return nil
			}
		}
		select {
		case newer := <-r.mailbox:
			return newer
		case <-deadline:
			return nil
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// waitSettled absorbs the settle window after a mutation so the
// guard outlives the backend's event storm. Pass a negative duration
// to use the tuned settle delay.
func (r *Reconciler) waitSettled(ctx context.Context, d time.Duration) *party.Message {
	if d < 0 {
		d = r.tuning.SettleDelay
	}
	select {
	case newer := <-r.mailbox:
		return newer
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (r *Reconciler) settleEpsilon() float64 {
	if r.tuning.SeekEpsilon > 0 {
		return r.tuning.SeekEpsilon
	}
	return 0.25
}

// effectiveThreshold narrows the drift tolerance for a follower that
// keeps falling behind, when catch-up mode is enabled.
func (r *Reconciler) effectiveThreshold() float64 {
	if r.tuning.BufferingCatchUp && r.strikes >= 2 {
		return r.tuning.DriftThreshold / 2
	}
	return r.tuning.DriftThreshold
}

// buffer retains the most recent event per type for replay once the
// adapter becomes ready. Overwrite, never append.
func (r *Reconciler) buffer(m *party.Message) {
	if prev, ok := r.pending[m.Type]; ok && prev.Timestamp > m.Timestamp {
		return
	}
	r.pending[m.Type] = m
}

// takePending removes and returns buffered events in emission order,
// provided the adapter is now ready.
func (r *Reconciler) takePending() []*party.Message {
	if len(r.pending) == 0 {
		return nil
	}
	if _, err := r.player.CurrentTime(); err != nil {
		return nil
	}
	out := make([]*party.Message, 0, len(r.pending))
	for _, m := range r.pending {
		out = append(out, m)
	}
	r.pending = make(map[party.EventType]*party.Message)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
