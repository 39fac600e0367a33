package playsync

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movieparty/server/party"
)

func reconcilerTuning() Tuning {
	tn := DefaultTuning()
	tn.SettleDelay = 30 * time.Millisecond
	tn.SeekSettleTimeout = 500 * time.Millisecond
	tn.SeekEpsilon = 0.3
	return tn
}

func runReconciler(t *testing.T, r *Reconciler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)
}

func playerAt(t *testing.T, p Player, target float64, playing bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := p.State()
		if err != nil || st == StateBuffering {
			return false
		}
		cur, err := p.CurrentTime()
		if err != nil {
			return false
		}
		// playback keeps advancing, allow a generous band above target
		return (st == StatePlaying) == playing && cur >= target-0.35 && cur < target+2.0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestReconcilePlayBeyondThresholdSeeksFirst(t *testing.T) {
	p := NewNativePlayer()
	p.Load(0)
	r := NewReconciler(p, reconcilerTuning(), nil, zerolog.Nop())
	runReconciler(t, r)

	r.Apply(party.NewSyncEvent(party.EventTypePlay, "ABC123", &party.PlayPayload{Position: 30}))
	playerAt(t, p, 30, true)
}

func TestReconcilePlayWithinThresholdDoesNotSeek(t *testing.T) {
	p := NewNativePlayer()
	p.Load(0)
	require.NoError(t, p.SeekTo(29.8))
	r := NewReconciler(p, reconcilerTuning(), nil, zerolog.Nop())
	runReconciler(t, r)

	r.Apply(party.NewSyncEvent(party.EventTypePlay, "ABC123", &party.PlayPayload{Position: 30}))
	require.Eventually(t, func() bool {
		st, _ := p.State()
		return st == StatePlaying
	}, time.Second, 10*time.Millisecond)
	cur, err := p.CurrentTime()
	require.NoError(t, err)
	// small drift is tolerated, the local position was not snapped
	assert.Less(t, math.Abs(cur-29.8), 0.5)
}

func TestReconcilePauseStopsBeforeCorrecting(t *testing.T) {
	p := NewNativePlayer()
	p.Load(0)
	require.NoError(t, p.SeekTo(100))
	require.NoError(t, p.Play())
	r := NewReconciler(p, reconcilerTuning(), nil, zerolog.Nop())
	runReconciler(t, r)

	r.Apply(party.NewSyncEvent(party.EventTypePause, "ABC123", &party.PausePayload{Position: 50}))
	playerAt(t, p, 50, false)
	cur, err := p.CurrentTime()
	require.NoError(t, err)
	assert.InDelta(t, 50.0, cur, 0.35)
}

func TestReconcileSeekRestoresPlayingState(t *testing.T) {
	p := NewNativePlayer()
	p.Load(0)
	require.NoError(t, p.Play())
	r := NewReconciler(p, reconcilerTuning(), nil, zerolog.Nop())
	runReconciler(t, r)

	r.Apply(party.NewSyncEvent(party.EventTypeSeek, "ABC123", &party.SeekPayload{Position: 200, WasPlaying: false}))
	playerAt(t, p, 200, false)
}

func TestLastWriteWinsBeforeCycleStarts(t *testing.T) {
	p := NewNativePlayer()
	p.Load(0)
	r := NewReconciler(p, reconcilerTuning(), nil, zerolog.Nop())

	// both land before the loop runs: only the newest survives
	r.Apply(party.NewSyncEvent(party.EventTypeSeek, "ABC123", &party.SeekPayload{Position: 120, WasPlaying: true}))
	r.Apply(party.NewSyncEvent(party.EventTypePause, "ABC123", &party.PausePayload{Position: 121}))
	runReconciler(t, r)

	playerAt(t, p, 121, false)
	cur, err := p.CurrentTime()
	require.NoError(t, err)
	assert.InDelta(t, 121.0, cur, 0.35)
}

func TestLastWriteWinsMidCycle(t *testing.T) {
	// the embed's command latency keeps the first seek in flight long
	// enough for the pause to supersede it
	p := NewEmbeddedPlayer(150 * time.Millisecond)
	p.Load(0)
	r := NewReconciler(p, reconcilerTuning(), nil, zerolog.Nop())
	runReconciler(t, r)

	r.Apply(party.NewSyncEvent(party.EventTypeSeek, "ABC123", &party.SeekPayload{Position: 120, WasPlaying: true}))
	time.Sleep(30 * time.Millisecond)
	r.Apply(party.NewSyncEvent(party.EventTypePause, "ABC123", &party.PausePayload{Position: 121}))

	playerAt(t, p, 121, false)
	require.Eventually(t, func() bool {
		cur, err := p.CurrentTime()
		return err == nil && math.Abs(cur-121.0) < 0.5
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEchoSuppressionSharedGuard(t *testing.T) {
	// leader-grade detector and follower reconciler wired to the same
	// player, sharing one guard: the corrective mutations must not be
	// re-emitted as intent. Native callbacks fire synchronously inside
	// the mutation, so the guard is provably up when they do.
	p := NewNativePlayer()
	p.Load(0)
	sink := &collector{}
	guard := &EchoGuard{}
	d := NewDetector(p, sink, "ABC123", testTuning(), guard, zerolog.Nop())
	p.SetListener(d)

	r := NewReconciler(p, reconcilerTuning(), guard, zerolog.Nop())
	runReconciler(t, r)

	r.Apply(party.NewSyncEvent(party.EventTypePlay, "ABC123", &party.PlayPayload{Position: 30}))
	playerAt(t, p, 30, true)
	r.Apply(party.NewSyncEvent(party.EventTypePause, "ABC123", &party.PausePayload{Position: 45}))
	playerAt(t, p, 45, false)

	assert.Empty(t, sink.types(), "programmatic corrections must not echo")
}

func TestNotReadyBuffersAndReplays(t *testing.T) {
	p := NewNativePlayer() // no Load: every call fails with ErrNotReady
	r := NewReconciler(p, reconcilerTuning(), nil, zerolog.Nop())
	runReconciler(t, r)

	r.Apply(party.NewSyncEvent(party.EventTypePlay, "ABC123", &party.PlayPayload{Position: 30}))
	time.Sleep(100 * time.Millisecond)
	st, err := p.State()
	require.Equal(t, ErrNotReady, err)
	require.Equal(t, StatePaused, st)

	p.Load(0)
	// the retry tick replays the buffered event once the source is up
	playerAt(t, p, 30, true)
}

func TestNotReadyKeepsNewestPerType(t *testing.T) {
	p := NewNativePlayer()
	r := NewReconciler(p, reconcilerTuning(), nil, zerolog.Nop())
	runReconciler(t, r)

	r.Apply(party.NewSyncEvent(party.EventTypeSeek, "ABC123", &party.SeekPayload{Position: 10}))
	time.Sleep(60 * time.Millisecond)
	r.Apply(party.NewSyncEvent(party.EventTypeSeek, "ABC123", &party.SeekPayload{Position: 80}))
	time.Sleep(60 * time.Millisecond)

	p.Load(0)
	require.Eventually(t, func() bool {
		cur, err := p.CurrentTime()
		return err == nil && math.Abs(cur-80.0) < 0.5
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPartyEndedIsTerminal(t *testing.T) {
	p := NewNativePlayer()
	p.Load(0)
	require.NoError(t, p.Play())
	r := NewReconciler(p, reconcilerTuning(), nil, zerolog.Nop())
	runReconciler(t, r)

	r.Apply(party.NewSyncEvent(party.EventTypePartyEnded, "ABC123", &party.PartyEndedPayload{Reason: "over"}))
	require.Eventually(t, r.Ended, time.Second, 10*time.Millisecond)
	st, err := p.State()
	require.NoError(t, err)
	assert.Equal(t, StatePaused, st)

	// replayed events after the terminal transition are no-ops
	r.Apply(party.NewSyncEvent(party.EventTypePlay, "ABC123", &party.PlayPayload{Position: 5}))
	time.Sleep(100 * time.Millisecond)
	st, err = p.State()
	require.NoError(t, err)
	assert.Equal(t, StatePaused, st)
}

func TestManualSyncDeliversNotice(t *testing.T) {
	p := NewNativePlayer()
	p.Load(0)
	r := NewReconciler(p, reconcilerTuning(), nil, zerolog.Nop())
	runReconciler(t, r)

	r.Apply(party.NewSyncEvent(party.EventTypeManualSync, "ABC123", &party.ManualSyncPayload{Position: 77, Note: "host resynced"}))

	select {
	case n := <-r.Notices():
		assert.InDelta(t, 77.0, n.Position, 0.01)
		assert.Equal(t, "host resynced", n.Note)
	case <-time.After(time.Second):
		t.Fatal("notice not delivered")
	}
	playerAt(t, p, 77, false)
}

func TestSnapshotConvergesJoiner(t *testing.T) {
	p := NewNativePlayer()
	p.Load(0)
	r := NewReconciler(p, reconcilerTuning(), nil, zerolog.Nop())
	runReconciler(t, r)

	r.Apply(&party.Message{
		Type:      party.EventTypeSnapshot,
		Party:     "ABC123",
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Payload:   &party.SnapshotPayload{Position: 45, Playing: true},
	})
	playerAt(t, p, 45, true)
}

func TestTwoFollowersConvergeOnPlayFromZero(t *testing.T) {
	leaderEvent := party.NewSyncEvent(party.EventTypePlay, "ABC123", &party.PlayPayload{Position: 0})

	ahead := NewNativePlayer()
	ahead.Load(0)
	require.NoError(t, ahead.SeekTo(10))
	behind := NewNativePlayer()
	behind.Load(0)

	ra := NewReconciler(ahead, reconcilerTuning(), nil, zerolog.Nop())
	rb := NewReconciler(behind, reconcilerTuning(), nil, zerolog.Nop())
	runReconciler(t, ra)
	runReconciler(t, rb)

	ra.Apply(leaderEvent)
	rb.Apply(leaderEvent)

	playerAt(t, ahead, 0, true)
	playerAt(t, behind, 0, true)

	ca, err := ahead.CurrentTime()
	require.NoError(t, err)
	cb, err := behind.CurrentTime()
	require.NoError(t, err)
	assert.Less(t, math.Abs(ca-cb), 1.0, "both followers converge on the leader's timeline")
}

func TestBufferingCatchUpNarrowsThreshold(t *testing.T) {
	tn := reconcilerTuning()
	tn.BufferingCatchUp = true
	r := NewReconciler(NewNativePlayer(), tn, nil, zerolog.Nop())

	assert.InDelta(t, tn.DriftThreshold, r.effectiveThreshold(), 0.001)
	r.strikes = 2
	assert.InDelta(t, tn.DriftThreshold/2, r.effectiveThreshold(), 0.001)
	r.strikes = 0
	assert.InDelta(t, tn.DriftThreshold, r.effectiveThreshold(), 0.001)
}
