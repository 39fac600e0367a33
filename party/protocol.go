package party

import "time"

// Role of a participant within a party.
type Role int

const (
	RoleUnauthorised Role = iota
	RoleFollower
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleFollower:
		return "follower"
	default:
		return "unauthorised"
	}
}

// PlaybackSnapshot is the leader's last reported playback state. It is
// an immutable value; each accepted event supersedes the previous one.
type PlaybackSnapshot struct {
	Position   float64
	Playing    bool
	ObservedAt time.Time
}

// PositionAt extrapolates the position to time t, assuming playback
// continued uninterrupted since the snapshot was taken.
func (s PlaybackSnapshot) PositionAt(t time.Time) float64 {
	if !s.Playing {
		return s.Position
	}
	return s.Position + t.Sub(s.ObservedAt).Seconds()
}
