package party

// Error enumerates the session-level failure conditions. Forbidden and
// the not-found variants are surfaced to the offending participant as a
// rejected action; they never propagate to the rest of the room.
type Error int

const (
	ErrPartyNotFound Error = iota
	ErrPartyEnded
	ErrForbidden
	ErrInvalidToken
)

func (e Error) Error() string {
	switch e {
	case ErrPartyNotFound:
		return "party not found"
	case ErrPartyEnded:
		return "party has ended"
	case ErrForbidden:
		return "only the party leader may do that"
	case ErrInvalidToken:
		return "invalid token"
	default:
		return "unknown party error"
	}
}
