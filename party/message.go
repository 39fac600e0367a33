package party

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags a wire message.
type EventType string

// Wire message types. The video* / manualSync / partyEnded names are the
// ones the existing clients expect; the rest are connection plumbing.
const (
	EventTypeHello      EventType = "hello"
	EventTypePing       EventType = "ping"
	EventTypePong       EventType = "pong"
	EventTypeSnapshot   EventType = "snapshot"
	EventTypeError      EventType = "error"
	EventTypePlay       EventType = "videoPlay"
	EventTypePause      EventType = "videoPause"
	EventTypeSeek       EventType = "videoSeek"
	EventTypeManualSync EventType = "manualSync"
	EventTypePartyEnded EventType = "partyEnded"
)

// Message is the wire envelope for everything exchanged over a party
// channel. Sender and ReceivedAt are bookkeeping filled in server-side.
type Message struct {
	Sender     string      `json:"-"`
	ReceivedAt time.Time   `json:"-"`
	Type       EventType   `json:"type"`
	Party      string      `json:"party,omitempty"`
	Timestamp  float64     `json:"timestamp,omitempty"` // unix seconds at emission
	Payload    interface{} `json:"payload,omitempty"`
}

type receivedMessage struct {
	Type      EventType       `json:"type"`
	Party     string          `json:"party"`
	Timestamp float64         `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type HelloPayload struct {
	Role        string `json:"role"`
	Participant string `json:"participant"`
	Party       string `json:"party"`
}

type PingPayload struct {
	SentAt float64 `json:"sendtime"`
}

type PongPayload struct {
	SentAt  float64 `json:"sendtime"`
	SvcTime float64 `json:"servicetime"`
}

// SnapshotPayload carries the room's last-known playback state, sent to
// a participant on join.
type SnapshotPayload struct {
	Position   float64 `json:"position"`
	Playing    bool    `json:"playing"`
	ObservedAt float64 `json:"observedAt"`
}

type ErrorPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type PlayPayload struct {
	Position float64 `json:"position"`
}

type PausePayload struct {
	Position float64 `json:"position"`
}

type SeekPayload struct {
	Position   float64 `json:"position"`
	WasPlaying bool    `json:"wasPlaying"`
}

type ManualSyncPayload struct {
	Position float64 `json:"position"`
	Note     string  `json:"note,omitempty"`
}

type PartyEndedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// IsAuthoritative reports whether t may only originate from the
// session's leader.
func (t EventType) IsAuthoritative() bool {
	switch t {
	case EventTypePlay, EventTypePause, EventTypeSeek, EventTypeManualSync, EventTypePartyEnded:
		return true
	}
	return false
}

// NewSyncEvent builds an authoritative event stamped with the wall clock.
func NewSyncEvent(t EventType, partyCode string, payload interface{}) *Message {
	return &Message{
		Type:      t,
		Party:     partyCode,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Payload:   payload,
	}
}

// Serialise a Message to its wire format.
func (m *Message) Serialise() ([]byte, error) {
	return json.Marshal(m)
}

// Deserialise parses data in wire format into m. Payloads of unknown
// message types are rejected so a malformed event can never be half
// applied downstream.
func Deserialise(data []byte, m *Message) error {
	var rm receivedMessage
	if err := json.Unmarshal(data, &rm); err != nil {
		return err
	}

	m.ReceivedAt = time.Now()
	m.Type = rm.Type
	m.Party = rm.Party
	m.Timestamp = rm.Timestamp

	var err error
	switch rm.Type {
	case EventTypeHello:
		var p HelloPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventTypePing:
		var p PingPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventTypePong:
		var p PongPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventTypeSnapshot:
		var p SnapshotPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventTypeError:
		var p ErrorPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventTypePlay:
		var p PlayPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventTypePause:
		var p PausePayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventTypeSeek:
		var p SeekPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventTypeManualSync:
		var p ManualSyncPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case EventTypePartyEnded:
		var p PartyEndedPayload
		if len(rm.Payload) > 0 {
			err = json.Unmarshal(rm.Payload, &p)
		}
		m.Payload = &p
	default:
		return fmt.Errorf("unknown message type %q", rm.Type)
	}
	return err
}

// Position extracts the reported playback position from an
// authoritative event payload.
func (m *Message) Position() (float64, bool) {
	switch p := m.Payload.(type) {
	case *PlayPayload:
		return p.Position, true
	case *PausePayload:
		return p.Position, true
	case *SeekPayload:
		return p.Position, true
	case *ManualSyncPayload:
		return p.Position, true
	}
	return 0, false
}
