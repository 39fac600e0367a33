// Package store persists party and chat records. The synchronization
// engine only reads IsActive and the video source fields; everything
// else is served through the REST API.
package store

import (
	"time"
)

// Party is the record created when a watch party is started.
type Party struct {
	Code         string    `json:"code"`
	CreatedAt    time.Time `json:"createdAt"`
	CreatorID    string    `json:"creatorId"`
	Participants []string  `json:"participants"`
	VideoURL     string    `json:"videoUrl"`
	VideoKind    string    `json:"videoKind"` // "local", "youtube", "url"
	IsActive     bool      `json:"isActive"`
}

// Message is a single chat entry scoped to a party.
type Message struct {
	ID        string    `json:"id"`
	Party     string    `json:"partyCode"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SystemSender identifies engine-authored chat messages, e.g. the
// notice appended when the leader triggers a manual resync.
const SystemSender = "system"

type StorageBackendType int

const (
	StorageBackendMem StorageBackendType = iota
	StorageBackendRedis
)

// PartyStore persists party records.
type PartyStore interface {
	BackendType() StorageBackendType
	Create(p *Party) error
	Get(code string) (*Party, error)
	Save(p *Party) error
	Active() ([]*Party, error)
}

// ChatStore persists chat messages in timestamp order.
type ChatStore interface {
	BackendType() StorageBackendType
	Append(m *Message) error
	List(partyCode string) ([]*Message, error)
}

type StoreError int

const (
	ErrNotFound StoreError = iota
	ErrDuplicate
)

func (e StoreError) Error() string {
	switch e {
	case ErrNotFound:
		return "record not found"
	case ErrDuplicate:
		return "record already exists"
	default:
		return "unknown storage error"
	}
}
