package store

import (
	"sort"
	"sync"

	"github.com/rs/xid"
)

type memPartyStore struct {
	m     map[string]*Party
	mutex *sync.RWMutex
}

// NewMemPartyStore creates an in-process party store, suitable for
// single-backend deployments and tests.
func NewMemPartyStore() PartyStore {
	return &memPartyStore{
		m:     make(map[string]*Party),
		mutex: &sync.RWMutex{},
	}
}

func (s *memPartyStore) BackendType() StorageBackendType { return StorageBackendMem }

func (s *memPartyStore) Create(p *Party) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.m[p.Code]; ok {
		return ErrDuplicate
	}
	cp := *p
	s.m[p.Code] = &cp
	return nil
}

func (s *memPartyStore) Get(code string) (*Party, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	p, ok := s.m[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memPartyStore) Save(p *Party) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.m[p.Code]; !ok {
		return ErrNotFound
	}
	cp := *p
	s.m[p.Code] = &cp
	return nil
}

func (s *memPartyStore) Active() ([]*Party, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]*Party, 0, len(s.m))
	for _, p := range s.m {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memChatStore struct {
	m     map[string][]*Message
	mutex *sync.RWMutex
}

// NewMemChatStore creates an in-process chat store.
func NewMemChatStore() ChatStore {
	return &memChatStore{
		m:     make(map[string][]*Message),
		mutex: &sync.RWMutex{},
	}
}

func (s *memChatStore) BackendType() StorageBackendType { return StorageBackendMem }

func (s *memChatStore) Append(m *Message) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if m.ID == "" {
		m.ID = xid.New().String()
	}
	cp := *m
	s.m[m.Party] = append(s.m[m.Party], &cp)
	return nil
}

func (s *memChatStore) List(partyCode string) ([]*Message, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	msgs := s.m[partyCode]
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
