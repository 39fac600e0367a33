package store

import (
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/rs/xid"
)

// Key layout mirrors the original deployment: one value per party
// record, one list per chat room, plus an index set of active codes.
const (
	partyKeyPrefix = "party:"
	chatKeyPrefix  = "chat:"
	activeSetKey   = "parties:active"
)

type redisPartyStore struct {
	client *redis.Client
}

// NewRedisPartyStore creates a party store backed by the given redis client.
func NewRedisPartyStore(client *redis.Client) PartyStore {
	return &redisPartyStore{client: client}
}

func (s *redisPartyStore) BackendType() StorageBackendType { return StorageBackendRedis }

func (s *redisPartyStore) Create(p *Party) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(partyKeyPrefix+p.Code, string(b), 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicate
	}
	if p.IsActive {
		return s.client.SAdd(activeSetKey, p.Code).Err()
	}
	return nil
}

func (s *redisPartyStore) Get(code string) (*Party, error) {
	b, err := s.client.Get(partyKeyPrefix + code).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p Party
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *redisPartyStore) Save(p *Party) error {
	n, err := s.client.Exists(partyKeyPrefix + p.Code).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.client.Set(partyKeyPrefix+p.Code, string(b), 0).Err(); err != nil {
		return err
	}
	if p.IsActive {
		return s.client.SAdd(activeSetKey, p.Code).Err()
	}
	return s.client.SRem(activeSetKey, p.Code).Err()
}

func (s *redisPartyStore) Active() ([]*Party, error) {
	codes, err := s.client.SMembers(activeSetKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Party, 0, len(codes))
	for _, code := range codes {
		p, err := s.Get(code)
		if err == ErrNotFound {
			// index drifted, clean it up
			s.client.SRem(activeSetKey, code)
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

type redisChatStore struct {
	client *redis.Client
}

// NewRedisChatStore creates a chat store backed by the given redis client.
func NewRedisChatStore(client *redis.Client) ChatStore {
	return &redisChatStore{client: client}
}

func (s *redisChatStore) BackendType() StorageBackendType { return StorageBackendRedis }

func (s *redisChatStore) Append(m *Message) error {
	if m.ID == "" {
		m.ID = xid.New().String()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.client.RPush(chatKeyPrefix+m.Party, string(b)).Err()
}

func (s *redisChatStore) List(partyCode string) ([]*Message, error) {
	entries, err := s.client.LRange(chatKeyPrefix+partyCode, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(entries))
	for _, e := range entries {
		var m Message
		if err := json.Unmarshal([]byte(e), &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}
