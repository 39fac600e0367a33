// Package gateway scales the party backend horizontally: a scheduler
// places new parties on backends, a placement registry remembers which
// backend owns each code, and a websocket reverse proxy routes
// participants to it.
package gateway

import (
	"errors"
	"sync"

	"github.com/go-redis/redis"
)

const placementKeyPrefix = "placement:"

type StorageBackendType int

const (
	StorageBackendMem StorageBackendType = iota
	StorageBackendRedis
)

// ReadOnlyPlacements is the lookup surface the reverse proxy needs.
type ReadOnlyPlacements interface {
	BackendType() StorageBackendType
	Get(code string) string
}

// Placements maps party codes to the backend hosting their room.
type Placements interface {
	BackendType() StorageBackendType
	Get(code string) string
	Set(code string, backend string)
	Del(code string)
}

type memPlacements struct {
	m     map[string]string
	mutex *sync.RWMutex
}

func (b *memPlacements) BackendType() StorageBackendType { return StorageBackendMem }

func (b *memPlacements) Get(code string) string {
	b.mutex.RLock()
	v := b.m[code]
	b.mutex.RUnlock()
	return v
}

func (b *memPlacements) Set(code string, backend string) {
	b.mutex.Lock()
	b.m[code] = backend
	b.mutex.Unlock()
}

func (b *memPlacements) Del(code string) {
	b.mutex.Lock()
	delete(b.m, code)
	b.mutex.Unlock()
}

type redisPlacements struct {
	client *redis.Client
}

func (b *redisPlacements) BackendType() StorageBackendType { return StorageBackendRedis }

func (b *redisPlacements) Get(code string) string {
	v, err := b.client.Get(placementKeyPrefix + code).Result()
	if err != nil {
		return ""
	}
	return v
}

func (b *redisPlacements) Set(code string, backend string) {
	b.client.Set(placementKeyPrefix+code, backend, 0)
}

func (b *redisPlacements) Del(code string) {
	b.client.Del(placementKeyPrefix + code)
}

// NewRedisPlacements creates a placement registry shared between
// gateway instances through redis.
func NewRedisPlacements(client *redis.Client) Placements {
	return &redisPlacements{client: client}
}

// NewPlacements creates a placement registry of the given backend type.
func NewPlacements(typ StorageBackendType, client *redis.Client) (Placements, error) {
	switch typ {
	case StorageBackendMem:
		return &memPlacements{
			m:     make(map[string]string),
			mutex: &sync.RWMutex{},
		}, nil
	case StorageBackendRedis:
		if client == nil {
			return nil, errors.New("redis placements require a client")
		}
		return NewRedisPlacements(client), nil
	default:
		return nil, errors.New("unsupported placement backend type")
	}
}
