package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemPlacements(t *testing.T) {
	p, err := NewPlacements(StorageBackendMem, nil)
	require.NoError(t, err)
	assert.Equal(t, StorageBackendMem, p.BackendType())

	assert.Empty(t, p.Get("ABC123"))
	p.Set("ABC123", "backend-1:8080")
	assert.Equal(t, "backend-1:8080", p.Get("ABC123"))
	p.Set("ABC123", "backend-2:8080")
	assert.Equal(t, "backend-2:8080", p.Get("ABC123"))
	p.Del("ABC123")
	assert.Empty(t, p.Get("ABC123"))
}

func TestNewPlacementsRejectsRedisWithoutClient(t *testing.T) {
	_, err := NewPlacements(StorageBackendRedis, nil)
	assert.Error(t, err)
	_, err = NewPlacements(StorageBackendType(42), nil)
	assert.Error(t, err)
}

func TestProxyBackendResolvesByCode(t *testing.T) {
	p, err := NewPlacements(StorageBackendMem, nil)
	require.NoError(t, err)
	p.Set("ABC123", "backend-1:8080")
	rp := NewRoomReverseProxy(p)
	resolve := rp.ProxyBackend()

	req := httptest.NewRequest("GET", "/ws?code=ABC123&token=tok", nil)
	u := resolve(req)
	require.NotNil(t, u)
	assert.Equal(t, BackendWSScheme.Scheme, u.Scheme)
	assert.Equal(t, "backend-1:8080", u.Host)
	assert.Equal(t, "/ws", u.Path)
	assert.Equal(t, "code=ABC123&token=tok", u.RawQuery)
}

func TestProxyBackendUnknownCode(t *testing.T) {
	p, err := NewPlacements(StorageBackendMem, nil)
	require.NoError(t, err)
	rp := NewRoomReverseProxy(p)
	resolve := rp.ProxyBackend()

	assert.Nil(t, resolve(httptest.NewRequest("GET", "/ws?code=NOSUCH", nil)))
	assert.Nil(t, resolve(httptest.NewRequest("GET", "/ws", nil)))
}
