package gateway

import (
	"net/http"
	"net/url"

	"github.com/koding/websocketproxy"

	"github.com/movieparty/server/party"
)

// RoomReverseProxy is the websocket entry point for a multi-backend
// deployment: it routes each participant to the backend hosting their
// party's room.
type RoomReverseProxy struct {
	reg ReadOnlyPlacements
}

// NewRoomReverseProxy creates a reverse proxy backed by the given
// placement registry.
func NewRoomReverseProxy(reg ReadOnlyPlacements) *RoomReverseProxy {
	return &RoomReverseProxy{reg: reg}
}

// ProxyBackend resolves the backend websocket URL for a request by its
// party code.
func (p *RoomReverseProxy) ProxyBackend() func(*http.Request) *url.URL {
	return func(req *http.Request) *url.URL {
		q := req.URL.Query()
		code := q.Get("code")
		target := ""
		if code != "" {
			target = p.reg.Get(code)
		}
		if target == "" {
			return nil
		}
		u := *BackendWSScheme
		u.Host = target
		u.Fragment = req.URL.Fragment
		u.Path = req.URL.Path
		u.RawQuery = req.URL.RawQuery
		return &u
	}
}

// GetProxy returns the websocket reverse proxy handler.
func (p *RoomReverseProxy) GetProxy() *websocketproxy.WebsocketProxy {
	return &websocketproxy.WebsocketProxy{
		Backend:  p.ProxyBackend(),
		Upgrader: party.GetWSUpgrader(),
	}
}
