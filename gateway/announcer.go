package gateway

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/go-redis/redis"
	"github.com/rs/zerolog"

	"github.com/movieparty/server/party"
)

// AnnouncePeriod is how often backend load is re-published.
const AnnouncePeriod = 30 * time.Second

// Announcer polls a fixed set of backends for their room inventory,
// refreshes the placement registry from it, and broadcasts the load
// picture to the schedulers over redis pub/sub.
type Announcer struct {
	backends []string
	store    Placements
	client   *redis.Client
	httpc    *http.Client
	log      zerolog.Logger
}

// NewAnnouncer creates an announcer for backends, each a host:port.
func NewAnnouncer(rclient *redis.Client, store Placements, backends []string, log zerolog.Logger) *Announcer {
	return &Announcer{
		backends: backends,
		store:    store,
		client:   rclient,
		httpc:    &http.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

// UpdateBackendInfo performs one poll-and-publish round.
func (a *Announcer) UpdateBackendInfo() {
	b := make(map[Backend]ServerLoad)
	for _, host := range a.backends {
		load := ServerLoad(0)
		rsp, err := a.httpc.Get("http://" + host + "/api/info")
		if err != nil {
			a.log.Warn().Str("backend", host).Err(err).Msg("backend info poll failed")
			continue
		}
		buf, err := ioutil.ReadAll(rsp.Body)
		rsp.Body.Close()
		if err != nil {
			continue
		}
		var m party.ServerInfoMsg
		if err := json.Unmarshal(buf, &m); err != nil {
			continue
		}
		for _, code := range m.Rooms {
			a.store.Set(code, host)
		}
		load = ServerLoad(m.NParty)
		b[Backend(host)] = load
	}

	msg, _ := json.Marshal(&ScheduleInfo{
		Backends: b,
		Strategy: SchedulingStrategyBalance,
	})
	if err := a.client.Publish(SchedulePubSubChannel, string(msg)).Err(); err != nil {
		a.log.Error().Err(err).Msg("failed to publish schedule info")
	}
}

// Run polls and publishes until stop is closed.
func (a *Announcer) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(AnnouncePeriod)
	defer func() {
		ticker.Stop()
		a.client.Close()
	}()

	a.UpdateBackendInfo()
	for {
		select {
		case <-ticker.C:
			a.UpdateBackendInfo()
		case <-stop:
			return
		}
	}
}
