package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"

	hostpool "github.com/bitly/go-hostpool"
	"github.com/go-redis/redis"
	"github.com/rs/zerolog"
)

// SchedulePubSubChannel carries backend load broadcasts between the
// announcer and the schedulers.
const SchedulePubSubChannel = "movieparty:schedule"

// url schemes for the backends
var (
	BackendWSScheme, _   = url.Parse("ws://example.com:8080")
	BackendRESTScheme, _ = url.Parse("http://example.com:8080")
)

// SchedulingStrategy enum
type SchedulingStrategy int

const (
	SchedulingStrategyBalance SchedulingStrategy = iota
	SchedulingStrategyCompact
)

// Backend type for serialisation
type Backend string

// ServerLoad type for serialisation
type ServerLoad float64

// ScheduleInfo is the message format shared by announcer and scheduler.
type ScheduleInfo struct {
	Backends map[Backend]ServerLoad `json:"backends"`
	Strategy SchedulingStrategy     `json:"strategy"`
}

// NewScheduleInfo creates an empty schedule message.
func NewScheduleInfo() *ScheduleInfo {
	return &ScheduleInfo{make(map[Backend]ServerLoad), SchedulingStrategyBalance}
}

type partyCreatedMsg struct {
	OK   bool   `json:"ok"`
	Code string `json:"code"`
}

// Scheduler fronts the party-creation API: it delegates each request to
// a backend from the pool and records the resulting placement.
type Scheduler struct {
	store  Placements
	info   *ScheduleInfo
	pool   hostpool.HostPool
	pubsub *redis.PubSub
	mutex  *sync.RWMutex
	log    zerolog.Logger
}

// NewScheduler creates a runnable scheduler with the given redis client
// and placement registry.
func NewScheduler(rclient *redis.Client, store Placements, log zerolog.Logger) *Scheduler {
	ps := rclient.Subscribe(SchedulePubSubChannel)
	return &Scheduler{
		store:  store,
		info:   NewScheduleInfo(),
		pool:   hostpool.New([]string{""}),
		pubsub: ps,
		mutex:  &sync.RWMutex{},
		log:    log,
	}
}

// RebuildPool recreates the backend pool from the current schedule
// info, NOT thread-safe.
func (sch *Scheduler) RebuildPool() {
	hosts := make([]string, 0, len(sch.info.Backends))
	for h := range sch.info.Backends {
		hosts = append(hosts, string(h))
	}
	sch.pool = hostpool.New(hosts) // round-robin
}

// NextBackend picks a backend using the current scheduling strategy.
func (sch *Scheduler) NextBackend() string {
	sch.mutex.RLock()
	h := sch.pool.Get().Host()
	sch.mutex.RUnlock()
	return h
}

// RunScheduler consumes schedule broadcasts until the subscription dies.
func (sch *Scheduler) RunScheduler() {
	ch := sch.pubsub.Channel()
	for m := range ch {
		sch.log.Info().Str("payload", m.Payload).Msg("received schedule update")
		var s ScheduleInfo
		if err := json.Unmarshal([]byte(m.Payload), &s); err != nil {
			sch.log.Warn().Err(err).Msg("dropping malformed schedule update")
			continue
		}
		sch.mutex.Lock()
		sch.info = &s
		sch.RebuildPool()
		sch.mutex.Unlock()
	}
}

// ProxyDirector returns a Director for the reverse proxy.
func (sch *Scheduler) ProxyDirector() func(*http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = BackendRESTScheme.Scheme
		req.URL.Host = sch.NextBackend()
		if _, ok := req.Header["User-Agent"]; !ok {
			req.Header.Set("User-Agent", "")
		}
	}
}

// PartyRegister returns a ModifyResponse that records where a freshly
// created party was placed.
func (sch *Scheduler) PartyRegister() func(*http.Response) error {
	return func(rsp *http.Response) error {
		if rsp.StatusCode == http.StatusCreated || rsp.StatusCode == http.StatusOK {
			b, err := ioutil.ReadAll(rsp.Body)
			if err != nil {
				return err
			}
			if err := rsp.Body.Close(); err != nil {
				return err
			}
			var m partyCreatedMsg
			if err := json.Unmarshal(b, &m); err != nil {
				return errors.New("internal error during party creation")
			}
			if m.OK && m.Code != "" {
				sch.store.Set(m.Code, rsp.Request.URL.Host)
			}
			// put the original content back
			rsp.Body = ioutil.NopCloser(bytes.NewReader(b))
		}
		return nil
	}
}

// GetProxy returns the scheduling reverse proxy handler.
func (sch *Scheduler) GetProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{Director: sch.ProxyDirector(), ModifyResponse: sch.PartyRegister()}
}
