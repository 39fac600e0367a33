package main

import (
	"flag"
	"net/http"

	"github.com/go-redis/redis"

	"github.com/movieparty/server/config"
	"github.com/movieparty/server/gateway"
	"github.com/movieparty/server/logging"
)

var wsaddr = flag.String("ws", "", "WebSocket proxy bind address (overrides WS_ADDR)")
var restaddr = flag.String("rest", "", "Scheduler REST bind address (overrides REST_ADDR)")

func main() {
	flag.Parse()

	cfg, err := config.LoadGateway()
	if err != nil {
		panic(err)
	}
	if *wsaddr != "" {
		cfg.WSAddr = *wsaddr
	}
	if *restaddr != "" {
		cfg.RESTAddr = *restaddr
	}

	log := logging.New(cfg.ServiceName, cfg.LogLevel)

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	placements, err := gateway.NewPlacements(gateway.StorageBackendRedis, client)
	if err != nil {
		log.Fatal().Err(err).Msg("placement registry setup failed")
	}

	sch := gateway.NewScheduler(client, placements, log)
	go sch.RunScheduler()

	announcer := gateway.NewAnnouncer(client, placements, cfg.Backends, log)
	go announcer.Run(make(chan struct{}))

	restMux := http.NewServeMux()
	restMux.Handle("/api/party", sch.GetProxy())
	go func() {
		log.Fatal().Err(http.ListenAndServe(cfg.RESTAddr, restMux)).Msg("scheduler stopped")
	}()

	rp := gateway.NewRoomReverseProxy(placements)
	log.Info().Str("ws", cfg.WSAddr).Str("rest", cfg.RESTAddr).Strs("backends", cfg.Backends).Msg("gateway listening")
	log.Fatal().Err(http.ListenAndServe(cfg.WSAddr, rp.GetProxy())).Msg("ws proxy stopped")
}
