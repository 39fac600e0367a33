package main

import (
	"flag"
	"net/http"

	"github.com/go-redis/redis"
	"github.com/rs/cors"

	"github.com/movieparty/server/config"
	"github.com/movieparty/server/logging"
	"github.com/movieparty/server/party"
	"github.com/movieparty/server/store"
)

var wsaddr = flag.String("ws", "", "WebSocket service bind address (overrides WS_ADDR)")
var restaddr = flag.String("rest", "", "RESTful API bind address (overrides REST_ADDR)")

func main() {
	flag.Parse()

	cfg, err := config.Load()
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

	var parties store.PartyStore
	var chat store.ChatStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		parties = store.NewRedisPartyStore(client)
		chat = store.NewRedisChatStore(client)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis stores")
	} else {
		parties = store.NewMemPartyStore()
		chat = store.NewMemChatStore()
		log.Info().Msg("using in-memory stores")
	}

	registry := party.NewRegistry(log)
	lifecycle := party.NewLifecycle(registry, parties, chat, cfg.RoomOptions(), log)
	go registry.Run()

	restMux := party.NewRestMux(lifecycle, registry, parties, chat, log)

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", party.WSHandleFunc(registry, log))

	go func() {
		withCORS := cors.Default().Handler(restMux)
		log.Fatal().Err(http.ListenAndServe(cfg.RESTAddr, withCORS)).Msg("rest server stopped")
	}()

	log.Info().Str("ws", cfg.WSAddr).Str("rest", cfg.RESTAddr).Msg("movieparty backend listening")
	log.Fatal().Err(http.ListenAndServe(cfg.WSAddr, wsMux)).Msg("ws server stopped")
}
