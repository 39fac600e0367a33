package main

import (
	"context"
	"flag"
	"time"

	"github.com/movieparty/server/config"
	"github.com/movieparty/server/logging"
	"github.com/movieparty/server/playsync"
)

// Headless party participant, useful for soak testing a deployment:
// joins a room and drives a simulated player as leader or follower.

var (
	addr     = flag.String("addr", "ws://localhost:8080/ws", "party websocket endpoint")
	code     = flag.String("code", "", "party code")
	token    = flag.String("token", "", "leader or viewer token")
	kind     = flag.String("player", "native", "player adapter: native or embedded")
	duration = flag.Float64("duration", 0, "media duration in seconds, 0 for unknown")
	latency  = flag.Duration("latency", 250*time.Millisecond, "embedded player command latency")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New("movieparty-agent", cfg.LogLevel)

	if *code == "" || *token == "" {
		log.Fatal().Msg("both -code and -token are required")
	}

	var player playsync.Player
	switch *kind {
	case "embedded":
		p := playsync.NewEmbeddedPlayer(*latency)
		p.Load(*duration)
		player = p
	default:
		p := playsync.NewNativePlayer()
		p.Load(*duration)
		player = p
	}

	var client *playsync.Client
	for {
		client, err = playsync.Dial(nil, *addr, *code, *token, log)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("failed to connect, trying again")
		time.Sleep(1 * time.Second)
	}
	defer client.Close()

	log.Info().Str("role", client.Role()).Str("participant", client.ParticipantID()).Msg("joined party")

	go client.HandleRecv()
	go client.SendHeartbeat()

	ctx := context.Background()
	if client.Role() == "leader" {
		client.RunLeader(ctx, player, cfg.Sync.Tuning())
	} else {
		client.RunFollower(ctx, player, cfg.Sync.Tuning())
	}
}
