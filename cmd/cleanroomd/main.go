// Command cleanroomd serves the room table, notifications and the realtime
// change feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/access"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/api"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/db"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/logging"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/notification"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	logging.Setup(cfg.Log)
	log.Info().Str("path", configPath).Msg("configuration loaded")

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server gracefully stopped")
}

func run(cfg *config.Config) error {
	policy, err := access.NewPolicy(cfg.Policy.Actions)
	if err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := suture.New("cleanroomd", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn().Str("event", e.String()).Msg("supervisor event")
		},
		Timeout: 10 * time.Second,
	})

	hub := realtime.NewHub(cfg.Realtime)
	root.Add(hub)

	// Without Redis every change stays in this process.
	var pub realtime.Publisher = realtime.NewLocalPublisher(hub)
	if cfg.Redis.Addr != "" {
		rdb := realtime.NewRedisClient(cfg.Redis)
		defer rdb.Close()
		pub = realtime.NewRedisPublisher(rdb, cfg.Redis.Channel)
		root.Add(realtime.NewRelay(rdb, cfg.Redis.Channel, hub))
		log.Info().Str("addr", cfg.Redis.Addr).Str("channel", cfg.Redis.Channel).Msg("relaying changes through redis")
	}

	appStore := store.NewGormStore(gormDB, pub)
	created, err := appStore.EnsureRooms(ctx, cfg.Rooms.Seed)
	if err != nil {
		return err
	}
	log.Info().Int64("created", created).Int("seeded", len(cfg.Rooms.Seed)).Msg("rooms provisioned")

	opts := []api.Option{api.WithPolicy(policy)}
	if cfg.Push.Enabled() {
		webpushOptions := notification.Options(cfg.Push)
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		root.Add(pool)
		opts = append(opts, api.WithPush(webpushOptions, pool))
	} else {
		log.Warn().Msg("VAPID keys are not configured; web push is disabled")
	}

	handler := api.NewHandler(appStore, hub, opts...)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Server),
		ReadHeaderTimeout: 10 * time.Second,
	}
	root.Add(api.NewServer(server, 5*time.Second))

	log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
	return root.Serve(ctx)
}
