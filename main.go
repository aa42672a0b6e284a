package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"watchroom-server/api"
	"watchroom-server/auth"
	"watchroom-server/clock"
	"watchroom-server/config"
	"watchroom-server/heartbeat"
	"watchroom-server/hub"
	"watchroom-server/media"
	"watchroom-server/membership"
	"watchroom-server/metrics"
	"watchroom-server/playback"
	"watchroom-server/protocol"
	"watchroom-server/room"
	ws "watchroom-server/websocket"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log.Level)
	metrics.Register()

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real{}
	rooms := room.NewRegistry(room.Defaults{
		SyncTolerance: cfg.Sync.Tolerance,
		ChatLimit:     cfg.Room.ChatHistory,
		ReactionLimit: cfg.Room.ReactionHistory,
	})
	members := membership.New(rooms)
	broadcaster := hub.New(members)
	handler := protocol.NewHandler(broadcaster, rooms, members, playback.NewController(rooms), clk, protocol.Options{
		AllowViewerSeek:  cfg.Sync.AllowViewerSeek,
		MaxMessageLength: cfg.Room.MessageMaxLength,
	})
	catalog := media.NewCatalog()

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	if !verifier.Enabled() {
		slog.Warn("auth.jwt_secret is empty, admin actions are disabled")
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewServer(api.Deps{
			Rooms:    rooms,
			Members:  members,
			Hub:      broadcaster,
			Handler:  handler,
			Catalog:  catalog,
			Verifier: verifier,
			Clock:    clk,
			WS: ws.Config{
				WriteWait:      cfg.WebSocket.WriteWait,
				PongWait:       cfg.WebSocket.PongWait,
				PingPeriod:     cfg.WebSocket.PingPeriod,
				MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			},
		}).Router(),
	}

	var sub *media.Subscriber
	if cfg.Media.Redis.Address != "" {
		client, err := media.Dial(ctx, media.RedisConfig{
			Address:  cfg.Media.Redis.Address,
			Password: cfg.Media.Redis.Password,
			DB:       cfg.Media.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		sub = media.NewSubscriber(client, cfg.Media.Redis.Channel, catalog, clk)
	} else {
		slog.Info("media.redis.address not set, pipeline signals only via HTTP")
	}

	beat := heartbeat.New(rooms, broadcaster, clk, cfg.Sync.HeartbeatInterval)
	beat.Start(ctx)
	defer beat.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if sub != nil {
		g.Go(func() error { return sub.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("server shutting down")
		beat.Stop()

		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}

func setupLogger(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
