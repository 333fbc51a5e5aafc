// Package main runs a headless live participant: as a host it creates a
// session record, captures local tracks and negotiates one peer link per
// joined viewer; as a viewer it joins an existing session and plays the
// host's stream. Both roles speak the same signaling and presence topics
// the browser clients use.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulselive/backend/config"
	"github.com/pulselive/backend/internal/live"
	"github.com/pulselive/backend/internal/realtime"
	"github.com/pulselive/backend/internal/rtc"
	"github.com/pulselive/backend/internal/sessions"
	"github.com/pulselive/backend/pkg/database"
	"github.com/pulselive/backend/pkg/redis"
)

func main() {
	role := flag.String("role", "host", "host or viewer")
	handle := flag.String("handle", "", "host handle (own handle as host, the host to watch as viewer)")
	title := flag.String("title", "", "broadcast title (host role)")
	followers := flag.Int("followers", 0, "host follower count, checked against the go-live threshold")
	sessionID := flag.String("session", "", "session id to watch (viewer role)")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *handle == "" {
		logger.Fatal("missing -handle")
	}

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	signaling := realtime.NewSignaling(rdb.Client, logger)
	presence := realtime.NewPresence(rdb.Client, cfg.Live.PresenceTTL, logger)
	connector := rtc.NewConnector(cfg.WebRTC.ICEUrls, logger)

	switch *role {
	case "host":
		runHost(ctx, cfg, signaling, presence, connector, *handle, *title, *followers, logger)
	case "viewer":
		runViewer(ctx, cfg, signaling, presence, connector, *sessionID, *handle, logger)
	default:
		logger.Fatal("role must be host or viewer", zap.String("role", *role))
	}
}

func runHost(ctx context.Context, cfg *config.Config, signaling live.SignalingChannel, presence live.PresenceChannel, connector live.PeerConnector, handle, title string, followers int, logger *zap.Logger) {
	if title == "" {
		logger.Fatal("missing -title")
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()
	repo := sessions.NewRepository(pool)

	// Track sample input comes from the surrounding capture integration;
	// the tracks themselves negotiate regardless.
	devices := rtc.NewDevices(func(context.Context) (*rtc.Source, error) {
		return rtc.NewSource()
	}, logger)

	host := live.NewHostSession(live.HostConfig{
		Handle:       handle,
		Title:        title,
		Followers:    followers,
		MinFollowers: cfg.Live.MinFollowers,
	}, repo, signaling, presence, devices, connector, logger)

	if err := host.GoLive(ctx); err != nil {
		logger.Fatal("go live", zap.Error(err))
	}
	logger.Info("broadcasting",
		zap.String("session_id", host.Session().ID.String()),
		zap.String("handle", handle),
	)

	waitForSignal()
	if err := host.EndLive(ctx); err != nil {
		logger.Error("end live", zap.Error(err))
	}
}

func runViewer(ctx context.Context, cfg *config.Config, signaling live.SignalingChannel, presence live.PresenceChannel, connector live.PeerConnector, sessionID, hostHandle string, logger *zap.Logger) {
	if sessionID == "" {
		logger.Fatal("missing -session")
	}

	viewer := live.NewViewerSession(signaling, presence, connector, cfg.Live.OfferTimeout, logger)
	if err := viewer.Join(ctx, sessionID, hostHandle); err != nil {
		logger.Fatal("join", zap.Error(err))
	}
	logger.Info("watching",
		zap.String("session_id", sessionID),
		zap.String("identity", viewer.Identity()),
	)

	waitForSignal()
	viewer.Leave()
	if viewer.Status() == live.ViewerError {
		logger.Error("playback failed", zap.String("reason", viewer.Reason()))
	}
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
