// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/markreid/faceoff/internal/config"
	"github.com/markreid/faceoff/internal/handlers"
	"github.com/markreid/faceoff/internal/journal"
	"github.com/markreid/faceoff/internal/middleware"
	"github.com/markreid/faceoff/internal/notify"
	"github.com/markreid/faceoff/internal/room"
	"github.com/markreid/faceoff/internal/service"
	"github.com/markreid/faceoff/internal/session"
	"github.com/markreid/faceoff/internal/store"
)

const (
	sessionSweepInterval = time.Minute
	roomSweepInterval    = 5 * time.Minute
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	if os.Getenv("DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database is required: the notification queue and match archive live
	// there, and running without them silently loses data.
	pg, err := store.NewPostgres(ctx, cfg.PostgresURL())
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Fatalf("schema: %v", err)
	}

	// The move journal is best-effort; a dead Redis only costs replay data.
	jrnl, err := journal.Connect(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.JournalList, logger)
	if err != nil {
		logger.Warnf("journal disabled: %v", err)
	}
	defer jrnl.Close()

	registry := session.NewRegistry(logger)
	rooms := room.NewStore(logger)
	notifier := notify.New(registry, pg, logger)
	svc := service.New(registry, rooms, pg, notifier, jrnl, logger)

	go notifier.RunRetrySweep(ctx, notify.RetryInterval)
	go notifier.RunHeartbeatSweep(ctx, notify.HeartbeatInterval)
	go rooms.RunSweeper(ctx, roomSweepInterval)
	go registry.RunSweeper(ctx, sessionSweepInterval, func(sessionID string) bool {
		r, ok := rooms.FindBySession(sessionID)
		return ok && r.Status() != room.StatusFinished
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.WSHandler(logger, svc, notifier, registry),
	)))
	api := handlers.NewAPI(svc, registry, logger)
	api.Register(mux, middleware.LogMiddleware(logger))

	server := &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		logger.Errorf("server exited: %v", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	rooms.ShutdownAll()
}
