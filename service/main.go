package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"daily-goods-assistant/assistant"
	"daily-goods-assistant/config"
	"daily-goods-assistant/logging"
	"daily-goods-assistant/service/api"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

	svc, store, err := assistant.FromConfig(ctx, cfg, logger)
	if err != nil {
		log.Fatal("Failed to initialise external clients: ", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	exists, err := store.Exists(checkCtx)
	cancel()
	switch {
	case err != nil:
		logger.Warn("could not reach the vector index, /assistant will fail until it is available", slog.String("index", store.Index()), slog.Any("error", err))
	case !exists:
		logger.Warn("vector index does not exist yet, run the ingest command first", slog.String("index", store.Index()))
	default:
		logger.Info("connected to vector index", slog.String("index", store.Index()))
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           api.NewRouter(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("could not shut down gracefully", slog.Any("error", err))
		}
	}()

	logger.Info("chat service listening", slog.String("address", server.Addr))
	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Unexpected error in http server:", err)
	}
	<-shutdownDone
	logger.Info("chat service stopped")
}
