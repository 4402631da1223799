package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mortgagedapp/internal/app"
	"mortgagedapp/internal/config"
	"mortgagedapp/internal/logging"
	"mortgagedapp/internal/server"

	"github.com/charmbracelet/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config error", "err", err)
	}
	logger := logging.New(os.Stderr, cfg.Log)

	store, closeStore, err := app.BuildStore(context.Background(), cfg.Service, logger)
	if err != nil {
		logger.Fatal("idempotency store error", "err", err)
	}
	defer closeStore()

	gw, closeGateway, err := app.BuildGateway(cfg, logger)
	if err != nil {
		logger.Fatal("gateway error", "err", err)
	}
	defer closeGateway()

	apiServer := server.NewServer(cfg, gw, store, logger)

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}
