package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/app"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/catalog"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/config"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/logger"
)

const appName = catalog.ServiceName

func main() {
	cfg := config.Load(appName)
	log := logger.New(appName, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("exit", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	if err := a.OpenDB(ctx); err != nil {
		return err
	}
	if err := a.ConnectBus(ctx); err != nil {
		return err
	}

	var inventory catalog.InventoryRepository = catalog.NewMemoryInventory()
	if a.DB != nil {
		inventory = catalog.NewPostgresInventory(a.DB)
	}
	var reingest catalog.Reingester
	if cfg.IngestURL != "" {
		reingest = catalog.NewHTTPReingester(cfg.IngestURL)
	}
	saga := catalog.NewSaga(inventory, reingest, a.Bus, log)
	a.OnReady(saga.Start)

	return a.Run(ctx)
}
