package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/app"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/config"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/logger"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/order"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/payment"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/rpc"
)

const appName = payment.ServiceName

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

	conn, err := rpc.Dial(cfg.OrderRPCAddr)
	if err != nil {
		return err
	}
	a.AddCloser(conn.Close)
	orders := payment.NewRPCOrderLookup(a.Dispatcher, rpc.NewGRPCClient(conn, order.ServiceName))

	var repo payment.Repository = payment.NewMemoryRepo()
	if a.DB != nil {
		repo = payment.NewPostgresRepo(a.DB)
	}
	saga := payment.NewSaga(repo, orders, a.Bus, log)
	a.OnReady(saga.Start)

	return a.Run(ctx)
}
