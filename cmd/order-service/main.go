package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/app"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/config"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/logger"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/order"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/rpc"
)

const appName = order.ServiceName

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

	var repo order.Repository = order.NewMemoryRepo()
	if a.DB != nil {
		repo = order.NewPostgresRepo(a.DB)
	}
	svc := order.NewService(repo, a.Bus, log)
	saga := order.NewSaga(svc, a.Bus, log)
	a.OnReady(saga.Start)

	lis, err := net.Listen("tcp", cfg.RPCListenAddr)
	if err != nil {
		return err
	}
	srv := rpc.NewServer(log)
	order.RegisterRPC(srv, svc)
	go func() {
		log.Info("rpc_listen", slog.String("addr", cfg.RPCListenAddr))
		if err := srv.Serve(lis); err != nil {
			log.Error("rpc_server_error", slog.String("err", err.Error()))
		}
	}()
	a.AddCloser(func() error { srv.GracefulStop(); return nil })

	return a.Run(ctx)
}
