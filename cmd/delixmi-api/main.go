// README: Entry point; loads config, wires services, starts HTTP server and the presence sweeper.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"delixmi/internal/config"
	httptransport "delixmi/internal/http"
	"delixmi/internal/infra"
	"delixmi/internal/jobs"
	"delixmi/internal/modules/branch"
	"delixmi/internal/modules/courier"
	"delixmi/internal/modules/dispatch"
	"delixmi/internal/modules/identity"
	"delixmi/internal/modules/order"
	"delixmi/internal/modules/payment"
	"delixmi/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	notifier := notify.NewRedisPublisher(redisClient, logger)

	userStore := identity.NewStore(dbPool)
	branchStore := branch.NewStore(dbPool)
	paymentStore := payment.NewStore(dbPool)
	gateway := payment.NewHTTPGateway(cfg.Payments.BaseURL, cfg.Payments.Token, cfg.Payments.Timeout)

	courierStore := courier.NewStore(dbPool)
	presence := courier.NewPresence(redisClient)
	courierSvc := courier.NewService(courierStore, presence, notifier, logger)

	pushLog := dispatch.NewPushLog(redisClient)

	orderStore := order.NewStore(dbPool)
	orderSvc := order.NewService(order.Deps{
		Store:    orderStore,
		Payments: paymentStore,
		Branches: branchStore,
		Users:    userStore,
		Couriers: presence,
		PushLog:  pushLog,
		Gateway:  gateway,
		Notifier: notifier,
		RadiusKm: cfg.Dispatch.DefaultRadiusKm,
		Logger:   logger,
	})

	dispatchStore := dispatch.NewStore(dbPool)
	dispatchSvc := dispatch.NewService(dispatch.Deps{
		Store:    dispatchStore,
		Couriers: courierStore,
		Users:    userStore,
		Details:  orderStore,
		PushLog:  pushLog,
		Notifier: notifier,
		RadiusKm: cfg.Dispatch.DefaultRadiusKm,
		Logger:   logger,
	})

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Order:    orderSvc,
		Dispatch: dispatchSvc,
		Courier:  courierSvc,
		Logger:   logger,
	})

	sweeper := jobs.NewPresenceSweeper(courierSvc, cfg.Presence.StaleAfter, cfg.Presence.SweepSpec, logger)
	if err := sweeper.Start(); err != nil {
		log.Fatal(err)
	}

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}
