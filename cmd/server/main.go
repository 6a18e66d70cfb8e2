package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/rail-ticketing/internal/booking"
	"github.com/iliyamo/rail-ticketing/internal/config"
	"github.com/iliyamo/rail-ticketing/internal/database"
	"github.com/iliyamo/rail-ticketing/internal/handler"
	"github.com/iliyamo/rail-ticketing/internal/logging"
	"github.com/iliyamo/rail-ticketing/internal/middleware"
	"github.com/iliyamo/rail-ticketing/internal/queue"
	"github.com/iliyamo/rail-ticketing/internal/repository"
	"github.com/iliyamo/rail-ticketing/internal/router"
	"github.com/iliyamo/rail-ticketing/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional
	cfg := config.Load()
	log := logging.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Migrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	trains := repository.NewTrainRepo(db)
	schedules := repository.NewScheduleRepo(db)
	wallets := repository.NewWalletRepo(db)
	tickets := repository.NewTicketRepo(db)
	bookings := repository.NewBookingRepo(db)

	publisher := service.NewPublisher(cfg.AMQPURL)
	defer publisher.Close()

	opts := booking.Options{
		StepTimeout:         cfg.Booking.StepTimeout,
		CompensationTimeout: cfg.Booking.CompensationTimeout,
		HoldTTL:             cfg.Booking.HoldTTL,
		ReadRetryMaxElapsed: cfg.Booking.ReadRetryMaxElapsed,
		SweepBatch:          cfg.Booking.SweepBatch,
	}
	inventory := booking.NewInventory(schedules, opts)
	ledger := booking.NewLedger(wallets, opts)
	issuer, err := booking.NewIssuer(tickets, publisher, cfg.Booking.TicketSecret, opts)
	if err != nil {
		return err
	}
	coordinator := booking.NewCoordinator(inventory, ledger, issuer, bookings, publisher, opts)

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		log.Warn("redis unavailable; response cache and rate limiting disabled")
	} else {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(log))
	router.RegisterRoutes(e, router.Handlers{
		Public:    &handler.PublicHandler{Schedules: inventory, Listing: schedules},
		Passenger: &handler.PassengerHandler{Bookings: coordinator, Tickets: issuer, Wallets: ledger},
		Conductor: &handler.ConductorHandler{Tickets: issuer},
		Admin: &handler.AdminHandler{
			Trains:    trains,
			Schedules: schedules,
			Wallets:   ledger,
			Tickets:   tickets,
			Accounts:  wallets,
		},
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		Redis:     rdb,
		Cache:     config.LoadCacheConfig(),
		RateLimit: config.LoadRateLimitConfig(),
	})

	sweeper := &booking.Sweeper{
		Coordinator: coordinator,
		Interval:    cfg.Booking.SweepInterval,
		Log:         log.WithField("component", "sweeper"),
	}
	audit := &queue.AuditConsumer{
		URL: cfg.AMQPURL,
		Log: log.WithField("component", "audit-consumer"),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(ctx, e, ":"+cfg.Port, log) })
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error { return audit.Run(ctx) })
	return g.Wait()
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func serve(ctx context.Context, e *echo.Echo, addr string, log *logrus.Logger) error {
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		errc <- e.Start(addr)
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
