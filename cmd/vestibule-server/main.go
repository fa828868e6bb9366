package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	grpchealth "google.golang.org/grpc/health"

	"github.com/BrandonDHaskell/vestibule/internal/config"
	"github.com/BrandonDHaskell/vestibule/internal/db"
	"github.com/BrandonDHaskell/vestibule/internal/health"
	"github.com/BrandonDHaskell/vestibule/internal/httpapi"
	"github.com/BrandonDHaskell/vestibule/internal/logging"
	"github.com/BrandonDHaskell/vestibule/internal/mail"
	"github.com/BrandonDHaskell/vestibule/internal/notify"
	"github.com/BrandonDHaskell/vestibule/internal/qr"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/service"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/session"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store/memory"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store/sqlstore"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

const serviceName = "vestibule-server"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cal, err := visit.NewCalendar(cfg.BusinessTimezone)
	if err != nil {
		return err
	}

	// Store
	st, pinger, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("store ready", zap.String("driver", cfg.DBDriver), zap.String("env", cfg.Env))

	// Notifications
	origin := uuid.NewString()
	queue := notify.NewQueue(cfg.NotifyQueueSize, origin, logger)
	hub := notify.NewHub(logger)
	sinks := []notify.Sink{hub}

	var relay *notify.RedisRelay
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		sinks = append(sinks, notify.NewRedisSink(rdb, cfg.Redis.Channel))
		relay = notify.NewRedisRelay(rdb, cfg.Redis.Channel, origin, hub, logger)
		if err := relay.Start(ctx); err != nil {
			return err
		}
		defer relay.Stop()
	}

	broadcaster := notify.NewBroadcaster(queue, logger, sinks...)
	broadcaster.Start(ctx)
	defer broadcaster.Stop()

	// Mail
	var mailer mail.Sender = mail.LogSender{Logger: logger}
	if cfg.Mail.BrevoAPIKey != "" {
		mailer = mail.NewBrevoSender(cfg.Mail.BrevoBaseURL, cfg.Mail.BrevoAPIKey, mail.Party{
			Name:  cfg.Mail.SenderName,
			Email: cfg.Mail.SenderEmail,
		}, logger)
	} else {
		logger.Warn("brevo api key not set; outgoing mail is logged only")
	}

	// Services
	codec := qr.Codec{}
	eng := session.NewEngine(cal)
	scanSvc := service.NewScanService(st, eng, queue, logger)
	requestSvc := service.NewRequestService(st, eng, codec, mailer, queue, logger, service.RequestConfig{
		AutoApprove: cfg.AutoApprove,
	})
	dashboardSvc := service.NewDashboardService(st, eng)
	listingSvc := service.NewListingService(st, eng)

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:    logger,
		Addr:      cfg.HTTPAddr,
		Scan:      scanSvc,
		Requests:  requestSvc,
		Dashboard: dashboardSvc,
		Listings:  listingSvc,
		Decoder:   codec,
		Stream:    hub,
	})

	// gRPC health
	hs := grpchealth.NewServer()
	grpcSrv := health.NewServer(hs)
	watcher := health.NewWatcher(hs, pinger, cfg.HealthInterval, logger)
	watcher.Start(ctx)
	defer watcher.Stop()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		logger.Info("shutdown complete")
		return err
	})

	return g.Wait()
}

type nopPinger struct{}

func (nopPinger) PingContext(context.Context) error { return nil }

// openStore returns the configured store, the health check target for it and
// a close func.
func openStore(ctx context.Context, cfg config.Config) (store.Store, health.Pinger, func(), error) {
	if cfg.DBDriver == "memory" {
		return memory.New(), nopPinger{}, func() {}, nil
	}

	dialect, err := db.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, nil, nil, err
	}
	conn, err := db.Open(ctx, db.Config{
		Dialect: dialect,
		Path:    cfg.DBPath,
		URL:     cfg.DatabaseURL,
		Env:     cfg.Env,
		SeedDev: cfg.SeedDev,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	runner, closeRunner := db.NewRunner(conn, dialect)
	return sqlstore.New(conn, runner, dialect), conn, func() {
		closeRunner()
		_ = conn.Close()
	}, nil
}
