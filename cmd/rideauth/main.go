// Command rideauth runs the authentication service: the JSON API on one
// listener and a key-gated internal gRPC listener for other services.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/rideauth"
	"github.com/MrEthical07/rideauth/internal/httpapi"
	"github.com/MrEthical07/rideauth/internal/logging"
	"github.com/MrEthical07/rideauth/internal/mail"
	promexport "github.com/MrEthical07/rideauth/metrics/export/prometheus"
	"github.com/MrEthical07/rideauth/store/memory"
	"github.com/MrEthical07/rideauth/store/postgres"
	"github.com/MrEthical07/rideauth/store/redisstore"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

var version = "dev"

type serverConfig struct {
	HTTPAddr        string        `env:"RIDEAUTH_HTTP_ADDR"        envDefault:":8080"`
	GRPCAddr        string        `env:"RIDEAUTH_GRPC_ADDR"        envDefault:":9090"`
	DatabaseURL     string        `env:"RIDEAUTH_DATABASE_URL"`
	RedisURL        string        `env:"RIDEAUTH_REDIS_URL"        envDefault:"redis://localhost:6379/0"`
	RedisPrefix     string        `env:"RIDEAUTH_REDIS_PREFIX"     envDefault:"rideauth"`
	TokenStore      string        `env:"RIDEAUTH_TOKEN_STORE"      envDefault:"redis"`
	Migrate         bool          `env:"RIDEAUTH_MIGRATE"          envDefault:"true"`
	TrustProxy      bool          `env:"RIDEAUTH_TRUST_PROXY"`
	RatePerSecond   float64       `env:"RIDEAUTH_HTTP_RATE"        envDefault:"20"`
	RateBurst       int           `env:"RIDEAUTH_HTTP_BURST"       envDefault:"40"`
	MailMode        string        `env:"RIDEAUTH_MAIL_MODE"        envDefault:"log"`
	ShutdownTimeout time.Duration `env:"RIDEAUTH_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	var logCfg logging.Config
	if err := env.Parse(&logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse log config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("rideauth stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *zap.Logger) error {
	var srv serverConfig
	if err := env.Parse(&srv); err != nil {
		return fmt.Errorf("parse server config: %w", err)
	}
	cfg, err := rideauth.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	// -------- STORAGE --------
	redisOpts, err := redis.ParseURL(srv.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	var db *sql.DB
	if srv.DatabaseURL != "" {
		db, err = postgres.Open(ctx, srv.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if srv.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
		}
	}

	builder := rideauth.New().
		WithConfig(cfg).
		WithLogger(log).
		WithRedis(rdb)

	redisStores := redisstore.New(rdb, srv.RedisPrefix)
	switch {
	case db != nil && srv.TokenStore == "postgres":
		pg := postgres.New(db)
		builder.WithAccountStore(pg.Accounts()).WithRefreshStore(pg.Refresh()).WithOTPStore(pg.OTP())
	case db != nil:
		builder.WithAccountStore(postgres.New(db).Accounts()).
			WithRefreshStore(redisStores.Refresh()).
			WithOTPStore(redisStores.OTP())
	default:
		log.Warn("RIDEAUTH_DATABASE_URL not set; accounts are kept in memory")
		builder.WithAccountStore(memory.NewAccountStore()).
			WithRefreshStore(redisStores.Refresh()).
			WithOTPStore(redisStores.OTP())
	}

	switch srv.MailMode {
	case "smtp":
		var smtpCfg mail.SMTPConfig
		if err := env.Parse(&smtpCfg); err != nil {
			return fmt.Errorf("parse smtp config: %w", err)
		}
		sender, err := mail.NewSMTPSender(smtpCfg)
		if err != nil {
			return err
		}
		builder.WithEmailSender(sender)
	default:
		builder.WithEmailSender(mail.NewLogSender(log.Named("mail")))
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	// -------- METRICS --------
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewExporter(engine),
	)

	// -------- HTTP --------
	api := httpapi.New(engine, httpapi.Options{
		Logger:        log,
		Registerer:    reg,
		Gatherer:      reg,
		TrustProxy:    srv.TrustProxy,
		RatePerSecond: srv.RatePerSecond,
		RateBurst:     srv.RateBurst,
		Version:       version,
		Ready: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			if db != nil {
				if err := db.PingContext(ctx); err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
			}
			return nil
		},
	})
	httpServer := &http.Server{
		Addr:              srv.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", srv.HTTPAddr), zap.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// -------- INTERNAL gRPC --------
	var grpcServer *grpc.Server
	if gate := engine.InternalAuthenticator(); gate != nil {
		lis, err := net.Listen("tcp", srv.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", srv.GRPCAddr, err)
		}
		grpcServer = grpc.NewServer(
			grpc.ChainUnaryInterceptor(gate.UnaryServerInterceptor()),
			grpc.ChainStreamInterceptor(gate.StreamServerInterceptor()),
		)
		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

		go func() {
			log.Info("internal grpc listening", zap.String("addr", srv.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	} else {
		log.Warn("RIDEAUTH_INTERNAL_API_KEY not set; internal gRPC listener disabled")
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.ShutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("goodbye")
	return nil
}
