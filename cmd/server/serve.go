package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/neurondb/NeuronGateway/internal/assistant"
	"github.com/neurondb/NeuronGateway/internal/auth"
	"github.com/neurondb/NeuronGateway/internal/config"
	"github.com/neurondb/NeuronGateway/internal/db"
	"github.com/neurondb/NeuronGateway/internal/gateway"
	"github.com/neurondb/NeuronGateway/internal/handlers"
	"github.com/neurondb/NeuronGateway/internal/initialization"
	"github.com/neurondb/NeuronGateway/internal/logging"
	"github.com/neurondb/NeuronGateway/internal/metrics"
	"github.com/neurondb/NeuronGateway/internal/middleware"
	"github.com/neurondb/NeuronGateway/internal/ratelimit"
	"github.com/neurondb/NeuronGateway/internal/registry"
	"github.com/neurondb/NeuronGateway/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP and websocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	logger.Info("Starting NeuronGateway", map[string]interface{}{
		"address": cfg.Server.Addr(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, queries, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	clk := clock.New()

	var tokens *auth.SessionTokens
	if cfg.Auth.JWTSecret != "" {
		if tokens, err = auth.NewSessionTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, clk); err != nil {
			return err
		}
	} else {
		logger.Warn("JWT_SECRET not set; session tokens are disabled", nil)
	}
	store := auth.NewStore(queries, tokens, clk)
	resolver := auth.NewResolver(store, logger)

	policy, err := identityPolicy(cfg, queries, logger)
	if err != nil {
		return err
	}

	health := initialization.NewHealthChecker().Require("database", database)

	var redisClient redis.UniversalClient
	if cfg.RateLimit.Backend == "redis" {
		redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{cfg.RateLimit.RedisAddr},
		})
		defer redisClient.Close()
		health.Optional("redis", initialization.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	requestLimits := ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.BurstSize,
	}
	frameLimits := ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.FrameRequestsPerMinute,
		BurstSize:         cfg.RateLimit.FrameBurstSize,
	}

	group, ctx := errgroup.WithContext(ctx)

	newLimiter := func(limits ratelimit.Config, prefix string) ratelimit.Admitter {
		if redisClient != nil {
			return ratelimit.NewRedisSlidingWindow(redisClient, ratelimit.RedisConfig{
				Limits:    limits,
				KeyPrefix: cfg.RateLimit.RedisKeyPrefix + prefix,
			}, clk, logger)
		}
		limiter := ratelimit.NewSlidingWindow(limits, clk)
		group.Go(func() error {
			limiter.Run(ctx, cfg.RateLimit.SweepInterval)
			return nil
		})
		return limiter
	}

	limiter := newLimiter(requestLimits, "http:")
	var frameAdmitter ratelimit.Admitter
	if cfg.RateLimit.FrameLimit {
		frameAdmitter = newLimiter(frameLimits, "frames:")
	}

	var handler assistant.Handler = assistant.Echo{}
	if cfg.Gateway.HandlerEndpoint != "" {
		handler = assistant.NewClient(cfg.Gateway.HandlerEndpoint, cfg.Gateway.HandlerAPIKey)
		logger.Info("Forwarding messages to handler endpoint", map[string]interface{}{
			"endpoint": cfg.Gateway.HandlerEndpoint,
		})
	} else {
		logger.Warn("No handler endpoint configured; echoing messages", nil)
	}

	reg := registry.New(registry.Options{
		Clock:                clk,
		Logger:               logger,
		BroadcastConcurrency: cfg.Gateway.BroadcastConcurrency,
	})

	gw := gateway.New(gateway.Options{
		Registry:       reg,
		Handler:        handler,
		Resolver:       resolver,
		Policy:         policy,
		Admitter:       frameAdmitter,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		HandlerTimeout: cfg.Gateway.HandlerTimeout,
		PeerClosed:     transport.IsPeerClose,
		Clock:          clk,
		Logger:         logger,
	})

	router := handlers.NewRouter(handlers.RouterConfig{
		Registry:       reg,
		Gateway:        gw,
		Limiter:        limiter,
		Collector:      metrics.NewSystemCollector(time.Second),
		Health:         health,
		Resolver:       resolver,
		KeyManager:     store.Keys(),
		ProtectControl: cfg.Auth.ProtectControlEndpoints,
		CORS: middleware.CORSConfig{
			AllowedOrigins: config.SplitList(cfg.CORS.AllowedOrigins),
			AllowedMethods: config.SplitList(cfg.CORS.AllowedMethods),
			AllowedHeaders: config.SplitList(cfg.CORS.AllowedHeaders),
		},
		Transport: transport.Options{
			WriteWait:      cfg.Gateway.WriteWait,
			PongWait:       cfg.Gateway.PongWait,
			MaxMessageSize: cfg.Gateway.MaxMessageSize,
		},
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Clock:        clk,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// no WriteTimeout: websocket writes carry their own deadlines
	}

	group.Go(func() error {
		logger.Info("Server starting", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// hijacked websocket connections are not tracked by the server; the registry closes them
		return multierr.Combine(
			srv.Shutdown(shutdownCtx),
			reg.Shutdown(shutdownCtx),
		)
	})

	err = group.Wait()
	if err != nil {
		logger.Error("Server stopped with error", err, nil)
		return err
	}
	logger.Info("Server stopped", nil)
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*sql.DB, *db.Queries, error) {
	database, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	database.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	queries := db.NewQueries(database)

	initCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := initialization.NewBootstrap(database, queries, logger).Initialize(initCtx); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to bootstrap database: %w", err)
	}

	logger.Info("Connected to database", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
		"name": cfg.Database.Name,
	})
	return database, queries, nil
}

func identityPolicy(cfg *config.Config, queries *db.Queries, logger *logging.Logger) (gateway.IdentityPolicy, error) {
	if cfg.Auth.StrictIdentities {
		return gateway.NewStrictPolicy(queries, cfg.Auth.IdentityCacheSize)
	}
	return gateway.NewAutoProvision(queries, cfg.Auth.IdentityCacheSize, logger)
}
