package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/jwtrefresh/internal/db"
	"github.com/nkiryanov/jwtrefresh/internal/handlers"
	"github.com/nkiryanov/jwtrefresh/internal/logger"
	"github.com/nkiryanov/jwtrefresh/internal/repository"
	"github.com/nkiryanov/jwtrefresh/internal/repository/memory"
	"github.com/nkiryanov/jwtrefresh/internal/repository/postgres"
	"github.com/nkiryanov/jwtrefresh/internal/repository/redisstore"
	"github.com/nkiryanov/jwtrefresh/internal/service/auth"
	"github.com/nkiryanov/jwtrefresh/internal/service/sweeper"
	"github.com/nkiryanov/jwtrefresh/internal/service/user"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	sweeper *sweeper.Sweeper
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{
		ListenAddr: c.ListenAddr,
		logger:     logger,
	}

	storage, err := app.openStorage(ctx, c)
	if err != nil {
		app.Close()
		return nil, err
	}

	// Initialize services
	tokenService, err := auth.NewService(auth.Config{
		AccessSecret:  c.SecretKey,
		RefreshSecret: c.RefreshSecretKey,
		AccessTTL:     c.AccessTTLDuration(),
		RefreshTTL:    c.RefreshTTLDuration(),
	}, storage, logger.With("component", "auth"))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	userService := user.NewService(user.DefaultHasher, storage.User())
	authenticator := auth.NewBearerAuthenticator(tokenService, userService)

	app.Handler = handlers.NewRouter(tokenService, userService, authenticator, logger)

	// Ledger records outlive their tokens only until the next sweep
	if c.SweepInterval > 0 {
		app.sweeper, err = sweeper.New(storage.Refresh(), c.RefreshTTLDuration(), c.SweepIntervalDuration(), logger.With("component", "sweeper"))
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("error while creating sweeper. Err: %w", err)
		}
	}

	return app, nil
}

// Postgres if DSN set, in-memory otherwise. Refresh token ledger moves to redis if it configured
func (s *ServerApp) openStorage(ctx context.Context, c *Config) (repository.Storage, error) {
	var storage repository.Storage

	if c.DatabaseDSN != "" {
		// Connect to the database and run migrations
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		storage = postgres.NewStorage(pool)
		s.logger.Info("Using postgres storage")
	} else {
		storage = memory.NewStorage()
		s.logger.Warn("Database not configured, using in-memory storage")
	}

	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
		})
		s.closers = append(s.closers, func() { _ = rdb.Close() })

		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}

		storage = redisstore.NewStorage(rdb, storage.User(), redisstore.Options{TTL: c.RefreshTTLDuration()})
		s.logger.Info("Using redis refresh token ledger", "addr", c.RedisAddr)
	}

	return storage, nil
}

// Release connections. Safe to call more than once
func (s *ServerApp) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	var sweeperStopped <-chan struct{}
	if s.sweeper != nil {
		sweeperStopped = s.sweeper.Run(srvCtx)
	} else {
		stopped := make(chan struct{})
		close(stopped)
		sweeperStopped = stopped
	}

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperStopped

	return err
}
