// Package server initializes and runs the SSJBox application server. It
// opens the database, runs migrations, wires the services and the HTTP
// endpoint, starts the background janitor and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"github.com/ssjbox/ssjbox/internal/cryptox"
	"github.com/ssjbox/ssjbox/internal/logging"
	"github.com/ssjbox/ssjbox/internal/server/config"
	"github.com/ssjbox/ssjbox/internal/server/httpapi"
	"github.com/ssjbox/ssjbox/internal/server/models"
	"github.com/ssjbox/ssjbox/internal/server/repositories/repomanager"
	"github.com/ssjbox/ssjbox/internal/server/services"
	"github.com/ssjbox/ssjbox/internal/server/storage"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	server  *httpapi.Server
	janitor *services.Janitor
}

func NewApp(c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	// The database may still be coming up when the server starts.
	pingCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	backoff := retry.WithMaxRetries(5, retry.NewConstant(2*time.Second))
	err = retry.Do(pingCtx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	manager := repomanager.NewPostgresRepositoryManager()
	if err := manager.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	cipher, err := cryptox.NewFieldCipher([]byte(c.FieldKeyMaterial))
	if err != nil {
		return nil, fmt.Errorf("field cipher error: %w", err)
	}

	store, err := storage.NewLocalStore(c.UploadRoot)
	if err != nil {
		return nil, fmt.Errorf("upload root error: %w", err)
	}

	var mirror services.Mirror
	if c.S3Bucket != "" {
		mirror = storage.NewS3Mirror(store, storage.MirrorConfig{
			RootUser:     c.S3RootUser,
			RootPassword: c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
		})
	}

	var cache services.SessionCache
	if c.RedisAddr != "" {
		cache = services.NewRedisSessionCache(redis.NewClient(&redis.Options{Addr: c.RedisAddr}))
	}

	users := services.NewUserService(db, manager, cipher, logger)
	limiter := services.NewRateLimiter(db, manager, map[string]int{
		models.ActionLogin:    c.LoginMaxAttempts,
		models.ActionRegister: c.RegisterMaxAttempts,
	}, c.LockoutPenalties, logger)
	guard := services.NewSessionGuard(db, manager, cache, services.GuardSettings{
		TimeoutMinSeconds: c.SessionTimeoutMin,
		TimeoutMaxSeconds: c.SessionTimeoutMax,
		CSRFLifetime:      c.CSRFLifetime,
	}, logger)
	intake := services.NewIntakeService(db, manager, store, mirror, services.NewValidator(c.MaxUploadBytes), c.OwnerQuotaBytes, logger)
	activity := services.NewActivityLogger(db, manager, logger)

	srv := httpapi.New(users, limiter, guard, intake, activity, c.MaxUploadBytes, logger)
	janitor := services.NewJanitor(db, manager, c.JanitorInterval, logger)

	return &App{config: c, logger: logger, db: db, server: srv, janitor: janitor}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	httpServer := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           app.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, "server shutdown error", "error", err.Error())
		}
	}()

	app.logger.Info(ctx, "listening", "addr", app.config.EndpointAddrHTTP)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.janitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
