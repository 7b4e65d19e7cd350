package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"drive/internal/server/api"
	"drive/internal/server/auth"
	"drive/internal/server/cache"
	"drive/internal/server/config"
	"drive/internal/server/database"
	"drive/internal/server/logging"
	"drive/internal/server/service"
	"drive/internal/server/storage"
)

const oidcDiscoveryRetries = 5

// metadataStore is what both database drivers provide.
type metadataStore interface {
	service.MetadataStore
	storage.SweepStore
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the drive API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.DB.Driver != "postgres" {
				return fmt.Errorf("migrate requires the postgres driver, got %q", cfg.DB.Driver)
			}
			lg := setupLogger(cfg)
			defer lg.Sync()
			ctx := logging.WithLogger(cmd.Context(), lg)

			db, err := database.New(ctx, cfg.DB.DataSource, cfg.DB.MaxConns, cfg.DB.ConnectRetries)
			if err != nil {
				return err
			}
			defer db.Close()

			return db.RunMigrations(ctx)
		},
	}
}

func setupLogger(cfg *config.Config) *zap.Logger {
	lvl, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	logging.SetConfig(&logging.Config{Level: lvl, FilePath: cfg.Log.File})
	return logging.DefaultLogger()
}

func runServer(ctx context.Context, cfg *config.Config) error {
	lg := setupLogger(cfg)
	defer lg.Sync()
	ctx = logging.WithLogger(ctx, lg)

	lg.Info("configuration loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("auth_mode", cfg.Auth.Mode),
	)

	store, closeStore, err := openStore(ctx, &cfg.DB)
	if err != nil {
		return err
	}
	defer closeStore()

	gateway, blobs, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}

	cacher, err := cache.NewCache(ctx, &cfg.Cache)
	if err != nil {
		return err
	}
	if c, ok := cacher.(io.Closer); ok {
		defer c.Close()
	}

	gate, err := openGate(ctx, &cfg.Auth)
	if err != nil {
		return err
	}

	svc := service.NewDriveService(store, gateway, cacher, service.Options{
		OwnerDownloadTTL: cfg.Storage.OwnerDownloadTTL,
		ShareDownloadTTL: cfg.Storage.ShareDownloadTTL,
		PendingUploadTTL: cfg.Cleanup.PendingUploadTTL,
		ShareCacheTTL:    cfg.Cache.ShareTTL,
		VerifyUploads:    cfg.Storage.VerifyUploads,
	})

	var cleanup *storage.CleanupService
	if cfg.Cleanup.Enable {
		cleanup = storage.NewCleanupService(store, gateway, cfg.Cleanup.Schedule, cfg.Cleanup.PurgeBatch)
		if err := cleanup.Start(ctx); err != nil {
			return err
		}
		lg.Info("cleanup scheduled", zap.String("schedule", cfg.Cleanup.Schedule))
	}

	e, limiter := api.SetupRouter(api.Router{
		Handler: api.NewHandler(svc),
		Blobs:   blobs,
		Gate:    gate,
		Logger:  lg,
	}, &cfg.Server)
	defer limiter.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           e,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		lg.Info("starting server", zap.String("addr", srv.Addr), zap.String("base_url", cfg.Server.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "serve")
		}
	case <-ctx.Done():
	}

	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("server forced to shutdown", zap.Error(err))
	}

	if cleanup != nil {
		cleanup.Wait()
	}

	lg.Info("server exited cleanly")
	return nil
}

func openStore(ctx context.Context, cfg *config.DBConfig) (metadataStore, func(), error) {
	if cfg.Driver == "memory" {
		logging.FromContext(ctx).Warn("using in-memory metadata store; data is lost on restart")
		return database.NewMemoryStore(), func() {}, nil
	}

	db, err := database.New(ctx, cfg.DataSource, cfg.MaxConns, cfg.ConnectRetries)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return database.NewRepository(db), db.Close, nil
}

func openGateway(ctx context.Context, cfg *config.Config) (storage.Gateway, *api.BlobHandler, error) {
	lg := logging.FromContext(ctx)

	if cfg.Storage.Driver == "s3" {
		gw, err := storage.NewS3Gateway(ctx, cfg.Storage.S3, cfg.Storage.UploadTTL)
		if err != nil {
			return nil, nil, err
		}
		lg.Info("s3 storage initialized", zap.String("bucket", cfg.Storage.S3.Bucket))
		return gw, nil, nil
	}

	gw, err := storage.NewFileSystemGateway(cfg.Storage.Path, cfg.Server.BaseURL, cfg.Storage.SigningSecret, cfg.Storage.UploadTTL)
	if err != nil {
		return nil, nil, err
	}
	if err := gw.EnsureDir(); err != nil {
		return nil, nil, errors.Wrap(err, "initialize storage")
	}
	lg.Info("file storage initialized", zap.String("path", cfg.Storage.Path))
	return gw, api.NewBlobHandler(gw), nil
}

func openGate(ctx context.Context, cfg *config.AuthConfig) (auth.Gate, error) {
	if cfg.Mode == "oidc" {
		return auth.NewOIDCGate(ctx, cfg.Issuer, cfg.ClientID, oidcDiscoveryRetries)
	}
	return auth.NewJWTGate(cfg.JWTSecret), nil
}
