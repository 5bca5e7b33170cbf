package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/studyclips/internal/cache"
	"github.com/rpattn/studyclips/internal/config"
	"github.com/rpattn/studyclips/internal/db"
	"github.com/rpattn/studyclips/internal/httpapi"
	"github.com/rpattn/studyclips/internal/ingestion"
	"github.com/rpattn/studyclips/internal/objectstore"
	"github.com/rpattn/studyclips/internal/permission"
	"github.com/rpattn/studyclips/internal/repository"
	"github.com/rpattn/studyclips/internal/retrieval"
	"github.com/rpattn/studyclips/internal/roleloader"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "runs the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conn, err := db.NewConnection(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !skipMigrations {
		if err := db.RunMigrations(cfg.Database, log); err != nil {
			return err
		}
	}

	objects, err := newObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		return err
	}

	studyRepo := repository.NewStudyRepository(conn.Pool)
	fieldRepo := repository.NewFieldRepository(conn.Pool)
	roleRepo := repository.NewRoleRepository(conn.Pool)
	dataRepo := repository.NewDataRepository(conn.Pool, log)
	cacheRepo := repository.NewCacheRepository(conn.Pool)
	logRepo := repository.NewIngestionLogRepository(conn.Pool)

	patterns, err := permission.NewPatternCache(cfg.Cache.PatternCacheSize)
	if err != nil {
		return err
	}
	checker := permission.NewChecker(patterns)
	roles := roleloader.NewSource(roleRepo)
	resultCache := cache.New(cacheRepo, objects, log)

	reader := retrieval.NewService(studyRepo, fieldRepo, dataRepo, roles, checker,
		retrieval.WithCache(resultCache),
		retrieval.WithLogger(log),
	)
	writer := ingestion.NewService(studyRepo, dataRepo, logRepo, roles, reader, checker,
		ingestion.WithBatchSize(cfg.Ingestion.BatchSize),
		ingestion.WithLogger(log),
	)

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewHandler(httpapi.Deps{
			Retrieval:      reader,
			Ingestion:      writer,
			Cache:          resultCache,
			Roles:          roleRepo,
			Log:            log,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

func newObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (objectstore.Store, error) {
	switch cfg.Driver {
	case config.DriverMinio:
		return objectstore.NewMinioStore(ctx, cfg.Minio())
	default:
		return objectstore.NewFileStore(cfg.Directory)
	}
}
