package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/scorebook/internal/completion"
	"github.com/noah-isme/scorebook/internal/importer"
	"github.com/noah-isme/scorebook/internal/repository"
	"github.com/noah-isme/scorebook/internal/service"
	"github.com/noah-isme/scorebook/internal/snapshot"
	"github.com/noah-isme/scorebook/internal/store"
	"github.com/noah-isme/scorebook/pkg/config"
	"github.com/noah-isme/scorebook/pkg/database"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
	"github.com/noah-isme/scorebook/pkg/jobs"
	"github.com/noah-isme/scorebook/pkg/logger"
	"github.com/noah-isme/scorebook/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := bootstrap(ctx, cfg, logr)
	if err != nil {
		logr.Sugar().Fatalw("bootstrap failed", "error", err, "backend", cfg.Storage.Backend)
	}
	defer cleanup()

	if err := app.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cleanup()
		os.Exit(exitCode(err))
	}
}

// bootstrap wires the store, the selected persistence backend and the
// services, then loads any existing gradebook.
func bootstrap(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*app, func(), error) {
	validate := validator.New()
	metrics := service.NewMetricsService()
	st := store.New(validate)

	queue := jobs.NewQueue("gradebook", jobs.QueueConfig{
		BufferSize: cfg.Queue.Buffer,
		MaxRetries: cfg.Queue.Retries,
		RetryDelay: cfg.Queue.RetryDelay,
		RetryIf: func(err error) bool {
			return appErrors.FromError(err).Retryable
		},
		Logger: logr,
	})
	queue.Start(ctx)

	var (
		db      *sqlx.DB
		docs    *snapshot.FileStore
		rel     *repository.GradebookRepository
		tracker completion.Tracker
	)
	cleanup := func() {
		queue.Stop()
		if db != nil {
			_ = db.Close()
		}
	}

	switch cfg.Storage.Backend {
	case config.BackendRelational:
		var err error
		db, err = database.Open(cfg.Database)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := repository.Migrate(ctx, db); err != nil {
			cleanup()
			return nil, nil, err
		}
		rel = repository.NewGradebookRepository(db)
		tracker = repository.NewCompletionRepository(db)
	case config.BackendDocument, "":
		docs = snapshot.NewFileStore(storage.NewLocalStorage(""), logr)
		tracker = completion.NewMemoryTracker()
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	exports := service.NewExportService(st, storage.NewLocalStorage(cfg.Export.Dir), cfg.Grading.DisplayPrecision, logr, nil, nil)
	svc := service.NewGradebookService(st, docs, rel, tracker, queue, exports, importer.NewReader(validate), metrics, service.GradebookConfig{
		Backend:           cfg.Storage.Backend,
		SearchLimit:       cfg.Grading.SearchLimit,
		HistogramBinWidth: cfg.Grading.HistogramBinWidth,
		DisplayPrecision:  cfg.Grading.DisplayPrecision,
	}, logr)

	if err := initialLoad(ctx, cfg, svc, st); err != nil {
		cleanup()
		return nil, nil, err
	}

	return &app{svc: svc, metrics: metrics, backend: cfg.Storage.Backend, binWidth: cfg.Grading.HistogramBinWidth, out: os.Stdout}, cleanup, nil
}

// initialLoad restores the gradebook. A document snapshot that does not exist
// yet becomes the save target for the first save.
func initialLoad(ctx context.Context, cfg *config.Config, svc *service.GradebookService, st *store.Store) error {
	if cfg.Storage.Backend == config.BackendRelational {
		return svc.Load(ctx, "")
	}
	path := cfg.Storage.SnapshotPath
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		st.SetSavePath(&path)
		return nil
	}
	return svc.Load(ctx, path)
}

func exitCode(err error) int {
	switch appErrors.FromError(err).Code {
	case appErrors.ErrValidation.Code, appErrors.ErrParse.Code:
		return 2
	case appErrors.ErrNotFound.Code, appErrors.ErrLookup.Code:
		return 3
	default:
		return 1
	}
}
