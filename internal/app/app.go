// Package app builds and wires the service components from configuration.
package app

import (
	"context"
	"fmt"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/pagelens/webinsight/internal/api"
	archivegcs "github.com/pagelens/webinsight/internal/archive/gcs"
	archivelocal "github.com/pagelens/webinsight/internal/archive/local"
	archivememory "github.com/pagelens/webinsight/internal/archive/memory"
	"github.com/pagelens/webinsight/internal/clock/system"
	"github.com/pagelens/webinsight/internal/config"
	"github.com/pagelens/webinsight/internal/crawler"
	"github.com/pagelens/webinsight/internal/dispatcher"
	"github.com/pagelens/webinsight/internal/extractor"
	"github.com/pagelens/webinsight/internal/fetcher"
	uuidgen "github.com/pagelens/webinsight/internal/id/uuid"
	"github.com/pagelens/webinsight/internal/logging"
	pubmemory "github.com/pagelens/webinsight/internal/publisher/memory"
	pubgcp "github.com/pagelens/webinsight/internal/publisher/pubsub"
	memqueue "github.com/pagelens/webinsight/internal/queue/memory"
	memstore "github.com/pagelens/webinsight/internal/storage/memory"
	pgstore "github.com/pagelens/webinsight/internal/storage/postgres"
	"github.com/pagelens/webinsight/internal/telemetry"
)

// App holds the fully wired service.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Store      crawler.TargetStore
	Dispatcher *dispatcher.Dispatcher
	Server     *api.Server

	closers []func()
}

// New constructs the application from configuration. An empty db.dsn
// selects the in-memory store, which is intended for development only.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	telemetry.Init()

	a := &App{Config: cfg, Logger: logger}
	clock := system.New()

	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn is empty, using in-memory store")
		a.Store = memstore.New(clock)
	} else {
		store, err := pgstore.NewTargetStore(ctx, pgstore.TargetStoreConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.ConnLifetime(),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("build target store: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
	}

	archive, err := a.buildArchive(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	fetch := fetcher.New(fetcher.Config{
		MaxPageSize:  cfg.Fetcher.MaxPageBytes,
		Timeout:      cfg.Fetcher.FetchTimeout(),
		MaxRedirects: cfg.Fetcher.MaxRedirects,
		UserAgent:    cfg.Fetcher.UserAgent,
	}, logger)

	a.Dispatcher = dispatcher.New(
		memqueue.New(cfg.Dispatcher.QueueDepth),
		fetch,
		extractor.New(),
		a.Store,
		publisher,
		archive,
		clock,
		dispatcher.Config{
			RateLimit:     cfg.Dispatcher.RateLimit(),
			MaxLinks:      cfg.Dispatcher.MaxLinks,
			Topic:         cfg.Events.Topic,
			ArchivePrefix: cfg.Archive.Prefix,
		},
		logger,
	)

	a.Server = api.NewServer(a.Store, a.Dispatcher, uuidgen.New(), logger, cfg.Server.ServerTimeout())
	return a, nil
}

func (a *App) buildArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.Config.Archive.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		return archivememory.NewBlobStore(), nil
	case "local":
		store, err := archivelocal.New(archivelocal.Config{BaseDir: a.Config.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("build local archive: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		store, err := archivegcs.New(client, archivegcs.Config{Bucket: a.Config.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("build gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive provider %q", a.Config.Archive.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.Config.Events.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		return pubmemory.New(), nil
	case "pubsub":
		client, err := gcpubsub.NewClient(ctx, a.Config.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		pub := pubgcp.New(client)
		a.closers = append(a.closers, func() { _ = pub.Close() })
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown events provider %q", a.Config.Events.Provider)
	}
}

// Close releases resources in reverse construction order. The dispatcher
// must already be stopped.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
