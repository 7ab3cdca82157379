package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/baikov/metalsync/internal/client"
	"github.com/baikov/metalsync/internal/config"
	"github.com/baikov/metalsync/internal/database"
	"github.com/baikov/metalsync/internal/proxy"
	"github.com/baikov/metalsync/internal/queue"
	"github.com/baikov/metalsync/internal/repository"
	"github.com/baikov/metalsync/internal/service"
	"github.com/baikov/metalsync/internal/state"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Container holds all initialized components
type Container struct {
	Config  *config.Config
	Fetcher client.Fetcher
	Catalog repository.CatalogStore
	Tree    repository.CategoryTreeStore
	Queue   queue.Queue
	State   state.StateManager

	Service *service.Service

	db    *pgxpool.Pool
	redis *redis.Client
}

// New creates a new container with all dependencies initialized
func New(cfg *config.Config) (*Container, error) {
	container := &Container{
		Config: cfg,
	}

	proxySupplier, err := proxy.NewProxySupplier(context.Background(), cfg.Site.Proxies, cfg.Site.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize proxy supplier: %w", err)
	}

	db, err := pgxpool.New(context.Background(),
		fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Name,
		))
	if err != nil {
		return nil, err
	}
	container.db = db

	// Migrations run over database/sql; goose wants a *sql.DB.
	sqlDB := stdlib.OpenDBFromPool(db)
	if err := database.RunMigrations(sqlDB); err != nil {
		return nil, err
	}
	if err := sqlDB.Close(); err != nil {
		return nil, err
	}

	container.Catalog = repository.NewCatalogStore(db)
	container.Tree = repository.NewCategoryTreeStore(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	container.redis = rdb
	log.Info("Connected to Redis successfully")

	redisQueue, err := queue.NewRedisQueue(rdb, cfg.Redis)
	if err != nil {
		return nil, err
	}
	container.Queue = redisQueue
	container.State = state.NewRedisStateManager(rdb)

	container.Fetcher = client.NewFetcher(cfg.Site, proxySupplier)

	container.Service = service.NewService(
		container.Catalog,
		container.Tree,
		container.Fetcher,
		redisQueue,
		container.State,
		cfg.Site,
		cfg.Parser,
		cfg.Redis.ConsumerGroup,
	)

	return container, nil
}

// RunImport performs a one-shot sitemap import.
func (c *Container) RunImport(ctx context.Context) error {
	_, err := c.Service.ImportCategoryTree(ctx)
	return err
}

// RunSync runs one full reconciliation pass plus the retry worker. The
// worker stops once the pass is done and the retry stream drains.
func (c *Container) RunSync(ctx context.Context, categoryIDs []int64) error {
	g, ctx := errgroup.WithContext(ctx)
	workerCtx, stopWorker := context.WithCancel(ctx)

	g.Go(func() error {
		defer stopWorker()
		_, err := c.Service.ReconcileAll(ctx, categoryIDs)
		if err != nil {
			return err
		}
		// Give queued retries their backoff window before shutting down.
		grace := time.Duration(c.Config.Site.AntiBotBackoffSeconds*(c.Config.Site.MaxRetries+1)) * time.Second
		select {
		case <-ctx.Done():
		case <-time.After(grace):
		}
		return nil
	})

	g.Go(func() error {
		err := c.Service.RunRetryWorker(workerCtx, time.Duration(c.Config.Redis.MinIdleTime)*time.Second)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// Close performs cleanup when shutting down
func (c *Container) Close() error {
	log.Info("Shutting down container...")

	c.db.Close()
	if err := c.redis.Close(); err != nil {
		return err
	}

	log.Info("Container shut down successfully")
	return nil
}
