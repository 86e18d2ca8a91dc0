package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"tradecore/internal/api"
	"tradecore/internal/api/handlers"
	"tradecore/internal/cache"
	"tradecore/internal/config"
	"tradecore/internal/models"
	"tradecore/internal/msgbus"
	"tradecore/internal/pool"
	"tradecore/internal/portfolio"
	"tradecore/internal/repository"
	"tradecore/internal/websocket"
	"tradecore/pkg/crypto"
	"tradecore/pkg/utils"

	_ "github.com/lib/pq"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(cfg.Logging.LogConfig())
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.WithComponent("server").Fatal("server failed", utils.Err(err))
	}
	logger.WithComponent("server").Info("server exited")
}

// archive - репозитории Postgres; nil при DB_ENABLED=false
type archive struct {
	db        *sql.DB
	pools     *repository.PoolSnapshotRepository
	positions *repository.PositionSnapshotRepository
	accounts  *repository.AccountStateRepository
}

// run собирает компоненты и работает до отмены ctx
func run(ctx context.Context, cfg *config.Config) (err error) {
	log := utils.L().WithComponent("server")

	bus := msgbus.New(cfg.Bus.Name)
	c := cache.New(cache.Config{})

	pf, err := portfolio.New(bus, c, cfg.Portfolio.PortfolioSettings(), models.NanosNow)
	if err != nil {
		return fmt.Errorf("create portfolio: %w", err)
	}
	defer pf.Dispose()

	pools, err := buildPools(cfg.Market.Pools)
	if err != nil {
		return err
	}

	var arc *archive
	if cfg.Database.Enabled {
		arc, err = openArchive(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, arc.db.Close()) }()
		log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

		restorePools(ctx, arc.pools, pools)
	}

	hub := websocket.NewHub(cfg.Server.AllowedOrigins)
	go hub.Run()
	if err := hub.Attach(bus); err != nil {
		hub.Stop()
		return err
	}
	defer hub.Stop()
	defer hub.Detach()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pushPortfolio(ctx, hub, pf, models.Venue(cfg.Exchange.Venue), cfg.Server.PushInterval)
		return nil
	})

	if arc != nil {
		recorder := repository.NewAccountStateRecorder(arc.accounts, 0)
		if _, err := recorder.Subscribe(bus, portfolio.TopicAccounts); err != nil {
			return err
		}
		g.Go(func() error { return recorder.Run(ctx) })
	}

	if err := startBridges(ctx, g, bus, cfg.Bus); err != nil {
		return err
	}

	feed, err := newVenueFeed(cfg, c, bus, arc)
	if err != nil {
		return err
	}
	defer feed.Close()
	g.Go(func() error { return feed.Run(ctx) })

	if cfg.Market.ReplayQuotesPath != "" {
		g.Go(func() error {
			return replayQuotes(ctx, c, bus, cfg.Market.ReplayQuotesPath, cfg.Market.ReplayChunkSize)
		})
	}

	if cfg.Portfolio.PurgeInterval > 0 {
		g.Go(func() error {
			purgeLoop(ctx, c, arc, cfg.Portfolio.PurgeInterval, cfg.Portfolio.PurgeBuffer)
			return nil
		})
	}

	deps, err := apiDependencies(cfg, pf, pools, arc, hub)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		log.Info("starting server", utils.String("addr", server.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	// Graceful shutdown
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if arc != nil {
		persistPools(context.Background(), arc.pools, pools)
	}
	return nil
}

// openArchive открывает Postgres и применяет схему
func openArchive(ctx context.Context, cfg config.DatabaseConfig) (*archive, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to ping database: %w", err), db.Close())
	}
	if err := repository.Migrate(ctx, db); err != nil {
		return nil, multierr.Append(err, db.Close())
	}

	return &archive{
		db:        db,
		pools:     repository.NewPoolSnapshotRepository(db),
		positions: repository.NewPositionSnapshotRepository(db),
		accounts:  repository.NewAccountStateRepository(db),
	}, nil
}

func buildPools(specs []config.PoolSpec) (*pool.Registry, error) {
	reg := pool.NewRegistry()
	for _, spec := range specs {
		p, err := pool.NewProfiler(spec.ProfilerConfig())
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", spec.Address.Hex(), err)
		}
		if err := reg.Add(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// restorePools поднимает профайлеры из последних снимков
func restorePools(ctx context.Context, repo *repository.PoolSnapshotRepository, reg *pool.Registry) {
	log := utils.L().WithComponent("server")
	for _, p := range reg.All() {
		addr := p.Config().Address.Hex()
		ok, err := repo.Restore(ctx, p)
		switch {
		case err != nil:
			log.Error("failed to restore pool snapshot", utils.String("pool", addr), utils.Err(err))
		case ok:
			last, _ := p.LastProcessed()
			log.Info("pool restored", utils.String("pool", addr), utils.Block(last.Number))
		}
	}
}

// persistPools сохраняет снимки инициализированных пулов при остановке
func persistPools(ctx context.Context, repo *repository.PoolSnapshotRepository, reg *pool.Registry) {
	log := utils.L().WithComponent("server")
	for _, p := range reg.All() {
		if !p.IsInitialized() {
			continue
		}
		if err := repo.Save(ctx, p.ExtractSnapshot()); err != nil {
			log.Error("failed to save pool snapshot", utils.String("pool", p.Config().Address.Hex()), utils.Err(err))
		}
	}
}

// startBridges запускает мосты шины в Redis и Kafka, если они настроены
func startBridges(ctx context.Context, g *errgroup.Group, bus *msgbus.Bus, cfg config.BusConfig) error {
	base := msgbus.BridgeConfig{Patterns: cfg.Patterns}

	if cfg.RedisAddr != "" {
		bridge := msgbus.NewRedisBridge(bus,
			msgbus.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB),
			msgbus.RedisConfig{BridgeConfig: base, Stream: cfg.RedisStream})
		g.Go(func() error {
			defer bridge.Close()
			return bridge.Run(ctx)
		})
	}

	if len(cfg.KafkaBrokers) > 0 {
		kcfg := msgbus.KafkaConfig{
			BridgeConfig: base,
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			GroupID:      cfg.KafkaGroupID,
		}
		writer, reader := msgbus.NewKafkaClients(kcfg)
		bridge := msgbus.NewKafkaBridge(bus, writer, reader, kcfg)
		g.Go(func() error {
			defer bridge.Close()
			return bridge.Run(ctx)
		})
	}
	return nil
}

// apiDependencies собирает зависимости REST API. Интерфейсы заполняются
// только ненулевыми значениями, иначе маршруты получат typed nil.
func apiDependencies(cfg *config.Config, pf *portfolio.Portfolio, pools *pool.Registry,
	arc *archive, hub *websocket.Hub) (*api.Dependencies, error) {
	deps := &api.Dependencies{
		Portfolio:    pf,
		Pools:        pools,
		Hub:          hub,
		Origins:      cfg.Server.AllowedOrigins,
		HealthChecks: make(map[string]handlers.HealthCheck),
	}

	if !cfg.Security.AuthDisabled {
		tokens, err := crypto.NewTokenSet(cfg.Security.APITokenHashes)
		if err != nil {
			return nil, fmt.Errorf("api tokens: %w", err)
		}
		deps.Tokens = tokens
	} else {
		utils.L().WithComponent("server").Warn("API authentication disabled")
	}

	if arc != nil {
		deps.PoolStore = arc.pools
		deps.AccountHistory = arc.accounts
		deps.HealthChecks["database"] = arc.db.PingContext
	}
	return deps, nil
}

// pushPortfolio периодически отправляет сводку портфеля в дашборд
func pushPortfolio(ctx context.Context, hub *websocket.Hub, pf *portfolio.Portfolio, venue models.Venue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if hub.ClientCount() == 0 {
				continue
			}
			exposures, _ := pf.NetExposures(venue)
			hub.Broadcast(websocket.NewPortfolioUpdateMessage(venue,
				pf.RealizedPnLs(venue), pf.UnrealizedPnLs(venue), exposures, pf.IsInitialized()))
		}
	}
}

// purgeLoop сохраняет снимки позиций в архив и чистит закрытые ордера и позиции
func purgeLoop(ctx context.Context, c *cache.Cache, arc *archive, interval, buffer time.Duration) {
	log := utils.L().WithComponent("server")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if arc != nil {
				persistPositionSnapshots(ctx, c, arc.positions)
			}
			now := models.NanosNow()
			orders := c.PurgeClosedOrders(now, uint64(buffer))
			positions := c.PurgeClosedPositions(now, uint64(buffer))
			if orders > 0 || positions > 0 {
				log.Info("cache purged", utils.Int("orders", orders), utils.Int("positions", positions))
			}
		}
	}
}

func persistPositionSnapshots(ctx context.Context, c *cache.Cache, repo *repository.PositionSnapshotRepository) {
	log := utils.L().WithComponent("server")
	for _, inst := range c.Instruments(nil) {
		for _, id := range c.PositionSnapshotIDs(inst.ID) {
			if err := repo.Persist(ctx, c, id); err != nil {
				log.Error("failed to persist position snapshots", utils.PositionID(string(id)), utils.Err(err))
			}
		}
	}
}
