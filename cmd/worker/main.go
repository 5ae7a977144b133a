// Command worker is the long-running process: it loads configuration,
// opens the database and cache connections, wires every engine and
// background loop, and serves the internal ops HTTP surface until told to
// shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/config"
	"github.com/xrgarcia/jerky-shipping-sub001/internal/db"
	"github.com/xrgarcia/jerky-shipping-sub001/internal/httpapi"
	"github.com/xrgarcia/jerky-shipping-sub001/internal/logging"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/catalog"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/coordinator"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/fingerprint"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/queue"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/ratecheck"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/session"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/workers"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the process configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, syncLog, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer syncLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, db.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.Cache.URL)
	if err != nil {
		return fmt.Errorf("parse cache url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping cache: %w", err)
	}

	stopWatch, err := config.Watch(configPath, log, func(reloaded *config.Config) {
		// Only the tuning knobs named in config.Watch's doc are safe to
		// hot-swap; workers already running keep their own copy of cfg
		// otherwise, so a reload here is a deliberate no-op beyond the log
		// line until a concrete hot-swappable field is needed.
		log.Info("configuration file changed on disk", "path", configPath)
		_ = reloaded
	})
	if err != nil {
		return fmt.Errorf("start config watch: %w", err)
	}
	defer stopWatch()

	shipments := shipment.NewStore(pool)
	queueStore := queue.NewStore(pool)
	sessionStore := session.NewPostgresStore(pool)
	catalogSource := catalog.NewPostgresSource(pool)
	repairJobStore := workers.NewRepairJobStore(pool)
	rateStore := ratecheck.NewPostgresStore(pool)

	catalogCache := catalog.NewCache(catalogSource, catalogSource, rdb)

	lifecycleEnqueuer := workers.NewLifecycleQueueEnqueuer(queueStore, cfg.Queues.MaxRetries)

	fingerprintEngine := fingerprint.NewEngine(
		shipments, shipments, shipments, shipments, shipments, shipments,
		catalogCache, lifecycleEnqueuer,
		fingerprint.Config{ExcludedSKUs: toSet(cfg.Fingerprint.ExcludedSKUs)},
	)

	labelBreaker := coordinator.NewLabelProviderBreaker("label_provider", func(from, to gobreaker.State) {
		log.Info("label provider circuit breaker state change", "from", from, "to", to)
	})
	labelClient := ratecheck.NewLabelProviderClient(cfg.LabelAPI.BaseURL, cfg.LabelAPI.APIKey, cfg.LabelAPI.Timeout, labelBreaker)

	coordinatorMutex := coordinator.NewMutex(rdb, 30*time.Second, log)
	degraded := coordinator.NewDegradedBroadcaster(rdb)
	guardedRates := &guardedRateProvider{
		inner:    labelClient,
		mutex:    coordinatorMutex,
		degraded: degraded,
		log:      log.WithValues("component", "guarded_rate_provider"),
	}

	rateEngine := ratecheck.NewEngine(
		shipments, shipments, rateStore, guardedRates, rateStore,
		ratecheck.Config{DisallowedServices: cfg.RateCheck.DisallowedServices},
		log,
	)

	shipmentRepo := workers.NewShipmentRepoAdapter(shipments)

	lifecycleWorker := workers.NewLifecycleWorker(
		queueStore,
		shipmentRepo,
		rateEngine,
		workers.LifecycleWorkerConfig{
			QueueName:              "lifecycle_eval",
			BatchSize:              cfg.Lifecycle.BatchSize,
			BusyPollInterval:       cfg.Lifecycle.PollIntervalBusy,
			IdlePollInterval:       cfg.Lifecycle.PollIntervalIdle,
			SideEffectGuardDelay:   cfg.Lifecycle.SideEffectGuardDelay,
			StaleProcessingTimeout: cfg.Queues.StaleProcessingThreshold,
			BaseBackoff:            cfg.Queues.BaseBackoff,
			MaxBackoff:             cfg.Queues.MaxBackoff,
			RateLimitBackoff:       cfg.Queues.RateLimitBackoff,
		},
		log,
	)

	docStoreClient := workers.NewDocStoreClient(cfg.DocStore.BaseURL, cfg.DocStore.APIKey, cfg.DocStore.Timeout)

	sessionSyncWorker := workers.NewSessionSyncWorker(
		docStoreClient,
		workers.NewSessionShipmentRepoAdapter(shipments),
		fingerprintEngine,
		catalogCache,
		lifecycleEnqueuer,
		workers.SessionSyncWorkerConfig{
			PollInterval:  cfg.DocStore.PollInterval,
			ReimportBatch: cfg.DocStore.ReimportBatchSize,
		},
		log,
	)

	repairWorker := workers.NewRepairWorker(
		repairJobStore,
		workers.NewLifecycleReconciler(shipmentRepo),
		workers.DefaultRepairWorkerConfig(),
		log,
	)

	sessionBatcher := session.NewBatcher(sessionStore, lifecycleEnqueuer, log)

	ops := httpapi.NewServer(
		httpapi.WorkerStatuses{Lifecycle: lifecycleWorker, SessionSync: sessionSyncWorker},
		queueStore,
		repairJobStore,
		sessionBatcher,
		fingerprintEngine,
		shipments,
		log,
	)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.OpsPort,
		Handler:           ops.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lifecycleWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sessionSyncWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		repairWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("ops http surface listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("worker shut down cleanly")
	return nil
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

// guardedRateProvider wraps the label provider client with the cross-
// process coordinator lock: the lifecycle worker's inline rate-check side
// effect runs in every worker replica, and serializing those calls keeps a
// burst from tripping the provider's rate limit. Failure to acquire
// broadcasts degraded and returns an error rather than blocking the
// caller.
type guardedRateProvider struct {
	inner    ratecheck.RateProvider
	mutex    *coordinator.Mutex
	degraded *coordinator.DegradedBroadcaster
	log      logr.Logger
}

func (g *guardedRateProvider) FetchCandidateRates(ctx context.Context, externalShipmentID string) ([]ratecheck.Candidate, error) {
	release, acquired, err := g.mutex.TryAcquire(ctx, "label_provider")
	if err != nil {
		return nil, err
	}
	if !acquired {
		if bErr := g.degraded.Degraded(ctx, "label provider lock held by another caller"); bErr != nil {
			g.log.Error(bErr, "degraded broadcast failed")
		}
		return nil, fmt.Errorf("rate check: label provider lock held by another caller")
	}
	defer release(context.Background())

	rates, err := g.inner.FetchCandidateRates(ctx, externalShipmentID)
	if err != nil {
		if bErr := g.degraded.Degraded(ctx, err.Error()); bErr != nil {
			g.log.Error(bErr, "degraded broadcast failed")
		}
		return nil, err
	}
	if rErr := g.degraded.Recovered(ctx); rErr != nil {
		g.log.Error(rErr, "recovered broadcast failed")
	}
	return rates, nil
}
