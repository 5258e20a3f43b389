package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xela07ax/opsguard/internal/audit"
	"github.com/xela07ax/opsguard/internal/console/handler"
	"github.com/xela07ax/opsguard/internal/console/server"
	"github.com/xela07ax/opsguard/internal/engine"
	"github.com/xela07ax/opsguard/internal/infra"
	"github.com/xela07ax/opsguard/internal/infra/auth"
	"github.com/xela07ax/opsguard/internal/notify"
	"github.com/xela07ax/opsguard/internal/repository/sqlstore"
	"github.com/xela07ax/opsguard/internal/source"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	var (
		cfg *infra.Config
		err error
	)
	if *configPath != "" {
		cfg, err = infra.LoadConfigFile(*configPath)
	} else {
		cfg, err = infra.LoadConfig()
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("opsguard exited with error", zap.Error(err))
	}
	logger.Info("opsguard exited properly")
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Журнал: БД, если настроена, иначе лог
	var (
		storage audit.StorageInterface = audit.LogStorage{Logger: logger.Named("journal")}
		reader  handler.JournalReader
	)
	if cfg.Database.Driver != "" {
		repo, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer repo.Close()
		storage, reader = repo, repo
	}
	journal := audit.NewJournal(storage, cfg.Engine.JournalBuffer, cfg.Engine.JournalFlushInterval, logger)
	journal.OnFill(func(n int) { metrics.JournalBufferFill.Set(float64(n)) })
	journal.Start()
	defer journal.Stop()

	// 3. Redis (опционально)
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable at startup, cluster features degraded", zap.Error(err))
		}
	}

	// 4. Источник метрик
	src := &source.Combined{Host: source.NewHostSource(cfg.Source.DiskPath)}
	if cfg.Source.ProbeURL != "" {
		src.Probe = source.NewHTTPProbe(cfg.Source.ProbeURL)
	}

	// 5. Ядро
	deps := engine.Deps{
		Source:   src,
		Notifier: notify.FromConfig(cfg.Notify, logger),
		Auditor:  journal,
		Metrics:  metrics,
		Logger:   logger,
		Runners:  engine.HookRunnerFactory(cfg.Recovery.Hooks, logger),
	}
	if rdb != nil {
		deps.Lock = engine.NewRedisLock(rdb)
	}
	instanceID := cfg.Engine.InstanceID
	if instanceID == "" {
		instanceID, _ = os.Hostname()
	}
	core, err := engine.New(engine.Config{
		InstanceID:     instanceID,
		TickInterval:   cfg.Engine.TickInterval,
		WindowSize:     cfg.Engine.WindowSize,
		HistorySize:    cfg.Engine.HistorySize,
		ErrorLogSize:   cfg.Engine.ErrorLogSize,
		SampleAttempts: cfg.Engine.SampleAttempts,
		NotifyTimeout:  cfg.Engine.NotifyTimeout,
		Rules:          cfg.Rules,
		Orchestrator: engine.OrchestratorConfig{
			SafetyFactor: cfg.Engine.SafetyFactor,
			MinTimeout:   cfg.Engine.RecoveryMinTimeout,
			MaxAttempts:  cfg.Engine.RecoveryMaxAttempts,
			RetryDelay:   cfg.Engine.RecoveryRetryDelay,
		},
	}, deps)
	if err != nil {
		return err
	}
	logger.Info("engine configured", zap.String("instance_id", core.InstanceID()))

	// 6. API
	opts := server.Options{Journal: reader}
	if len(cfg.Auth.PublicKey) > 0 {
		key, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return err
		}
		opts.Validator = auth.NewRSAValidator(key)
	}

	g, gctx := errgroup.WithContext(ctx)

	if rdb != nil {
		toggles := engine.NewRuleToggleSync(rdb, core, logger)
		if err := toggles.Init(ctx); err != nil {
			logger.Warn("rule toggle sync init failed", zap.Error(err))
		}
		opts.Toggler = toggles
		bus := engine.NewRedisBus(rdb, core, logger)

		g.Go(func() error { toggles.StartListener(gctx); return nil })
		g.Go(func() error { bus.ListenCommands(gctx); return nil })
		g.Go(func() error { bus.PublishEvents(gctx); return nil })
	}

	if err := core.Start(gctx); err != nil {
		return err
	}
	defer core.Stop()

	apiSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.NewAPIServer(core, opts, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error { return serveHTTP(gctx, apiSrv, logger.Named("api")) })

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	g.Go(func() error { return serveHTTP(gctx, metricsSrv, logger.Named("metrics")) })

	if cfg.GRPC.Addr != "" {
		reporter := engine.NewHealthReporter(core, logger)
		grpcSrv := grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, reporter.Server())

		g.Go(func() error { reporter.Run(gctx, cfg.Engine.TickInterval); return nil })
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				return err
			}
			logger.Info("grpc health server started", zap.String("addr", cfg.GRPC.Addr))
			go func() {
				<-gctx.Done()
				grpcSrv.GracefulStop()
			}()
			return grpcSrv.Serve(lis)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("opsguard stopping...")
	return nil
}

// serveHTTP держит сервер до отмены ctx и дает 5 секунд на завершение запросов.
func serveHTTP(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
