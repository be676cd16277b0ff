package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"reviewflow/api/internal/app"
	"reviewflow/api/internal/assessment"
	"reviewflow/api/internal/auth"
	"reviewflow/api/internal/catalog"
	"reviewflow/api/internal/config"
	"reviewflow/api/internal/events"
	"reviewflow/api/internal/export"
	"reviewflow/api/internal/governance"
	"reviewflow/api/internal/lifecycle"
	"reviewflow/api/internal/lock"
	"reviewflow/api/internal/logging"
	"reviewflow/api/internal/rbac"
	"reviewflow/api/internal/reconcile"
	"reviewflow/api/internal/search"
	"reviewflow/api/internal/store"
	"reviewflow/api/internal/upload"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("reviewflow api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]app.Pinger{}

	var kv store.KV
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store, state is lost on restart")
		kv = store.NewMemoryKV()
	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{})
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		kv = store.NewPostgresKV(db)
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	repo := store.NewRepository(kv)
	checks["store"] = repo

	var locker lock.Locker = lock.NewLocal()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLocker, err := lock.NewRedis(cfg.RedisURL, 0)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
		checks["redis"] = redisLocker
		logger.Info("using redis for phase locks")
	}

	templates, err := loadTemplates(cfg.TemplatesFile)
	if err != nil {
		return err
	}
	cat := catalog.New(repo, cfg.Tunables, logger)
	if err := cat.Seed(ctx, templates, catalog.DefaultCategories); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	var gateway governance.Gateway
	if strings.TrimSpace(cfg.GovernanceURL) != "" {
		gateway = governance.NewClient(cfg.GovernanceURL, cfg.GovernanceTimeout)
	} else {
		logger.Warn("GOVERNANCE_URL not set, vote phases cannot be closed")
	}
	voting := assessment.NewVoting(repo, gateway, assessment.VoteSettings{
		TargetID:   cfg.GovernanceTargetID,
		Subaccount: cfg.GovernanceSubaccount,
		URL:        cfg.GovernanceURL,
	}, logger)
	grading := assessment.NewGrading(repo, cat)

	var publisher events.Publisher = events.Noop{}
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		amqpPublisher, err := events.NewAMQP(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("amqp connection failed: %w", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
		checks["amqp"] = app.PingFunc(func(context.Context) error {
			if !amqpPublisher.IsConnected() {
				return errors.New("amqp connection closed")
			}
			return nil
		})
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, repo, logger)
	searchService.ReindexAll(ctx)

	var presigner lifecycle.Presigner
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		p, err := upload.NewPresigner(upload.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Secure:    cfg.S3Secure,
		})
		if err != nil {
			return fmt.Errorf("object storage: %w", err)
		}
		presigner = p
	}

	engine := lifecycle.New(lifecycle.Deps{
		Repo:      repo,
		Catalog:   cat,
		Grading:   grading,
		Voting:    voting,
		Locks:     locker,
		Events:    publisher,
		Presigner: presigner,
		Indexer:   searchService,
		Log:       logger.Named("lifecycle"),
	})

	scheduler := reconcile.NewScheduler(engine, cat, logger.Named("reconcile"))
	go scheduler.Run(ctx)

	var callbacks *auth.Verifier
	if cfg.GovernanceCallbackSecret != "" {
		callbacks = auth.NewVerifier(cfg.GovernanceCallbackSecret, cfg.GovernanceCallbackIssuer)
	} else {
		logger.Warn("GOVERNANCE_CALLBACK_SECRET not set, governance callbacks are unauthenticated")
	}

	httpServer := app.NewHTTPServer(app.Deps{
		Engine:     engine,
		Catalog:    cat,
		Search:     searchService,
		Scheduler:  scheduler,
		Dossiers:   export.NewService(engine, cat, export.WithPandoc(cfg.PandocPath, cfg.DossierStyleDoc)),
		Checks:     checks,
		CORSOrigin: cfg.CORSOrigin,
		Callbacks:  callbacks,
		Operators:  rbac.NewOperators(cfg.OperatorIDs),
		Log:        logger.Named("http"),
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("reviewflow api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

func loadTemplates(path string) ([]store.PhaseTemplate, error) {
	if strings.TrimSpace(path) == "" {
		return config.DefaultTemplates()
	}
	templates, err := config.LoadTemplates(path)
	if err != nil {
		return nil, fmt.Errorf("load templates %s: %w", path, err)
	}
	return templates, nil
}
