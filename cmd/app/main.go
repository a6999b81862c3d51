// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socratic-ai-service/internal/config"
	"socratic-ai-service/internal/domain/ports/adapter"
	"socratic-ai-service/internal/domain/ports/repository"
	aiAdapters "socratic-ai-service/internal/infra/adapters/ai"
	pg "socratic-ai-service/internal/infra/db/postgres"
	"socratic-ai-service/internal/infra/logging"
	"socratic-ai-service/internal/infra/metrics"
	"socratic-ai-service/internal/infra/queue"
	red "socratic-ai-service/internal/infra/redis"
	"socratic-ai-service/internal/infra/sched"
	"socratic-ai-service/internal/infra/security"
	"socratic-ai-service/internal/infra/stream"
	"socratic-ai-service/internal/infra/web"
	"socratic-ai-service/internal/infra/worker"
	"socratic-ai-service/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: in-memory queue, no redis, canned AI replies")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		stdlog.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	txMgr := pg.NewTxManager(pool)
	convRepo := pg.NewPostgresConversationRepo(pool, txMgr)
	keyRepo := pg.NewPostgresProviderKeyRepo(pool)
	usageRepo := pg.NewPostgresUsageLogRepo(pool)

	// ---- Redis (skipped entirely in dev mode) ----
	var (
		queueStore queue.Store             = queue.NewMemoryStore()
		locker     worker.Locker           = worker.NewLocalLocker()
		contexts   repository.ContextStore = convRepo
		limiter    usecase.RateLimiter
	)
	if !cfg.Runtime.Dev {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()

		queueStore = red.NewQueueStore(redisClient, cfg.Queue.Retention)
		locker = red.NewLocker(redisClient)
		limiter = red.NewRateLimiter(redisClient)
		contexts = red.NewCachedContextStore(convRepo, red.NewContextCache(redisClient, cfg.Redis.TTL))
	}

	// ---- Encryption / secrets ----
	encKey := cfg.Security.EncryptionKey
	if len(encKey) != 16 && len(encKey) != 24 && len(encKey) != 32 {
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("security.encryption_key must be 16, 24 or 32 bytes")
		}
		logger.Warn().Msg("security.encryption_key missing; using dev key (INSECURE)")
		encKey = "0123456789abcdef0123456789abcdef"
	}
	encSvc, err := security.NewKeyCipher(encKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}
	secrets := security.NewSecretsResolver(keyRepo, encSvc, map[string]string{
		"openai": cfg.AI.OpenAIKey,
		"gemini": cfg.AI.GeminiKey,
	})

	// ---- AI gateway ----
	var gateway adapter.ProviderGateway
	if cfg.Runtime.Dev {
		gateway = aiAdapters.NewNoopAdapter()
	} else {
		pricer := aiAdapters.NewPricer(cfg.AI.Pricing)
		byProvider := map[string]adapter.ProviderGateway{}
		if cfg.AI.OpenAIKey != "" {
			byProvider["openai"] = aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.DefaultModel, pricer)
		}
		if cfg.AI.GeminiKey != "" {
			byProvider["gemini"] = aiAdapters.NewGeminiAdapter(cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel, 0, pricer)
		}
		if len(byProvider) == 0 {
			logger.Fatal().Msg("no AI provider configured: set ai.openai_key or ai.gemini_key")
		}
		gateway = aiAdapters.NewMultiAdapter(cfg.AI.DefaultProvider, byProvider, cfg.AI.ModelProviders)
	}

	// ---- Queue + event pipeline ----
	jobQueue := queue.New(queueStore, queue.Config{
		Attempts:             cfg.Queue.Attempts,
		BackoffBase:          cfg.Queue.BackoffBase,
		FailFastNonRetriable: cfg.Queue.FailFastNonRetriable,
	}, logger)

	broadcaster := stream.NewBroadcaster(logger)

	processor := worker.NewProcessor(contexts, convRepo, usageRepo, secrets, gateway, broadcaster, cfg.AI.AllowedModels, logger)
	workerPool := worker.NewPool(cfg.Queue.Workers, logger)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	dispatcher := worker.NewDispatcher(jobQueue, workerPool, processor, locker, cfg.Queue.PollInterval, logger)
	go dispatcher.Start(ctx)

	// ---- Maintenance ----
	archiver := sched.NewArchiveWorker(cfg.Maintenance.ArchiveInterval, cfg.Maintenance.ArchiveIdleFor, convRepo, logger)
	go func() { _ = archiver.Run(ctx) }()

	// ---- Use cases ----
	chatUC := usecase.NewChatUseCase(convRepo, keyRepo, gateway, jobQueue, limiter, cfg.RateLimit.MessagesPerMinute)
	convUC := usecase.NewConversationUseCase(convRepo, broadcaster, cfg.AI.DefaultModel)
	keyUC := usecase.NewKeyUseCase(keyRepo, encSvc)

	// ---- HTTP ----
	auth := web.NewAuthManager(cfg.Security.JWTSecret, 0)
	srv := web.NewServer(chatUC, convUC, keyUC, broadcaster, auth, logger)
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     srv.Router(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: it would sever long-lived event streams.
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
