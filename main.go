package main

import (
	"context"
	"log"

	api "mailhub-backend/cmd/api"
	authDelivery "mailhub-backend/internal/auth/delivery"
	authdomain "mailhub-backend/internal/auth/domain"
	authRepo "mailhub-backend/internal/auth/repository"
	authUsecase "mailhub-backend/internal/auth/usecase"
	"mailhub-backend/internal/mailsync/broadcast"
	syncDelivery "mailhub-backend/internal/mailsync/delivery"
	"mailhub-backend/internal/mailsync/domain"
	"mailhub-backend/internal/mailsync/poller"
	syncRepo "mailhub-backend/internal/mailsync/repository"
	syncUsecase "mailhub-backend/internal/mailsync/usecase"
	"mailhub-backend/internal/notification"
	"mailhub-backend/pkg/config"
	"mailhub-backend/pkg/database"
	"mailhub-backend/pkg/fcm"
	"mailhub-backend/pkg/gmail"
	"mailhub-backend/pkg/imap"
	"mailhub-backend/pkg/outlook"
	"mailhub-backend/pkg/ratelimit"
	"mailhub-backend/pkg/sse"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(&authdomain.User{}, &authdomain.ProviderAccount{}, &authdomain.FCMToken{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Shared state stores: redis when configured, in-process otherwise
	var kv syncRepo.KVStore
	var counters ratelimit.CounterStore
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		kv = syncRepo.NewRedisKV(redisClient)
		counters = ratelimit.NewRedisCounter(redisClient)
		log.Printf("[Main] using redis state store at %s", cfg.RedisAddr)
	} else {
		kv = syncRepo.NewMemoryKV()
		counters = ratelimit.NewMemoryCounter()
		log.Printf("[Main] REDIS_ADDR not set, using in-process state store")
	}

	// Initialize repositories (dependency injection)
	userRepo := authRepo.NewUserRepository(db)
	fcmTokenRepo := authRepo.NewFCMTokenRepository(db)
	overrideStore := syncRepo.NewOverrideStore(kv)
	statsCache := syncRepo.NewStatsCache(kv)

	limiter := ratelimit.New(counters,
		ratelimit.Limits{Requests: cfg.UserRateLimit, Window: cfg.UserRateWindow},
		ratelimit.Limits{Requests: cfg.ProviderRateLimit, Window: cfg.ProviderRateWindow},
	)

	// Initialize SSE Manager
	sseManager := sse.NewManager()
	go sseManager.Run()

	// Broadcast dispatcher with SSE always on and FCM when configured
	dispatcher := broadcast.NewDispatcher(kv, cfg.DedupWindow)
	dispatcher.Register(broadcast.NewSSETransport(sseManager))

	var fcmClient *fcm.Client
	if cfg.FirebaseCreds != "" {
		fcmClient, err = fcm.NewClient(cfg.FirebaseCreds)
		if err != nil {
			log.Printf("[Main] FCM client init failed, push notifications disabled: %v", err)
		} else {
			dispatcher.Register(broadcast.NewFCMTransport(fcmClient, fcmTokenRepo))
		}
	}

	// Provider mailbox adapters
	mailboxes := map[domain.Provider]domain.ProviderMailbox{
		domain.ProviderGmail:   gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret),
		domain.ProviderOutlook: outlook.NewService(),
		domain.ProviderYahoo:   imap.NewService(cfg.YahooIMAPAddr),
	}

	// Initialize use cases (dependency injection)
	authUsecaseInstance := authUsecase.NewAuthUsecase(userRepo, cfg)

	queue := syncUsecase.NewActionQueue(4, 256, 0, 0)
	queue.Start()
	defer queue.Stop()

	coordinator := syncUsecase.NewCoordinator(
		overrideStore, statsCache, limiter, dispatcher, queue,
		mailboxes, authUsecaseInstance,
		cfg.ProviderTimeout, cfg.MaxMutationAttempts,
	)

	pollManager := poller.NewManager(poller.Config{
		Interval:    cfg.PollInterval,
		CallTimeout: cfg.ProviderTimeout,
		IdleAfter:   cfg.SyncIdleTimeout,
	}, authUsecaseInstance, mailboxes, statsCache, overrideStore, limiter, dispatcher)
	go pollManager.Run()
	defer pollManager.StopAll()

	// Post-batch recomputes ride the poller when it is running
	coordinator.SetPoller(pollManager)

	// Gmail watch notifications nudge the poller for out-of-cycle polls
	if cfg.PubsubProject != "" {
		notifService, err := notification.NewService(cfg.PubsubProject, cfg.PubsubSubscription, pollManager, userRepo, cfg.FirebaseCreds)
		if err != nil {
			log.Printf("[Main] notification service init failed: %v", err)
		} else {
			go notifService.Start(context.Background())
		}
	} else {
		log.Printf("[Main] PUBSUB_PROJECT_ID not set, external change nudges disabled")
	}

	// Initialize HTTP handler
	syncHandler := syncDelivery.NewSyncHandler(coordinator, pollManager, statsCache)
	fcmHandler := authDelivery.NewFCMHandler(fcmTokenRepo)
	handler := api.NewHandler(authUsecaseInstance, syncHandler, fcmHandler, sseManager, cfg)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
