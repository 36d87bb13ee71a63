package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/hibiken/asynq"
	"github.com/saeid-a/ChambaBack/internal/changefeed"
	"github.com/saeid-a/ChambaBack/internal/config"
	"github.com/saeid-a/ChambaBack/internal/database"
	"github.com/saeid-a/ChambaBack/internal/notify"
	"github.com/saeid-a/ChambaBack/internal/routes"
	chatws "github.com/saeid-a/ChambaBack/internal/websocket"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		log.Fatal("DB_URL is required")
	}
	if err := database.ConnectDB(cfg.DBUrl, cfg.DBMaxConns); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.CloseDB()

	// 3. Change feed, webhook delivery and the realtime hub
	feed, err := openChangeFeed(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open change feed: %v", err)
	}
	defer feed.Close()

	hook, closeHook, err := openNotificationHook(cfg)
	if err != nil {
		log.Fatalf("Failed to configure webhook: %v", err)
	}
	defer closeHook()
	dispatcher := notify.NewDispatcher(hook, cfg.WebhookTimeout)
	defer dispatcher.Wait()

	hub := chatws.NewHub()
	go hub.Run(ctx)
	detach := hub.Attach(feed)
	defer detach()

	// 4. Setup Fiber
	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.MaxAttachmentBytes) + 1024*1024,
	})

	// Middleware
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		pingCtx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if err := database.DB.Ping(pingCtx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "degraded",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	if err := routes.RegisterRoutes(app, cfg, routes.Dependencies{
		DB:    database.DB,
		Feed:  feed,
		Hooks: dispatcher,
		Hub:   hub,
	}); err != nil {
		log.Fatalf("Failed to register routes: %v", err)
	}

	// 5. Start Server
	go func() {
		<-ctx.Done()
		log.Println("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
	}()

	log.Printf("Server starting on port %s (change feed: %s)", cfg.Port, cfg.ChangeFeedDriver)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

func openChangeFeed(ctx context.Context, cfg *config.Config) (changefeed.Feed, error) {
	switch cfg.ChangeFeedDriver {
	case config.ChangeFeedRedis:
		client, err := changefeed.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return changefeed.NewRedisFeed(client, ""), nil
	case config.ChangeFeedPostgres:
		return changefeed.NewPostgresFeed(cfg.DBUrl, database.DB, ""), nil
	default:
		return changefeed.NewMemoryFeed(), nil
	}
}

// openNotificationHook returns a nil hook when no webhook is configured.
func openNotificationHook(cfg *config.Config) (notify.Hook, func(), error) {
	if cfg.WebhookURL == "" {
		return nil, func() {}, nil
	}
	if !cfg.WebhookAsyncQueue {
		return notify.NewWebhookClient(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout), func() {}, nil
	}

	opt, err := notify.NewRedisClientOpt(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := asynq.NewClient(opt)
	closeClient := func() {
		if err := client.Close(); err != nil {
			log.Printf("asynq client close: %v", err)
		}
	}
	return notify.NewQueueHook(client, cfg.WebhookTimeout), closeClient, nil
}
