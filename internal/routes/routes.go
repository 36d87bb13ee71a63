package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/ChambaBack/internal/changefeed"
	"github.com/saeid-a/ChambaBack/internal/config"
	"github.com/saeid-a/ChambaBack/internal/handlers"
	"github.com/saeid-a/ChambaBack/internal/middleware"
	"github.com/saeid-a/ChambaBack/internal/notify"
	"github.com/saeid-a/ChambaBack/internal/repository"
	"github.com/saeid-a/ChambaBack/internal/services"
	chatws "github.com/saeid-a/ChambaBack/internal/websocket"
)

// Dependencies are the long-lived components owned by cmd/server.
type Dependencies struct {
	DB    *pgxpool.Pool
	Feed  changefeed.Feed
	Hooks *notify.Dispatcher
	Hub   *chatws.Hub
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, deps Dependencies) error {
	chatStore := repository.NewChatStore(deps.DB)
	actorRepo := repository.NewActorRepository(deps.DB)
	jobPostRepo := repository.NewJobPostRepository(deps.DB)
	var storageService services.StorageService
	if cfg.StorageConfigured() {
		storageService = services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey)
	}

	conversationService := services.NewConversationService(
		chatStore,
		actorRepo,
		jobPostRepo,
		deps.Feed,
		deps.Hooks,
		cfg.StoreTimeout,
	)
	messageService := services.NewMessageService(
		chatStore,
		storageService,
		deps.Feed,
		cfg.StoreTimeout,
		cfg.MaxAttachmentBytes,
	)
	chatHandler := handlers.NewChatHandler(conversationService, messageService, deps.Hub, cfg.JWTSecret)

	if err := registerDocsRoutes(app, cfg); err != nil {
		return err
	}

	api := app.Group("/api")

	// The socket authenticates from the query string, so it sits outside the
	// header-based auth group.
	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.CreateConversation)
	conversations.Get("/existing", chatHandler.GetExistingConversation)
	conversations.Get("/unread", chatHandler.UnreadTotal)
	conversations.Get("/:id", chatHandler.GetConversation)
	conversations.Post("/:id/close", chatHandler.CloseConversation)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Post("/:id/attachments", chatHandler.UploadAttachment)
	conversations.Post("/:id/read", chatHandler.MarkRead)

	messages := authProtected.Group("/messages")
	messages.Patch("/:id", chatHandler.EditMessage)
	messages.Delete("/:id", chatHandler.DeleteMessage)
	messages.Get("/:id/attachment", chatHandler.GetAttachmentURL)

	return nil
}
