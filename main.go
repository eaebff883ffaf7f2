package main

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"buddygate/config"
	"buddygate/handlers/api"
	"buddygate/messaging"
	"buddygate/middleware"
	"buddygate/storage"
	"buddygate/utils"
)

func main() {
	utils.Log.Info("Initializing buddygate...")

	// Secrets may come from the environment; .env is optional
	if err := godotenv.Load(); err != nil {
		utils.Log.Debug("No .env file loaded: %v", err)
	}

	cfg, err := config.LoadConfig("config.toml")
	if err != nil {
		utils.Log.Error("Failed to load config: %v", err)
		return
	}

	if err := utils.InitI18n(); err != nil {
		utils.Log.Error("Failed to initialize i18n: %v", err)
	}

	tokens, err := storage.NewTokenStore(cfg.Storage.Folder)
	if err != nil {
		utils.Log.Error("Failed to open token store: %v", err)
		return
	}
	defer tokens.Close()

	sessions := messaging.NewRegistry()

	app := fiber.New(fiber.Config{
		AppName: "buddygate",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			retryable := false

			if appErr, ok := err.(*utils.AppError); ok {
				code = appErr.Code
				retryable = appErr.Retryable
				utils.Log.Error("Application error: %v", appErr)
			} else if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			return c.Status(code).JSON(fiber.Map{
				"success":   false,
				"error":     err.Error(),
				"retryable": retryable,
			})
		},
	})

	// Global middleware
	app.Use(recover.New())  // Recover from panics
	app.Use(logger.New())   // Request logging
	app.Use(compress.New()) // Response compression
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		ReferrerPolicy:     "no-referrer",
	}))

	app.Use(middleware.LocaleMiddleware())

	// 100 requests per minute per IP
	app.Use(middleware.RateLimiter(100, time.Minute))

	authHandler := api.NewAuthHandler(cfg, tokens, sessions)
	messageHandler := api.NewMessageHandler()
	i18nHandler := &api.I18nHandler{}

	// Public routes
	app.Post("/api/login", authHandler.HandleLogin)
	app.Get("/api/i18n/:lang", i18nHandler.GetTranslations)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Protected routes
	protected := app.Group("/api", api.SessionMiddleware(cfg, tokens, sessions))
	{
		protected.Post("/logout", authHandler.HandleLogout)

		protected.Get("/threads", messageHandler.HandleThreads)
		protected.Post("/refresh", messageHandler.HandleRefresh)
		protected.Get("/threads/:id", messageHandler.HandleOpenThread)
		protected.Delete("/threads/:id", messageHandler.HandleCloseThread)
		protected.Get("/threads/:id/messages", messageHandler.HandleMessages)
		protected.Post("/threads/:id/messages", messageHandler.HandleSend)
		protected.Post("/threads/:id/read", messageHandler.HandleMarkRead)
		protected.Post("/messages/:id/star", messageHandler.HandleStar)
		protected.Delete("/messages/:id/star", messageHandler.HandleUnstar)
	}

	// 404 handler for undefined routes
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(fiber.Map{
			"success": false,
			"error":   "Not found",
		})
	})

	utils.Log.Info("Starting server on port %d...", cfg.Server.Port)
	if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		utils.Log.Error("Error starting server: %v", err)
	}
}
