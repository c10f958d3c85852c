package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"loyalty-scan-system/handlers"
	"loyalty-scan-system/middleware"
	"loyalty-scan-system/models"
	"loyalty-scan-system/services"
	"loyalty-scan-system/utils"
	"loyalty-scan-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		if errors.Is(err, utils.ErrArchiveDisabled) {
			log.Println("⚠️  R2 archive not configured — abandoned awards will only be logged")
		} else {
			log.Fatal("failed to initialize R2 client:", err)
		}
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Program{},
		&models.Enrollment{},
		&models.Card{},
		&models.PointTransaction{},
		&models.OfflineQueueEntry{},
		&models.CustomerMirror{},
		&models.AwardEvent{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	cfg, err := services.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}
	if len(cfg.Backends) == 0 {
		log.Println("⚠️  No loyalty backends configured — awards will use the direct credit tier only")
	}

	cardService := services.NewCardService(db)
	eventService := services.NewEventService(db)
	offlineQueue := services.NewGormOfflineQueue(db)

	// Ordered tier list: remote backends in priority order, then the direct
	// transactional credit as last synchronous resort.
	var tiers []services.AwardTier
	for _, b := range cfg.Backends {
		client := services.NewLoyaltyBackendClient(b.Name, b.URL, b.Token, cfg.TierTimeout())
		tiers = append(tiers, &services.RemoteAwardTier{Client: client})
	}
	tiers = append(tiers, &services.DirectCreditTier{Cards: cardService})

	orchestrator := services.NewAwardOrchestrator(cardService, tiers, offlineQueue, eventService)
	classifier := services.NewPayloadClassifier()
	scanService := services.NewScanService(cfg, classifier, orchestrator)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reconciler := workers.NewReconcileWorker(offlineQueue, cardService, tiers, eventService, cfg.Reconcile)
	reconciler.Start(ctx)

	// Customer mirror sync is optional: deployments without a profile
	// service enroll with blank display names.
	if syncServiceURL := os.Getenv("SYNC_SERVICE_URL"); syncServiceURL != "" {
		serviceToken := os.Getenv("LOYALTY_SERVICE_TOKEN")
		syncWorker := workers.NewCustomerSyncWorker(db, syncServiceURL, "/api/v1/public/customers", serviceToken)
		syncWorker.Start(ctx)
	} else {
		log.Println("⚠️  SYNC_SERVICE_URL not set — customer mirror sync disabled")
	}

	handlers.SetupScanRoutes(app, scanService, orchestrator, cardService, offlineQueue, eventService, reconciler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Printf("✅ Award tiers configured: %d remote + direct credit", len(cfg.Backends))
	log.Println("✅ Reconcile worker running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
