package main

import (
	"context"
	"os"

	_ "stockledger/api/swagger" // swagger docs
	"stockledger/internal/database"
	"stockledger/internal/handler"
	"stockledger/internal/middleware"
	"stockledger/internal/repository"
	"stockledger/internal/service"
	"stockledger/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Stock Ledger API
// @version         1.0
// @description     FIFO batch ledger and transfer reconciliation service for multi-location inventory.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("GIN_MODE") != "release" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if err := godotenv.Load("configs/.env"); err != nil {
		log.Info().Msg("no configs/.env file found, using environment")
	}

	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	dbSslMode := os.Getenv("DB_SSLMODE")

	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPort == "" {
		dbPort = "5432"
	}
	if dbUser == "" {
		dbUser = "postgres"
	}
	if dbPassword == "" {
		dbPassword = "postgres"
	}
	if dbName == "" {
		dbName = "postgres"
	}
	if dbSslMode == "" {
		dbSslMode = "disable"
	}

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	log.Info().Msg("connected to PostgreSQL")

	// Permission middleware needs direct DB access for role lookups
	middleware.InitPermissionMiddleware(db)

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	productRepo := repository.NewProductRepository(db)
	locationRepo := repository.NewLocationRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	stockRepo := repository.NewStockRepository(db)
	transferRepo := repository.NewTransferRepository(db)

	userService := service.NewUserService(userRepo)
	auditService := service.NewAuditService(db)
	roleService := service.NewRoleService(db)
	productService := service.NewProductService(productRepo, locationRepo, auditRepo, txManager)
	stockService := service.NewStockService(batchRepo, movementRepo, stockRepo, productRepo, locationRepo, auditRepo, txManager, wsHub)
	transferService := service.NewTransferService(transferRepo, batchRepo, movementRepo, stockRepo, productRepo, locationRepo, auditRepo, txManager, stockService, wsHub)
	reconcileService := service.NewReconcileService(transferRepo, batchRepo, auditRepo, txManager)

	// Seed built-in roles and their permission sets
	if err := roleService.SeedDefaultRolesAndPermissions(context.Background()); err != nil {
		log.Warn().Err(err).Msg("failed to seed roles and permissions")
	}

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService)
	auditHandler := handler.NewAuditHandler(auditService)
	roleHandler := handler.NewRoleHandler(roleService)
	productHandler := handler.NewProductHandler(productService)
	stockHandler := handler.NewStockHandler(stockService)
	transferHandler := handler.NewTransferHandler(transferService)
	maintenanceHandler := handler.NewMaintenanceHandler(reconcileService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:5174"} // Frontend URL
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// Register API Routes
	root := router.Group("")
	userHandler.RegisterRoutes(root)
	auditHandler.RegisterRoutes(root)
	roleHandler.RegisterRoutes(root)
	productHandler.RegisterRoutes(root)
	stockHandler.RegisterRoutes(root)
	transferHandler.RegisterRoutes(root)
	maintenanceHandler.RegisterRoutes(root)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Info().Str("port", port).Msg("server listening")
	if err := router.Run(":" + port); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
