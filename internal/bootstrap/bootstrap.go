package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	appControllers "github.com/yigit/coursechat/internal/app/controllers"
	appMigrations "github.com/yigit/coursechat/internal/app/migrations"
	appRepos "github.com/yigit/coursechat/internal/app/repositories"
	appRoutes "github.com/yigit/coursechat/internal/app/routes"
	appServices "github.com/yigit/coursechat/internal/app/services"
	"github.com/yigit/coursechat/internal/config"
	"github.com/yigit/coursechat/internal/db"
	appMiddleware "github.com/yigit/coursechat/internal/middleware"
	pkgAuth "github.com/yigit/coursechat/internal/pkg/auth"
	"github.com/yigit/coursechat/internal/pkg/helpers"
	"github.com/yigit/coursechat/internal/pkg/logger"
	"github.com/yigit/coursechat/internal/pkg/websocket"
	"github.com/yigit/coursechat/internal/seed"
)

// Dependencies holds all the application dependencies
type Dependencies struct {
	Repos          *appRepos.Repositories
	Services       *appServices.Services
	Hub            *websocket.Hub
	WSHandler      *websocket.Handler
	MessageHandler *websocket.MessageHandler
	JWTService     *pkgAuth.JWTService
	AuthMiddleware *appMiddleware.AuthMiddleware
	ChatController *appControllers.ChatController
	// AuthController is nil in production mode
	AuthController *appControllers.AuthController
	Logger         zerolog.Logger
}

// Close stops the realtime hub
func (d *Dependencies) Close() {
	if d.Hub != nil {
		d.Hub.Close()
	}
}

// LoadConfigAndSetupLogger loads configuration and initializes the logger.
func LoadConfigAndSetupLogger(configPath string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return nil, zerolog.Logger{}, err
	}

	logLevel := logger.ParseLevel(cfg.Logging.Level)
	prettyLog := strings.ToLower(cfg.Logging.Format) == "text"

	logger.Configure(logger.Config{
		Level:  logLevel,
		Pretty: prettyLog,
	})

	lgr := logger.Get()
	lgr.Info().Str("logLevel", string(logLevel)).Str("logFormat", cfg.Logging.Format).Msg("Logger configured")
	return cfg, lgr, nil
}

// SetupDatabase establishes the database connection and runs migrations.
func SetupDatabase(ctx context.Context, cfg *config.Config, lgr zerolog.Logger) (*pgxpool.Pool, error) {
	lgr.Info().Msg("Establishing database connection...")
	database, err := db.NewPostgresDB(ctx, cfg, lgr)
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to connect to database")
		return nil, err
	}

	lgr.Info().Msg("Running database migrations...")
	migrator := appMigrations.NewMigrator(database.Pool, lgr)
	if err := migrator.Migrate(ctx); err != nil {
		lgr.Error().Err(err).Msg("Database migration error")
		database.Close()
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}
	lgr.Info().Msg("Database migrations successfully applied.")

	return database.Pool, nil
}

// BuildDependencies initializes repositories, services, the realtime hub and controllers.
// dbPool is only used when the configured store is postgres.
func BuildDependencies(cfg *config.Config, dbPool *pgxpool.Pool, lgr zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Logger: lgr}

	switch strings.ToLower(cfg.Server.Store) {
	case "postgres":
		if dbPool == nil {
			return nil, fmt.Errorf("postgres store selected but no database pool was provided")
		}
		deps.Repos = appRepos.NewRepositories(dbPool)
	default:
		deps.Repos = appRepos.NewMemoryRepositories()
	}

	if cfg.Server.SeedDemo {
		// demo data is best effort; the server runs without it
		_ = seed.CreateDefaultData(context.Background(), deps.Repos.ChatRepository, lgr)
	}

	deps.Hub = websocket.NewHub(lgr)
	go deps.Hub.Run()

	deps.Services = appServices.NewServices(deps.Repos, deps.Hub, lgr)

	deps.MessageHandler = websocket.NewMessageHandler(deps.Services.ChatService, deps.Hub, lgr)
	deps.MessageHandler.Start()
	deps.WSHandler = websocket.NewHandler(deps.Hub, lgr)

	deps.JWTService = pkgAuth.NewJWTService(pkgAuth.JWTConfig{
		SecretKey:      cfg.JWT.Secret,
		AccessTokenExp: helpers.ParseDuration(cfg.JWT.TokenExpiration, 24*time.Hour),
		TokenIssuer:    cfg.JWT.Issuer,
	})
	deps.AuthMiddleware = appMiddleware.NewAuthMiddleware(deps.JWTService)

	deps.ChatController = appControllers.NewChatController(deps.Services.ChatService, lgr)
	if !isProduction(cfg) {
		deps.AuthController = appControllers.NewAuthController(deps.JWTService, lgr)
	}

	return deps, nil
}

// SetupRouter configures the Gin engine with middleware and routes.
func SetupRouter(cfg *config.Config, deps *Dependencies, lgr zerolog.Logger) *gin.Engine {
	switch {
	case isProduction(cfg):
		gin.SetMode(gin.ReleaseMode)
		lgr.Info().Msg("Setting Gin mode to release")
	case strings.ToLower(cfg.Server.Mode) == "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
		lgr.Info().Msg("Setting Gin mode to debug")
	}

	router := gin.New()
	router.Use(appMiddleware.RequestLogger(lgr), appMiddleware.Recovery(lgr))

	appRoutes.SetupRouter(router,
		deps.ChatController,
		deps.AuthController,
		deps.WSHandler,
		deps.AuthMiddleware,
	)

	return router
}

func isProduction(cfg *config.Config) bool {
	return strings.ToLower(cfg.Server.Mode) == "production"
}
