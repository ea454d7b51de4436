package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/FilipeAphrody/arcade-gateway/internal/authz"
	"github.com/FilipeAphrody/arcade-gateway/internal/config"
	delivery "github.com/FilipeAphrody/arcade-gateway/internal/delivery/http"
	"github.com/FilipeAphrody/arcade-gateway/internal/otpvalidator"
	"github.com/FilipeAphrody/arcade-gateway/internal/repository"
	"github.com/FilipeAphrody/arcade-gateway/internal/upstream"
	"github.com/FilipeAphrody/arcade-gateway/internal/usecase"
	"github.com/FilipeAphrody/arcade-gateway/pkg/security"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	// 1. Load Configuration from Environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Setup Framework
	e := echo.New()

	// 3. Initialize Infrastructure (Persistence)
	db, err := sql.Open("postgres", cfg.DBURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	defer rdb.Close()

	// 4. Token Service. Refuses to start on missing or reused secrets.
	tokens, err := security.NewTokenService(security.Secrets{
		Access:    cfg.AccessSecret,
		Refresh:   cfg.RefreshSecret,
		Challenge: cfg.ChallengeSecret,
	}, cfg.Issuer, cfg.AccessTTL, cfg.RefreshTTL, cfg.ChallengeTTL)
	if err != nil {
		log.Fatalf("Invalid token configuration: %v", err)
	}

	// 5. Initialize Repositories
	userRepo := repository.NewPostgresUserRepo(db)
	roleRepo := repository.NewPostgresRoleRepo(db)
	challengeRepo := repository.NewPostgresChallengeRepo(db)
	tokenRepo := repository.NewRedisTokenRepo(rdb)

	// 6. Seed built-in roles and load the permission matrix
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := roleRepo.EnsureBuiltins(ctx, authz.BuiltinRoles()); err != nil {
		cancel()
		log.Fatalf("Failed to seed built-in roles: %v", err)
	}
	registry := authz.NewRegistry()
	customRoles, err := roleRepo.List(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to load roles: %v", err)
	}
	registry.Load(customRoles)

	// 7. Upstream catalog client and decision engine
	catalog := upstream.NewClient(cfg.CatalogURL, cfg.CatalogTimeout)
	engine := authz.NewEngine(registry, authz.NewOwnershipVerifier(catalog))

	// 8. External OTP validator, optional
	var validator usecase.OTPValidator
	if cfg.ExternalOTPConfigured() {
		validator = otpvalidator.NewKeycloakValidator(
			cfg.KeycloakURL, cfg.KeycloakRealm,
			cfg.KeycloakClientID, cfg.KeycloakClientSecret,
			cfg.KeycloakTimeout,
		)
	} else {
		log.Println("External OTP validator not configured; only local TOTP is available")
	}

	// 9. Initialize Business Logic (Usecases)
	twoFactorUsecase := usecase.NewTwoFactorUsecase(userRepo, challengeRepo, tokens, validator, cfg.MaxChallengeAttempts)
	authUsecase := usecase.NewAuthUsecase(userRepo, tokenRepo, tokens, twoFactorUsecase)
	adminUsecase := usecase.NewAdminUsecase(userRepo, roleRepo, tokenRepo, registry)
	catalogUsecase := usecase.NewCatalogUsecase(engine, catalog)

	// 10. Global Middlewares
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.Secure())

	// 11. Register Delivery Handlers (Routes)
	authenticator := delivery.NewAuthenticator(tokens, userRepo)
	v1 := e.Group("/v1")
	delivery.NewAuthHandler(v1, authUsecase, authenticator)
	delivery.NewTwoFactorHandler(v1, twoFactorUsecase, authUsecase, authenticator)
	delivery.NewCatalogHandler(v1, catalogUsecase, authenticator)
	delivery.NewAdminHandler(v1, adminUsecase, authenticator)

	// 12. Health Check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status":  "healthy",
			"version": "1.0.0",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// 13. Start Server with Graceful Shutdown
	go func() {
		log.Printf("Starting Arcade Gateway on port %s", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Shutting down the server due to error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
