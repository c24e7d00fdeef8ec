/**
 * @description
 * This is the main entry point for the onboarding-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, payment and identity vendor clients, message brokers,
 * the repository, the core application service, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Optional webhook replay cache.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/personaclient, pkg/stripeclient, pkg/rabbitmq: Vendor and broker clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ampel/onboarding-service/internal/api"
	"github.com/ampel/onboarding-service/internal/app"
	"github.com/ampel/onboarding-service/internal/config"
	"github.com/ampel/onboarding-service/internal/store"
	"github.com/ampel/onboarding-service/pkg/personaclient"
	rmrabbit "github.com/ampel/onboarding-service/pkg/rabbitmq"
	"github.com/ampel/onboarding-service/pkg/stripeclient"
)

func main() {
	// Load a local .env file if present; deployed environments inject real
	// environment variables instead.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found, relying on environment\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) == "" || strings.TrimSpace(cfg.PersonaWebhookSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook signing secrets must be configured\" env=STRIPE_WEBHOOK_SECRET,PERSONA_WEBHOOK_SECRET")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	log.Printf("level=info component=bootstrap msg=\"starting onboarding-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Ensure required tables exist (idempotent)
	if _, err := dbpool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS profiles (
            id UUID PRIMARY KEY,
            selected_subscription_tier TEXT,
            disclosures_accepted_at TIMESTAMPTZ,
            kyc_status TEXT NOT NULL DEFAULT 'not_started',
            kyc_inquiry_id TEXT,
            kyc_account_id TEXT,
            kyc_approved_at TIMESTAMPTZ,
            kyc_declined_reason TEXT,
            billing_customer_id TEXT,
            billing_subscription_id TEXT,
            subscription_status TEXT NOT NULL DEFAULT 'pending',
            subscription_period_end TIMESTAMPTZ,
            onboarding_completed_at TIMESTAMPTZ,
            shares_balance BIGINT NOT NULL DEFAULT 0,
            pending_referral_code TEXT,
            referral_code TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS equity_ledger (
            id UUID PRIMARY KEY,
            user_id UUID NOT NULL,
            transaction_type TEXT NOT NULL,
            amount BIGINT NOT NULL,
            description TEXT,
            metadata JSONB,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE INDEX IF NOT EXISTS idx_equity_ledger_user_type ON equity_ledger (user_id, transaction_type);
        CREATE OR REPLACE FUNCTION sync_shares_balance() RETURNS TRIGGER AS $$
        BEGIN
            UPDATE profiles
            SET shares_balance = (SELECT COALESCE(SUM(amount), 0) FROM equity_ledger WHERE user_id = NEW.user_id),
                updated_at = NOW()
            WHERE id = NEW.user_id;
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;
        DROP TRIGGER IF EXISTS equity_ledger_sync_balance ON equity_ledger;
        CREATE TRIGGER equity_ledger_sync_balance
            AFTER INSERT ON equity_ledger
            FOR EACH ROW EXECUTE FUNCTION sync_shares_balance();
    `); err != nil {
		log.Printf("Warning: failed ensuring tables (may already exist): %v", err)
	}

	// Initialize the RabbitMQ producer for the profile event stream. Broker
	// unavailability degrades clients to polling, it never blocks startup.
	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Optional Redis-backed webhook replay cache.
	var eventCache app.EventCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook replay cache disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook replay cache disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				eventCache = app.NewRedisEventCache(redisClient, "", 0)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the payment processor and identity vendor clients.
	billingClient, err := stripeclient.New(cfg.StripeSecretKey)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"stripe client init failed\" err=%v", err)
	}
	identityClient := personaclient.NewClient(cfg.PersonaBaseURL, cfg.PersonaAPIKey, cfg.PersonaTemplateID)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	onboardingService := app.NewService(
		repository,
		billingClient,
		identityClient,
		publisher,
		eventCache,
		cfg.PriceTiers(),
		cfg.CheckoutReturnURL,
		logger,
	)

	// Start the grant reconciliation scheduler.
	scheduler := app.NewScheduler(onboardingService, cfg.ReconcileSchedule, logger)
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize the API handlers and router.
	handlers := api.NewHandler(onboardingService, cfg.StripeWebhookSecret, cfg.PersonaWebhookSecret, logger)
	router := api.NewRouter(handlers, cfg.JWTSecret)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
