/**
 * @description
 * This is the main entry point for the razorpay-gateway service. It is
 * responsible for initializing all components: configuration, database
 * connection, the Razorpay API client, optional message broker and Redis,
 * repositories, the core application service, the scheduled sync, and the
 * HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3: Scheduled payment sync.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/razorpayclient: Client for the Razorpay API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/securiace/razorpay-gateway/internal/api"
	"github.com/securiace/razorpay-gateway/internal/app"
	"github.com/securiace/razorpay-gateway/internal/config"
	"github.com/securiace/razorpay-gateway/internal/store"
	rmrabbit "github.com/securiace/razorpay-gateway/pkg/rabbitmq"
	"github.com/securiace/razorpay-gateway/pkg/razorpayclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.RazorpayKeyID) == "" || strings.TrimSpace(cfg.RazorpayKeySecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"razorpay api credentials must be configured\" env=RAZORPAY_KEY_ID,RAZORPAY_KEY_SECRET")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		log.Printf("level=warn component=bootstrap msg=\"webhook secret not configured; webhook deliveries will be rejected\" env=RAZORPAY_WEBHOOK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting razorpay-gateway\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
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

	// Initialize the data access layer (repository) and the bridge-owned table.
	repository := store.NewPostgresRepository(dbpool)
	if err := repository.EnsureOrderMappingTable(context.Background()); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"order mapping table setup failed\" err=%v", err)
	}

	// Initialize the RabbitMQ producer to publish gateway events. Optional:
	// the service runs without it, downstream consumers just see nothing.
	var producer rmrabbit.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; event publishing disabled\" env=RABBITMQ_URL")
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		rabbitProducer, rabbitErr := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
		if rabbitErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", rabbitErr)
			producer = &rmrabbit.EventProducerFallback{}
		} else {
			defer rabbitProducer.Close()
			producer = rabbitProducer
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}

	// Optional Redis for webhook delivery deduplication.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook dedupe disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook dedupe disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook dedupe disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}
	dedupe := app.NewEventDedupe(redisClient)

	// Initialize the client for the Razorpay API.
	processorClient := razorpayclient.NewClient(cfg.RazorpayAPIBaseURL, cfg.RazorpayKeyID, cfg.RazorpayKeySecret)

	billingLoc, err := time.LoadLocation(cfg.BillingTimezone)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"invalid billing timezone; using UTC\" value=%q err=%v", cfg.BillingTimezone, err)
		billingLoc = time.UTC
	}

	// Initialize the core application service with its dependencies.
	gatewayService := app.NewService(repository, processorClient, producer, dedupe, app.Settings{
		KeyID:               cfg.RazorpayKeyID,
		KeySecret:           cfg.RazorpayKeySecret,
		WebhookSecret:       cfg.WebhookSecret,
		FeePolicy:           cfg.FeeMode,
		FeeTolerancePercent: cfg.FeeTolerancePercent,
		PaymentAction:       cfg.PaymentAction,
		SupportedCurrencies: cfg.Currencies(),
		CallbackURL:         cfg.CallbackBaseURL + "/callback/razorpay",
		BillingLocation:     billingLoc,
		SyncBudget:          time.Duration(cfg.SyncBudgetSeconds) * time.Second,
	})

	// Initialize the API handlers and router.
	gatewayHandlers := api.NewGatewayHandlers(gatewayService, cfg.BillingAppURL)
	webhookHandler := api.NewWebhookHandler(gatewayService, cfg.WebhookSecret, dedupe)
	router := api.GatewayRoutes(gatewayHandlers, webhookHandler, cfg.InternalAPIKey)

	// Optional scheduled sync: sweep unpaid invoices on a cron expression.
	if strings.TrimSpace(cfg.SyncCron) != "" {
		scheduler := cron.New()
		_, cronErr := scheduler.AddFunc(cfg.SyncCron, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Duration(cfg.SyncBudgetSeconds)*time.Second)
			defer cancel()
			if _, runErr := gatewayService.SyncPayments(ctx, app.SyncOptions{}); runErr != nil {
				log.Printf("level=error component=scheduler msg=\"scheduled sync failed\" err=%v", runErr)
			}
		})
		if cronErr != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"invalid SYNC_CRON expression\" value=%q err=%v", cfg.SyncCron, cronErr)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Printf("level=info component=bootstrap msg=\"scheduled sync enabled\" cron=%q", cfg.SyncCron)
	}

	// Start the HTTP server.
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
