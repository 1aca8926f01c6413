package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-ticketing/internal/access"
	"github.com/robertarktes/event-ticketing/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/event-ticketing/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/event-ticketing/internal/adapters/redis"
	"github.com/robertarktes/event-ticketing/internal/catalog"
	"github.com/robertarktes/event-ticketing/internal/checkout"
	"github.com/robertarktes/event-ticketing/internal/config"
	httphandler "github.com/robertarktes/event-ticketing/internal/http"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/rateLimit"
	"github.com/robertarktes/event-ticketing/internal/transactions"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	flags := pflag.NewFlagSet("api", pflag.ExitOnError)
	addr := flags.String("addr", "", "listen address, overrides HTTP_ADDR")
	migrate := flags.Bool("migrate", true, "apply the transaction schema on startup")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "evt-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	crdbRepo := crdb.NewRepository(pool)
	if *migrate {
		if err := crdbRepo.Migrate(context.Background()); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	mongoCatalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotencyStore(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache, logger)
	roles := access.NewController(redisadapter.NewRoleStore(redisClient), logger)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()

	browse := catalog.NewFallback(catalog.NewCached(mongoCatalog, redisCache, cfg.CatalogCacheTTL, logger), cfg.UseMockData, logger)
	txs := transactions.NewService(crdbRepo, logger)
	co := checkout.NewService(browse, mongoCatalog, txs, audit, cfg.MaxPerOffering, logger)

	var publicKey *rsa.PublicKey
	if cfg.JWTPublicKey != "" {
		publicKey, err = httphandler.ParseRSAPublicKey(cfg.JWTPublicKey)
		if err != nil {
			log.Fatalf("failed to parse JWT_PUBLIC_KEY: %v", err)
		}
	} else {
		logger.Warn("JWT_PUBLIC_KEY not set, every caller is treated as signed out")
	}

	checks := []httphandler.Check{
		{Name: "crdb", Ping: crdbRepo.Ping},
		{Name: "mongo", Ping: mongoCatalog.Ping},
		{Name: "redis", Ping: redisCache.Ping},
		{Name: "rabbitmq", Ping: func(context.Context) error {
			if rabbitConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}},
	}
	if cfg.PaymentCallbackSecret == "" {
		logger.Warn("PAYMENT_CALLBACK_SECRET not set, payment callbacks are refused")
	}
	events := catalog.NewEvents(mongoCatalog, redisCache, logger)
	handlers := httphandler.NewHandlers(cfg, roles, audit, co, txs, events, checks, logger)
	r := httphandler.SetupRouter(handlers, logger, httphandler.NewAuthenticator(publicKey, cfg.JWTIssuer, logger), rl, idemp)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
