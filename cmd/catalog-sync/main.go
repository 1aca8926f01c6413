package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/robertarktes/event-ticketing/internal/adapters/mongo"
	"github.com/robertarktes/event-ticketing/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/event-ticketing/internal/adapters/redis"
	"github.com/robertarktes/event-ticketing/internal/catalogsync"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/transactions"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	flags := pflag.NewFlagSet("catalog-sync", pflag.ExitOnError)
	queue := flags.String("queue", "evt.catalog-sync", "queue to consume")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "evt-catalog-sync")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoCatalog := mongoadapter.NewCatalogRepository(mongoClient.Database(cfg.MongoDB), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, *queue, transactions.EventCreated, transactions.EventCompleted, transactions.EventCancelled)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", *queue, err)
	}

	syncer := catalogsync.NewSyncer(mongoCatalog, redisadapter.NewCache(redisClient), logger)
	go syncer.Run(ctx, deliveries)
	logger.WithField("queue", *queue).Info("catalog sync started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown catalog sync")
}
