package integration_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-ticketing/internal/access"
	"github.com/robertarktes/event-ticketing/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/event-ticketing/internal/adapters/mongo"
	"github.com/robertarktes/event-ticketing/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/event-ticketing/internal/adapters/redis"
	"github.com/robertarktes/event-ticketing/internal/catalog"
	"github.com/robertarktes/event-ticketing/internal/catalogsync"
	"github.com/robertarktes/event-ticketing/internal/checkout"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/domain"
	httphandler "github.com/robertarktes/event-ticketing/internal/http"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/outbox"
	"github.com/robertarktes/event-ticketing/internal/rateLimit"
	"github.com/robertarktes/event-ticketing/internal/transactions"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const issuer = "evt-integration"

func start(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatal(err)
	}
	return host + ":" + mapped.Port()
}

type client struct {
	t      *testing.T
	base   string
	token  string
	header http.Header
}

func (c client) do(method, path string, body interface{}, idemKey string, out interface{}) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, c.base+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestIntegration_SelectCheckoutSettleSync(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	crdbAddr := start(t, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	}, "26257")
	mongoAddr := start(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	}, "27017")
	redisAddr := start(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379")
	rabbitAddr := start(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		WaitingFor:   wait.ForHTTP("/api/health/checks/alarms").WithPort("15672").WithBasicAuth("guest", "guest"),
	}, "5672")

	cfg := &config.Config{
		CRDBDSN:         "postgresql://root@" + crdbAddr + "/defaultdb?sslmode=disable",
		MongoURI:        "mongodb://" + mongoAddr,
		MongoDB:         "events_test",
		RedisAddr:       redisAddr,
		RabbitURL:       "amqp://guest:guest@" + rabbitAddr + "/",
		PaymentTTL:      15 * time.Minute,
		CatalogCacheTTL: time.Minute,
		IdempotencyTTL:  time.Hour,
		MaxPerOffering:  10,
	}
	cfg.PaymentCallbackSecret = "integration-secret"
	logger := observability.NewLogger("error")

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	crdbRepo := crdb.NewRepository(pool)
	if err := crdbRepo.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database(cfg.MongoDB)
	mongoCatalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}
	consumer, err := rabbit.NewConsumer(rabbitConn, "evt.catalog-sync.test",
		transactions.EventCreated, transactions.EventCompleted, transactions.EventCancelled)
	if err != nil {
		t.Fatal(err)
	}
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	txs := transactions.NewService(crdbRepo, logger)
	co := checkout.NewService(
		catalog.NewCached(mongoCatalog, redisCache, cfg.CatalogCacheTTL, logger),
		mongoCatalog, txs, audit, cfg.MaxPerOffering, logger,
	)
	handlers := httphandler.NewHandlers(cfg, access.NewController(redisadapter.NewRoleStore(redisClient), logger),
		audit, co, txs, catalog.NewEvents(mongoCatalog, redisCache, logger), nil, logger)
	router := httphandler.SetupRouter(handlers, logger,
		httphandler.NewAuthenticator(&key.PublicKey, issuer, logger),
		rateLimit.NewRateLimiter(redisCache, logger),
		idempotency.NewIdempotency(redisadapter.NewIdempotencyStore(redisClient), cfg.IdempotencyTTL),
	)
	srv := httptest.NewServer(router)
	defer srv.Close()

	sign := func(sub string) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
	organizer := client{t: t, base: srv.URL, token: sign("org-" + uuid.NewString())}
	customer := client{t: t, base: srv.URL, token: sign("cust-" + uuid.NewString())}

	// organizer publishes an event
	if status := organizer.do(http.MethodPut, "/v1/roles/me", map[string]string{"role": "ORGANIZER"}, "", nil); status != http.StatusOK {
		t.Fatalf("switch role: %d", status)
	}
	var created struct {
		EventID string `json:"event_id"`
	}
	status := organizer.do(http.MethodPost, "/v1/events", map[string]interface{}{
		"name":      "Integration Fest",
		"location":  "Jakarta",
		"starts_at": time.Now().Add(72 * time.Hour).Format(time.RFC3339),
		"offerings": []map[string]interface{}{
			{"id": "vip", "type": "VIP", "price": 500000, "quantity": 2},
			{"id": "reg", "type": "REGULAR", "price": 100000, "quantity": 100},
		},
	}, "", &created)
	if status != http.StatusCreated {
		t.Fatalf("create event: %d", status)
	}
	eventPath := "/v1/events/" + created.EventID

	// customer builds a selection
	var sum checkout.Summary
	if status := customer.do(http.MethodPost, eventPath+"/selection", map[string]interface{}{
		"selection": map[string]int{"reg": 2}, "offering_id": "vip", "quantity": 2,
	}, "", &sum); status != http.StatusOK {
		t.Fatalf("selection: %d", status)
	}
	if sum.TotalPrice != 1200000 || sum.TotalQuantity != 4 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	var rejected map[string]interface{}
	if status := customer.do(http.MethodPost, eventPath+"/selection", map[string]interface{}{
		"selection": sum.Selection, "offering_id": "vip", "quantity": 3,
	}, "", &rejected); status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}

	// checkout, replayed once
	idemKey := uuid.NewString()
	var first, replay struct {
		TransactionID uuid.UUID `json:"transaction_id"`
		Status        string    `json:"status"`
		Total         int64     `json:"total"`
	}
	body := map[string]interface{}{"selection": sum.Selection, "payment_method": "card"}
	if status := customer.do(http.MethodPost, eventPath+"/checkout", body, idemKey, &first); status != http.StatusCreated {
		t.Fatalf("checkout: %d", status)
	}
	customer.do(http.MethodPost, eventPath+"/checkout", body, idemKey, &replay)
	if first.TransactionID != replay.TransactionID || first.Total != 1200000 || first.Status != "PENDING" {
		t.Fatalf("unexpected checkout responses %+v %+v", first, replay)
	}

	// tickets are held as soon as the transaction exists
	sold := func() map[string]int {
		offerings, err := mongoCatalog.Offerings(ctx, created.EventID)
		if err != nil {
			t.Fatal(err)
		}
		counts := map[string]int{}
		for _, o := range offerings {
			counts[o.ID] = o.SoldQuantity
		}
		return counts
	}
	if counts := sold(); counts["vip"] != 2 || counts["reg"] != 2 {
		t.Errorf("unexpected sold counts after checkout %v", counts)
	}

	// payment succeeds, but only with the shared secret
	anonymous := client{t: t, base: srv.URL}
	if status := anonymous.do(http.MethodPost, "/v1/payments/callback", map[string]string{
		"transaction_id": first.TransactionID.String(), "status": "SUCCEEDED",
	}, "", nil); status != http.StatusUnauthorized {
		t.Fatalf("unsigned callback: %d", status)
	}
	gateway := client{t: t, base: srv.URL, header: http.Header{"X-Callback-Secret": {cfg.PaymentCallbackSecret}}}
	if status := gateway.do(http.MethodPost, "/v1/payments/callback", map[string]string{
		"transaction_id": first.TransactionID.String(), "status": "SUCCEEDED",
	}, "", nil); status != http.StatusOK {
		t.Fatalf("callback: %d", status)
	}

	// relay created and completed events; neither moves the sold counts
	n, err := outbox.NewPublisher(crdbRepo, rabbitPub, logger, 10).Flush(ctx)
	if err != nil || n != 2 {
		t.Fatalf("flush: %d, %v", n, err)
	}
	syncer := catalogsync.NewSyncer(mongoCatalog, redisCache, logger)
	for i := 0; i < 2; i++ {
		select {
		case d := <-deliveries:
			if err := syncer.Handle(ctx, d.MessageId, d.Body); err != nil {
				t.Fatal(err)
			}
			d.Ack(false)
		case <-time.After(10 * time.Second):
			t.Fatalf("delivery %d never arrived", i+1)
		}
	}
	if counts := sold(); counts["vip"] != 2 || counts["reg"] != 2 {
		t.Errorf("unexpected sold counts after sync %v", counts)
	}

	// vip is now sold out for everyone
	var soldOut map[string]interface{}
	status = customer.do(http.MethodPost, eventPath+"/checkout",
		map[string]interface{}{"selection": map[string]int{"vip": 1}, "payment_method": "card"}, uuid.NewString(), &soldOut)
	if status != http.StatusConflict || soldOut["error"] != string(domain.KindExceedsAvailability) {
		t.Errorf("expected exceeds_availability, got %d %v", status, soldOut)
	}

	var stats domain.OrganizerStats
	if status := organizer.do(http.MethodGet, "/v1/dashboard/organizer", nil, "", &stats); status != http.StatusOK {
		t.Fatalf("organizer dashboard: %d", status)
	}
	if stats.TotalEvents != 1 || stats.TotalTicketsSold != 4 || stats.TotalRevenue != 1200000 {
		t.Errorf("unexpected organizer stats %+v", stats)
	}
}
