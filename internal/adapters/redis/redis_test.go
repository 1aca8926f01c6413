package redis_test

import (
	"context"
	"testing"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	redisadapter "github.com/robertarktes/event-ticketing/internal/adapters/redis"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}
	client := redisclient.NewClient(&redisclient.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedis_Adapters(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	t.Run("role store", func(t *testing.T) {
		store := redisadapter.NewRoleStore(client)
		if _, found, err := store.Get(ctx, "userRole_u1"); err != nil || found {
			t.Fatalf("expected a miss, got found=%v err=%v", found, err)
		}
		if err := store.Set(ctx, "userRole_u1", "ORGANIZER"); err != nil {
			t.Fatal(err)
		}
		v, found, err := store.Get(ctx, "userRole_u1")
		if err != nil || !found || v != "ORGANIZER" {
			t.Errorf("got %q found=%v err=%v", v, found, err)
		}
		if ttl := client.TTL(ctx, "userRole_u1").Val(); ttl != -1 {
			t.Errorf("role keys must not expire, ttl %v", ttl)
		}
	})

	t.Run("offerings cache", func(t *testing.T) {
		cache := redisadapter.NewCache(client)
		offerings := []domain.TicketOffering{{ID: "t1", Kind: domain.KindVIP, UnitPrice: 500000, TotalQuantity: 10, SoldQuantity: 8}}
		if err := cache.SetOfferings(ctx, "e1", offerings, time.Minute); err != nil {
			t.Fatal(err)
		}
		got, found, err := cache.GetOfferings(ctx, "e1")
		if err != nil || !found || len(got) != 1 || got[0] != offerings[0] {
			t.Errorf("got %+v found=%v err=%v", got, found, err)
		}
		if err := cache.InvalidateOfferings(ctx, "e1"); err != nil {
			t.Fatal(err)
		}
		if _, found, _ := cache.GetOfferings(ctx, "e1"); found {
			t.Error("expected a miss after invalidation")
		}
	})

	t.Run("rate window", func(t *testing.T) {
		cache := redisadapter.NewCache(client)
		for want := int64(1); want <= 3; want++ {
			n, err := cache.IncrWindow(ctx, "rl:test", time.Minute)
			if err != nil || n != want {
				t.Fatalf("got %d err=%v, want %d", n, err, want)
			}
		}
		if ttl := client.TTL(ctx, "rl:test").Val(); ttl <= 0 || ttl > time.Minute {
			t.Errorf("unexpected window ttl %v", ttl)
		}
	})

	t.Run("processed markers", func(t *testing.T) {
		cache := redisadapter.NewCache(client)
		first, err := cache.MarkProcessed(ctx, "m1/t1", time.Hour)
		if err != nil || !first {
			t.Fatalf("first mark: %v %v", first, err)
		}
		again, _ := cache.MarkProcessed(ctx, "m1/t1", time.Hour)
		if again {
			t.Error("second mark must report a duplicate")
		}
		if err := cache.ForgetProcessed(ctx, "m1/t1"); err != nil {
			t.Fatal(err)
		}
		if fresh, _ := cache.MarkProcessed(ctx, "m1/t1", time.Hour); !fresh {
			t.Error("mark after forget must be fresh")
		}
	})

	t.Run("idempotency", func(t *testing.T) {
		store := redisadapter.NewIdempotencyStore(client)
		ok, err := store.Claim(ctx, "k1", time.Minute)
		if err != nil || !ok {
			t.Fatalf("claim: %v %v", ok, err)
		}
		if ok, _ := store.Claim(ctx, "k1", time.Minute); ok {
			t.Error("second claim must fail")
		}
		resp := redisadapter.StoredResponse{Status: 201, ContentType: "application/json", Body: []byte(`{"ok":true}`)}
		if err := store.Save(ctx, "k1", resp, time.Hour); err != nil {
			t.Fatal(err)
		}
		if err := store.Release(ctx, "k1"); err != nil {
			t.Fatal(err)
		}
		got, err := store.Get(ctx, "k1")
		if err != nil || got == nil || got.Status != 201 || string(got.Body) != `{"ok":true}` {
			t.Errorf("got %+v err=%v", got, err)
		}
		if missing, err := store.Get(ctx, "nope"); err != nil || missing != nil {
			t.Errorf("expected nil for unknown key, got %+v err=%v", missing, err)
		}
	})
}
