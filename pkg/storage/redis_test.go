//go:build integration

package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a Redis container and returns its address.
func setupRedisContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
		redis.WithLogLevel(redis.LogLevelVerbose),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	return strings.TrimPrefix(endpoint, "redis://")
}

func TestRedisStore_NewRedisStore_Success(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisStore_NewRedisStore_InvalidArgs(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		db      int
		ttl     time.Duration
		wantMsg string
	}{
		{"empty addr", "", 0, 0, "redis address cannot be empty"},
		{"negative db", "localhost:6379", -1, 0, "redis database number must be >= 0"},
		{"negative ttl", "localhost:6379", 0, -time.Second, "redis ttl must be >= 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedisStore(tt.addr, "", tt.db, tt.ttl)
			if err == nil || err.Error() != tt.wantMsg {
				t.Errorf("error = %v, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestRedisStore_NewRedisStore_Unreachable(t *testing.T) {
	if _, err := NewRedisStore("127.0.0.1:1", "", 0, 0); err == nil {
		t.Fatal("expected error for unreachable address, got nil")
	}
}

func TestRedisStore_Put_Get(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	a := testArtifact(t, "v20250101-120000")
	if err := store.Put(ctx, DefaultName, a); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := store.client.Exists(ctx, "iris-mlops:artifact:model").Result()
	if err != nil {
		t.Fatal(err)
	}
	if exists != 1 {
		t.Errorf("expected key iris-mlops:artifact:model to exist")
	}

	ttl, err := store.client.TTL(ctx, "iris-mlops:artifact:model").Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl != -1 {
		t.Errorf("TTL = %v, want no expiry", ttl)
	}

	got, found, err := store.Get(ctx, DefaultName)
	if err != nil || !found {
		t.Fatalf("Get() = found %v, err %v", found, err)
	}
	if got.Metadata.Version != a.Metadata.Version {
		t.Errorf("Version = %q, want %q", got.Metadata.Version, a.Metadata.Version)
	}
	if got.Metadata.Source != "redis" {
		t.Errorf("Source = %q, want redis", got.Metadata.Source)
	}
}

func TestRedisStore_Get_NotFound(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	_, found, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Errorf("Get() error = %v", err)
	}
	if found {
		t.Error("Get() found = true for missing key")
	}
}

func TestRedisStore_TTL(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Put(ctx, "short-lived", testArtifact(t, "v1")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, found, _ := store.Get(ctx, "short-lived"); found {
		t.Error("artifact should expire after TTL")
	}
}

func TestRedisStore_Close_Idempotent(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
