package persistence

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisAddr matches the pack's integration-test convention of talking
// to a local Redis instance rather than mocking the client.
const redisAddr = "localhost:6379"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", redisAddr, err)
	}
	return client
}

func TestTickKey_BuildsVenueTypeSubtypeSymbolFormat(t *testing.T) {
	got := TickKey("binance", "price", "BTCUSDT")
	want := "binance:tick:price:BTCUSDT"
	if got != want {
		t.Fatalf("TickKey() = %q, want %q", got, want)
	}
}

func TestWriter_QueueTickFlushesToRedis(t *testing.T) {
	client := newTestClient(t)
	defer client.Close()

	w := New(client, testLogger())
	w.flushInterval = 10 * time.Millisecond
	w.Start()

	w.QueueTick("binance", "price", "BTCUSDT", `{"bid":100,"ask":101}`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	key := TickKey("binance", "price", "BTCUSDT")
	var val string
	for deadline := time.Now().Add(time.Second); time.Now().Before(deadline); {
		v, err := client.Get(ctx, key).Result()
		if err == nil {
			val = v
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if val != `{"bid":100,"ask":101}` {
		t.Fatalf("Get(%q) = %q, want the queued value", key, val)
	}

	w.Shutdown("test")
}

func TestWriter_ShutdownWritesSentinel(t *testing.T) {
	client := newTestClient(t)
	defer client.Close()

	w := New(client, testLogger())
	w.Start()
	w.Shutdown("graceful_test")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	keys, err := client.Keys(ctx, "shutdown:sentinel:*").Result()
	if err != nil {
		t.Fatalf("Keys() error: %v", err)
	}
	if len(keys) == 0 {
		t.Fatal("expected at least one shutdown sentinel key")
	}

	raw, err := client.Get(ctx, keys[len(keys)-1]).Result()
	if err != nil {
		t.Fatalf("Get(sentinel) error: %v", err)
	}
	var sentinel shutdownSentinel
	if err := json.Unmarshal([]byte(raw), &sentinel); err != nil {
		t.Fatalf("unmarshal sentinel: %v", err)
	}
	if sentinel.ShutdownReason != "graceful_test" {
		t.Fatalf("ShutdownReason = %q, want %q", sentinel.ShutdownReason, "graceful_test")
	}
	ttl, err := client.TTL(ctx, keys[len(keys)-1]).Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl <= 0 || ttl > 24*time.Hour {
		t.Fatalf("TTL = %v, want (0, 24h]", ttl)
	}
}

func TestWriter_QueueTickDropsWhenFull(t *testing.T) {
	client := newTestClient(t)
	defer client.Close()

	w := New(client, testLogger())
	// Do not Start the batch loop: the queue never drains, so it fills.
	for i := 0; i < cap(w.queue)+10; i++ {
		w.QueueTick("binance", "price", "BTCUSDT", "x")
	}
	if len(w.queue) != cap(w.queue) {
		t.Fatalf("queue len = %d, want full at cap %d", len(w.queue), cap(w.queue))
	}
}
