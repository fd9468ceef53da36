// Package persistence implements the background writer that drains a
// bounded queue of persisted records into a key-value/pub-sub store
// (§6: "SET key value + PUBLISH key value ... key format
// venue:type:subtype:symbol. Batches of up to 512 items flush every
// 50ms."). Batching discipline (channel queue, ticker-driven flush,
// drain-on-shutdown) is adapted from the teacher's event batcher; the
// storage target is Redis instead of a local append-only log, since
// this system has no local order matching to replay.
package persistence

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is a single (key, value) pair to persist and publish.
type Record struct {
	Key   string
	Value string
}

// TickKey builds the venue:type:subtype:symbol key format (§6).
func TickKey(venue, subtype, symbol string) string {
	return venue + ":tick:" + subtype + ":" + symbol
}

const (
	defaultBatchSize     = 512
	defaultFlushInterval = 50 * time.Millisecond
)

// Writer batches records and flushes them to Redis via pipelined SET +
// PUBLISH, draining fully on Shutdown.
type Writer struct {
	client *redis.Client
	queue  chan Record

	batchSize     int
	flushInterval time.Duration

	shutdownCh   chan struct{}
	shutdownDone chan struct{}

	logger *slog.Logger
}

// New creates a writer against an existing Redis client.
func New(client *redis.Client, logger *slog.Logger) *Writer {
	return &Writer{
		client:        client,
		queue:         make(chan Record, defaultBatchSize*2),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		shutdownCh:    make(chan struct{}),
		shutdownDone:  make(chan struct{}),
		logger:        logger.With("component", "persistence_writer"),
	}
}

// Start begins the batching loop in a background goroutine.
func (w *Writer) Start() {
	go w.batchLoop()
}

// QueueTick queues a tick-derived record for batched writing.
// Non-blocking: if the queue is full, the record is dropped.
func (w *Writer) QueueTick(venue, subtype, symbol, value string) {
	select {
	case w.queue <- Record{Key: TickKey(venue, subtype, symbol), Value: value}:
	default:
		w.logger.Warn("persistence queue full, dropping record", "venue", venue, "symbol", symbol)
	}
}

func (w *Writer) batchLoop() {
	defer close(w.shutdownDone)

	batch := make([]Record, 0, w.batchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-w.queue:
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}

		case <-w.shutdownCh:
			if len(batch) > 0 {
				w.flush(batch)
			}
			for {
				select {
				case rec := <-w.queue:
					w.flush([]Record{rec})
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) flush(batch []Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := w.client.Pipeline()
	for _, rec := range batch {
		pipe.Set(ctx, rec.Key, rec.Value, 0)
		pipe.Publish(ctx, rec.Key, rec.Value)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.logger.Error("persistence flush failed", "batch_size", len(batch), "err", err)
	}
}

// Shutdown flushes all remaining records, then writes a graceful-shutdown
// sentinel JSON (timestamp, reason, version) to the Redis key
// shutdown:sentinel:<UTC timestamp>, which expires after 24 hours. No
// file is written.
func (w *Writer) Shutdown(reason string) {
	close(w.shutdownCh)
	<-w.shutdownDone
	w.writeShutdownSentinel(reason)
}

type shutdownSentinel struct {
	Timestamp      int64  `json:"timestamp"`
	ShutdownReason string `json:"shutdown_reason"`
	Version        string `json:"version"`
}

// Version is the build-reported version string, overridable by the
// cmd entrypoints' build metadata.
var Version = "dev"

func (w *Writer) writeShutdownSentinel(reason string) {
	sentinel := shutdownSentinel{
		Timestamp:      time.Now().Unix(),
		ShutdownReason: reason,
		Version:        Version,
	}
	data, err := json.MarshalIndent(sentinel, "", "  ")
	if err != nil {
		w.logger.Error("marshal shutdown sentinel", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	key := "shutdown:sentinel:" + time.Now().UTC().Format("20060102T150405Z")
	if err := w.client.Set(ctx, key, data, 24*time.Hour).Err(); err != nil {
		w.logger.Error("write shutdown sentinel", "err", err)
	}
}
