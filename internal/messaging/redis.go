// internal/messaging/redis.go
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

const (
	redisPayloadField = "payload"
	redisReadCount    = 16
)

// RedisOptions configures RedisBroker.
type RedisOptions struct {
	// Prefix is prepended to every stream key.
	Prefix string
	// Block is how long one XREADGROUP waits for new entries.
	Block time.Duration
	// MaxLen caps each stream's length. Zero disables trimming.
	MaxLen int64
	// Consumer identifies this process within each consumer group.
	Consumer string
}

// RedisBroker implements Broker on Redis Streams. Each exchange/routing key
// pair is a stream and each queue is a consumer group on that stream, so
// every queue receives its own copy and consumers in one queue compete.
type RedisBroker struct {
	rdb    *redis.Client
	opts   RedisOptions
	logger logrus.FieldLogger

	stop    context.CancelFunc
	stopCtx context.Context
	wg      conc.WaitGroup
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker wraps an already connected client.
func NewRedisBroker(rdb *redis.Client, opts RedisOptions, logger logrus.FieldLogger) *RedisBroker {
	if opts.Prefix == "" {
		opts.Prefix = "stream"
	}
	if opts.Block <= 0 {
		opts.Block = 2 * time.Second
	}
	if opts.Consumer == "" {
		opts.Consumer = "lobby-" + uuid.NewString()[:8]
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBroker{
		rdb:     rdb,
		opts:    opts,
		logger:  logger,
		stop:    cancel,
		stopCtx: ctx,
	}
}

// ConnectRedis creates a client for addr/db and pings it, retrying with
// exponential backoff until maxWait elapses.
func ConnectRedis(ctx context.Context, addr string, db int, maxWait time.Duration) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxWait
	err := backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (b *RedisBroker) streamKey(exchange, routingKey string) string {
	return strings.Join([]string{b.opts.Prefix, exchange, routingKey}, ":")
}

func (b *RedisBroker) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: b.streamKey(exchange, routingKey),
		Values: map[string]interface{}{redisPayloadField: body},
	}
	if b.opts.MaxLen > 0 {
		args.MaxLen = b.opts.MaxLen
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to stream '%s': %w", args.Stream, err)
	}
	return nil
}

// Subscribe creates the consumer group (and stream) if needed before
// returning, so anything published afterwards reaches this queue.
func (b *RedisBroker) Subscribe(ctx context.Context, binding Binding, h Handler) error {
	stream := b.streamKey(binding.Exchange, binding.RoutingKey)
	err := b.rdb.XGroupCreateMkStream(ctx, stream, binding.Queue, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", binding.Queue, stream, err)
	}

	b.wg.Go(func() {
		runCtx, cancel := mergeDone(ctx, b.stopCtx)
		defer cancel()
		b.consume(runCtx, stream, binding, h)
	})
	return nil
}

// consume first drains entries this consumer read but never acknowledged
// (a previous crash), then reads new entries until ctx is done.
func (b *RedisBroker) consume(ctx context.Context, stream string, binding Binding, h Handler) {
	log := b.logger.WithFields(logrus.Fields{"stream": stream, "queue": binding.Queue})
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	cursor := "0"
	for ctx.Err() == nil {
		res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    binding.Queue,
			Consumer: b.opts.Consumer,
			Streams:  []string{stream, cursor},
			Count:    redisReadCount,
			Block:    b.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if cursor == "0" {
				log.WithError(err).Warn("failed to read pending entries, skipping to new entries")
				cursor = ">"
				continue
			}
			wait := bo.NextBackOff()
			log.WithError(err).Warnf("XREADGROUP failed, retrying in %s", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		delivered := 0
		for _, xs := range res {
			for _, xm := range xs.Messages {
				delivered++
				msg := Message{
					ID:         xm.ID,
					Exchange:   binding.Exchange,
					RoutingKey: binding.RoutingKey,
					Queue:      binding.Queue,
					Body:       payloadBytes(xm.Values[redisPayloadField]),
				}
				dispatch(ctx, log, h, msg)
				if err := b.rdb.XAck(ctx, stream, binding.Queue, xm.ID).Err(); err != nil {
					log.WithError(err).WithField("message_id", xm.ID).Warn("failed to XACK message")
				}
			}
		}
		// Pending entries are exhausted once a "0" read returns nothing.
		if cursor == "0" && delivered == 0 {
			cursor = ">"
		}
	}
}

// Close stops every consumer loop and waits for them to return. The client
// itself is owned by the caller.
func (b *RedisBroker) Close() error {
	b.stop()
	b.wg.Wait()
	return nil
}

func payloadBytes(v interface{}) []byte {
	switch p := v.(type) {
	case string:
		return []byte(p)
	case []byte:
		return p
	default:
		return nil
	}
}

// mergeDone returns a context cancelled when either parent is done.
func mergeDone(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
