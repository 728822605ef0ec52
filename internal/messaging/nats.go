// internal/messaging/nats.go
package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

// NATSOptions configures the NATS connection.
type NATSOptions struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	// ConnectTimeout bounds the initial connection attempts.
	ConnectTimeout time.Duration
}

// NATSBroker implements Broker on JetStream. Every exchange is a stream
// capturing "<exchange>.>", routing keys become subjects below it and each
// queue is a durable consumer filtered on its routing key.
type NATSBroker struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger logrus.FieldLogger

	mu      sync.Mutex
	streams map[string]jetstream.Stream
	stop    context.CancelFunc
	stopCtx context.Context
	wg      conc.WaitGroup
}

var _ Broker = (*NATSBroker)(nil)

// ConnectNATS dials the server with reconnect options, retrying the initial
// connection with exponential backoff.
func ConnectNATS(ctx context.Context, opts NATSOptions, logger logrus.FieldLogger) (*NATSBroker, error) {
	if opts.Name == "" {
		opts.Name = "gamelobby"
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}

	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}

	var nc *nats.Conn
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = opts.ConnectTimeout
	err := backoff.Retry(func() error {
		var err error
		nc, err = nats.Connect(opts.URL, natsOpts...)
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", opts.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}

	stopCtx, cancel := context.WithCancel(context.Background())
	return &NATSBroker{
		nc:      nc,
		js:      js,
		logger:  logger,
		streams: make(map[string]jetstream.Stream),
		stop:    cancel,
		stopCtx: stopCtx,
	}, nil
}

func natsSubject(exchange, routingKey string) string {
	return exchange + "." + routingKey
}

// natsName turns an arbitrary exchange or queue name into a valid stream or
// durable name.
func natsName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func (b *NATSBroker) stream(ctx context.Context, exchange string) (jetstream.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[exchange]; ok {
		return s, nil
	}
	cfg := jetstream.StreamConfig{
		Name:      natsName(exchange),
		Subjects:  []string{exchange + ".>"},
		Retention: jetstream.InterestPolicy,
		Storage:   jetstream.FileStorage,
	}
	s, err := b.js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to declare stream %s: %w", cfg.Name, err)
	}
	b.streams[exchange] = s
	return s, nil
}

func (b *NATSBroker) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	if _, err := b.stream(ctx, exchange); err != nil {
		return err
	}
	subject := natsSubject(exchange, routingKey)
	if _, err := b.js.Publish(ctx, subject, body); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(ctx context.Context, binding Binding, h Handler) error {
	stream, err := b.stream(ctx, binding.Exchange)
	if err != nil {
		return err
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       natsName(binding.Queue),
		FilterSubject: natsSubject(binding.Exchange, binding.RoutingKey),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to declare consumer for %s: %w", binding, err)
	}

	runCtx, cancel := mergeDone(ctx, b.stopCtx)
	log := b.logger.WithField("queue", binding.Queue)
	cc, err := cons.Consume(func(m jetstream.Msg) {
		meta, _ := m.Metadata()
		id := ""
		if meta != nil {
			id = fmt.Sprintf("%d", meta.Sequence.Stream)
		}
		dispatch(runCtx, log, h, Message{
			ID:         id,
			Exchange:   binding.Exchange,
			RoutingKey: binding.RoutingKey,
			Queue:      binding.Queue,
			Body:       m.Data(),
		})
		if err := m.Ack(); err != nil {
			log.WithError(err).Warn("failed to ack message")
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start consuming %s: %w", binding, err)
	}

	b.wg.Go(func() {
		defer cancel()
		<-runCtx.Done()
		cc.Stop()
	})
	return nil
}

// Close stops all consumers and drains the connection.
func (b *NATSBroker) Close() error {
	b.stop()
	b.wg.Wait()
	return b.nc.Drain()
}
