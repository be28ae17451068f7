// Package kafkaconsumer subscribes to backend content-change events and
// evicts the affected responses from the runtime cache generation, so a
// cached API response never outlives the data it rendered.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/wanderplan/tilegate/internal/cachestore"
	obs "github.com/wanderplan/tilegate/internal/core/observability"
	"github.com/wanderplan/tilegate/internal/invalidation"
	mylog "github.com/wanderplan/tilegate/internal/logger"
)

// GenerationView resolves the live generation set; the consumer only ever
// touches the current runtime generation.
type GenerationView interface {
	Current() cachestore.Set
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	store  cachestore.Store
	gens   GenerationView
	origin *url.URL
	zlog   *zerolog.Logger
}

func New(cfg Config, logger *slog.Logger, store cachestore.Store, gens GenerationView, origin *url.URL) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		store:  store,
		gens:   gens,
		origin: origin,
	}
}

// consumes invalidation events from kafka and processes them
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil || c.gens == nil || c.origin == nil {
		return errors.New("kafkaconsumer: missing dependencies (store/gens/origin)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	zl := mylog.Build(mylog.Config{
		Level:     "info",
		Component: "kafka_consumer",
	}, nil)
	c.zlog = mylog.FromContext(base, &zl)

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// process a single invalidation event message
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		obs.ObserveUpstreamLatency("kafka_decode", time.Since(start).Seconds())

		mylog.FromContext(ctx, c.zlog).Error().
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")

		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		obs.IncKafkaConsumerError("validate")
		obs.ObserveInvalidation(ev.Op, err)
		return fmt.Errorf("validate event: %w", err)
	}

	gen := c.gens.Current().Runtime.Name()
	delKeys := make([]string, 0, len(ev.Paths))
	for _, p := range ev.Paths {
		abs := c.origin.ResolveReference(&url.URL{Path: p})
		delKeys = append(delKeys, abs.String())
	}

	if err := c.store.Delete(ctx, gen, delKeys...); err != nil {
		obs.IncKafkaConsumerError("store_del")
		obs.ObserveInvalidation(ev.Op, err)

		mylog.FromContext(ctx, c.zlog).Error().
			Str("kind", "store_del").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int("keys", len(delKeys)).
			Msg("kafka error")

		return fmt.Errorf("store delete: %w", err)
	}

	obs.ObserveInvalidation(ev.Op, nil)
	c.logger.Debug("invalidated cached responses",
		"entity", ev.Entity, "op", ev.Op, "keys", len(delKeys), "generation", gen)

	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("op", ev.Op).Str("entity", ev.Entity).
		Int("keys", len(delKeys)).
		Msg("invalidated cached responses")

	return nil
}
