package bus

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/redis/go-redis/v9"
)

const CName = "bus"

type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// MaxLen caps each stream's length (approximate trim).
	MaxLen int64 `yaml:"maxLen"`
}

type configSource interface {
	GetBus() Config
}

func New() Bus {
	return new(streamBus)
}

type Message struct {
	Id      string
	Topic   string
	Payload []byte
}

// Bus is an at-least-once message bus over redis streams. A published entry
// stays pending for its consumer group until acked; unacked entries are
// redelivered through Reclaim. Consumers must therefore be idempotent.
type Bus interface {
	app.ComponentRunnable
	Publish(ctx context.Context, topic string, payload []byte) error
	NewConsumer(ctx context.Context, group, name string, topics ...string) (Consumer, error)
}

type Consumer interface {
	// Fetch blocks up to block for new entries across the subscribed topics.
	Fetch(ctx context.Context, count int64, block time.Duration) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
	// Reclaim takes over entries another consumer fetched but never acked.
	Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error)
}

type streamBus struct {
	conf   Config
	client *redis.Client
}

func (b *streamBus) Init(a *app.App) (err error) {
	b.conf = a.MustComponent("config").(configSource).GetBus()
	b.client = redis.NewClient(&redis.Options{
		Addr:     b.conf.Addr,
		Password: b.conf.Password,
		DB:       b.conf.DB,
	})
	return
}

func (b *streamBus) Name() (name string) {
	return CName
}

func (b *streamBus) Run(ctx context.Context) (err error) {
	return b.client.Ping(ctx).Err()
}

func (b *streamBus) Publish(ctx context.Context, topic string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{"payload": string(payload)},
	}
	if b.conf.MaxLen > 0 {
		args.MaxLen = b.conf.MaxLen
		args.Approx = true
	}
	return b.client.XAdd(ctx, args).Err()
}

func (b *streamBus) NewConsumer(ctx context.Context, group, name string, topics ...string) (Consumer, error) {
	for _, topic := range topics {
		err := b.client.XGroupCreateMkStream(ctx, topic, group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, err
		}
	}
	return &consumer{bus: b, group: group, name: name, topics: topics}, nil
}

type consumer struct {
	bus    *streamBus
	group  string
	name   string
	topics []string
}

func (c *consumer) Fetch(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	streams := make([]string, 0, len(c.topics)*2)
	streams = append(streams, c.topics...)
	for range c.topics {
		streams = append(streams, ">")
	}
	res, err := c.bus.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var msgs []Message
	for _, stream := range res {
		for _, m := range stream.Messages {
			msgs = append(msgs, toMessage(stream.Stream, m))
		}
	}
	return msgs, nil
}

func (c *consumer) Ack(ctx context.Context, msg Message) error {
	return c.bus.client.XAck(ctx, msg.Topic, c.group, msg.Id).Err()
}

func (c *consumer) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	var msgs []Message
	for _, topic := range c.topics {
		claimed, _, err := c.bus.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    c.group,
			Consumer: c.name,
			MinIdle:  minIdle,
			Start:    "0-0",
			Count:    count,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		for _, m := range claimed {
			msgs = append(msgs, toMessage(topic, m))
		}
	}
	return msgs, nil
}

func toMessage(topic string, m redis.XMessage) Message {
	msg := Message{Id: m.ID, Topic: topic}
	if v, ok := m.Values["payload"].(string); ok {
		msg.Payload = []byte(v)
	}
	return msg
}

func (b *streamBus) Close(ctx context.Context) (err error) {
	return b.client.Close()
}
