// Package redisdlq is a Redis list backed dead-letter queue for records a
// store did not accept.
package redisdlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haowjy/meridian-aisearch-go"
)

// DefaultKey is the list key used when none is configured.
const DefaultKey = "aisearch:deadletters"

// Config holds Redis connection settings.
type Config struct {
	URL          string `split_words:"true" yaml:"url"`
	Key          string `split_words:"true" yaml:"key"`
	TTLSeconds   int    `envconfig:"TTL_SECONDS" yaml:"ttl_seconds"`
	ReadTimeout  int    `split_words:"true" yaml:"read_timeout"`
	WriteTimeout int    `split_words:"true" yaml:"write_timeout"`
	DialTimeout  int    `split_words:"true" yaml:"dial_timeout"`
}

// New connects to Redis and pings it.
func (c *Config) New() (*redis.Client, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, err
	}

	opts.ReadTimeout = time.Duration(c.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(c.WriteTimeout) * time.Second
	opts.DialTimeout = time.Duration(c.DialTimeout) * time.Second

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// Queue implements aisearch.DeadLetterQueue as a FIFO Redis list.
type Queue struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

// NewQueue creates a queue on key (DefaultKey if empty). A positive ttl is
// refreshed on every push so an idle queue eventually expires.
func NewQueue(rdb redis.Cmdable, key string, ttl time.Duration) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{rdb: rdb, key: key, ttl: ttl}
}

// Push appends rec to the tail of the list.
func (q *Queue) Push(ctx context.Context, rec *aisearch.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := q.rdb.RPush(ctx, q.key, b).Err(); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	if q.ttl > 0 {
		if err := q.rdb.Expire(ctx, q.key, q.ttl).Err(); err != nil {
			return fmt.Errorf("expire dead letters: %w", err)
		}
	}
	return nil
}

// Pop removes the record at the head of the list. Payloads that do not
// decode are moved to PoisonKey and skipped.
func (q *Queue) Pop(ctx context.Context) (*aisearch.Record, error) {
	for {
		s, err := q.rdb.LPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, aisearch.ErrDeadLetterEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("pop dead letter: %w", err)
		}

		var rec aisearch.Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			if qerr := q.quarantine(ctx, s); qerr != nil {
				return nil, fmt.Errorf("unmarshal dead letter: %w", errors.Join(err, qerr))
			}
			continue
		}
		return &rec, nil
	}
}

// quarantine appends an undecodable payload to the poison list. If that
// fails the payload goes back to the head of the queue.
func (q *Queue) quarantine(ctx context.Context, payload string) error {
	err := q.rdb.RPush(ctx, q.PoisonKey(), payload).Err()
	if err == nil {
		return nil
	}
	if rerr := q.rdb.LPush(ctx, q.key, payload).Err(); rerr != nil {
		return fmt.Errorf("quarantine dead letter: %w", errors.Join(err, rerr))
	}
	return fmt.Errorf("quarantine dead letter: %w", err)
}

// PoisonKey is the list holding payloads that could not be decoded.
func (q *Queue) PoisonKey() string {
	return q.key + ":poison"
}

// Len returns the list length.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("dead letter length: %w", err)
	}
	return int(n), nil
}
