package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/haowjy/meridian-aisearch-go"
	"github.com/haowjy/meridian-aisearch-go/config"
	"github.com/haowjy/meridian-aisearch-go/stores/httpstore"
	"github.com/haowjy/meridian-aisearch-go/stores/redisdlq"
	"github.com/haowjy/meridian-aisearch-go/stores/sqlitestore"
	"github.com/haowjy/meridian-aisearch-go/upstreams/lorem"
	"github.com/haowjy/meridian-aisearch-go/upstreams/workflowapi"
)

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		_ = c[i]()
	}
}

func buildUpstream(cfg *config.Config) (aisearch.Upstream, error) {
	switch aisearch.UpstreamID(cfg.Upstream.Kind) {
	case aisearch.UpstreamWorkflowAPI:
		return workflowapi.NewClient(cfg.Upstream.APIKey, workflowapi.WithBaseURL(cfg.Upstream.BaseURL))
	case aisearch.UpstreamLorem:
		return lorem.New(cfg.Upstream.LoremModel), nil
	default:
		return nil, fmt.Errorf("unknown upstream %q", cfg.Upstream.Kind)
	}
}

// buildStore returns the record store. When the store is sqlite the same
// database is returned as intake; otherwise intake is nil.
func buildStore(cfg *config.Config, cl *closers) (aisearch.RecordStore, *sqlitestore.Store, error) {
	switch cfg.Store.Kind {
	case "sqlite":
		db, err := sqlitestore.New(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		*cl = append(*cl, db.Close)
		return db, db, nil

	case "http":
		store, err := httpstore.New(cfg.Store.BaseURL,
			httpstore.WithToken(cfg.Store.Token),
			httpstore.WithTimeout(cfg.Store.Timeout),
			httpstore.WithRateLimit(cfg.Store.RateLimit, cfg.Store.Burst),
		)
		return store, nil, err

	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store.Kind)
	}
}

func buildDeadLetters(cfg *config.Config, cl *closers) (aisearch.DeadLetterQueue, error) {
	switch cfg.DeadLetters.Kind {
	case "none":
		return nil, nil
	case "memory":
		return aisearch.NewMemoryDeadLetters(cfg.DeadLetters.Limit), nil
	case "redis":
		rc := cfg.DeadLetters.Redis
		client, err := rc.New()
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		*cl = append(*cl, client.Close)
		return redisdlq.NewQueue(client, rc.Key, time.Duration(rc.TTLSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown dead-letter kind %q", cfg.DeadLetters.Kind)
	}
}

func buildAccumulator(cfg *config.Config, store aisearch.RecordStore, dlq aisearch.DeadLetterQueue, logger zerolog.Logger) *aisearch.Accumulator {
	opts := []aisearch.AccumulatorOption{aisearch.WithLogger(logger)}
	if dlq != nil {
		opts = append(opts, aisearch.WithDeadLetters(dlq))
	}
	return aisearch.NewAccumulator(store, opts...)
}

// discardStore accepts every record without keeping it.
var discardStore = aisearch.RecordStoreFunc(func(context.Context, *aisearch.Record) (*aisearch.StoreResult, error) {
	return &aisearch.StoreResult{Accepted: true}, nil
})
