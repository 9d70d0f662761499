package aisearch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DeadLetterSink receives records a store did not accept.
type DeadLetterSink interface {
	Push(ctx context.Context, rec *Record) error
}

// DeadLetterQueue is a DeadLetterSink that can be drained.
type DeadLetterQueue interface {
	DeadLetterSink

	// Pop removes and returns the oldest record, or ErrDeadLetterEmpty.
	Pop(ctx context.Context) (*Record, error)

	// Len returns the number of queued records.
	Len(ctx context.Context) (int, error)
}

// MemoryDeadLetters is an in-process bounded FIFO of dead letters.
// When full, the oldest record is dropped to make room.
type MemoryDeadLetters struct {
	mu      sync.Mutex
	records []*Record
	limit   int
	dropped int
}

// NewMemoryDeadLetters creates a queue holding at most limit records (limit <= 0 means unbounded).
func NewMemoryDeadLetters(limit int) *MemoryDeadLetters {
	return &MemoryDeadLetters{limit: limit}
}

// Push appends rec.
func (q *MemoryDeadLetters) Push(_ context.Context, rec *Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit > 0 && len(q.records) >= q.limit {
		q.records = q.records[1:]
		q.dropped++
	}
	q.records = append(q.records, rec)
	return nil
}

// Pop removes the oldest record.
func (q *MemoryDeadLetters) Pop(_ context.Context) (*Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.records) == 0 {
		return nil, ErrDeadLetterEmpty
	}
	rec := q.records[0]
	q.records = q.records[1:]
	return rec, nil
}

// Len returns the queue length.
func (q *MemoryDeadLetters) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records), nil
}

// Dropped returns how many records were evicted because the queue was full.
func (q *MemoryDeadLetters) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// RedeliveryReport summarizes one Redeliver pass.
type RedeliveryReport struct {
	Attempted int
	Delivered int
	Requeued  int
}

// Redeliver pops up to max records (max <= 0 means until empty) and stores
// each once. Records that fail again are pushed back to the queue and the
// pass stops, so a down store is not hammered. This is the only retry path
// for finished conversations.
func Redeliver(ctx context.Context, queue DeadLetterQueue, store RecordStore, max int) (RedeliveryReport, error) {
	var report RedeliveryReport

	for max <= 0 || report.Attempted < max {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		rec, err := queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrDeadLetterEmpty) {
				return report, nil
			}
			return report, fmt.Errorf("pop dead letter: %w", err)
		}
		report.Attempted++

		res, storeErr := store.Store(ctx, rec)
		if storeErr == nil && res != nil && res.Accepted {
			report.Delivered++
			continue
		}

		if err := queue.Push(ctx, rec); err != nil {
			return report, fmt.Errorf("requeue %s: %w", rec.ConversationID, err)
		}
		report.Requeued++

		if storeErr != nil {
			return report, storeErr
		}
		return report, fmt.Errorf("redeliver %s: %w", rec.ConversationID, ErrStoreRejected)
	}

	return report, nil
}
