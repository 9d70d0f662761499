package aisearch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

const (
	framePrefix  = "data: "
	doneSentinel = "[DONE]"
)

// ReaderStats counts what a Reader has seen so far.
type ReaderStats struct {
	Frames  int // data frames read, including skipped ones, excluding [DONE]
	Events  int // frames decoded into events
	Skipped int // frames that produced a *FrameError
}

// Reader turns a byte stream of newline-delimited SSE lines into StreamEvents.
// A Reader is single-use: once it returns io.EOF or a transport error it keeps
// returning that error.
type Reader struct {
	src   *bufio.Reader
	stats ReaderStats
	err   error // sticky terminal error (io.EOF or transport)
}

// NewReader creates a Reader over src.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: bufio.NewReader(src)}
}

// NextFrame returns the payload of the next "data: " line.
//
// Lines without the prefix are dropped. The "[DONE]" sentinel and end of
// source both return io.EOF. A trailing segment with no newline at end of
// source is incomplete and is discarded. Read failures are returned wrapped
// in ErrTransport.
func (r *Reader) NextFrame() (string, error) {
	if r.err != nil {
		return "", r.err
	}

	for {
		line, err := r.src.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.err = io.EOF
			} else {
				r.err = fmt.Errorf("%w: %v", ErrTransport, err)
			}
			return "", r.err
		}

		line = strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(line, framePrefix) {
			continue
		}

		payload := strings.TrimPrefix(line, framePrefix)
		if payload == doneSentinel {
			r.err = io.EOF
			return "", r.err
		}

		r.stats.Frames++
		return payload, nil
	}
}

// Next returns the next decoded event. A *FrameError means the frame was
// skipped; call Next again to continue.
func (r *Reader) Next() (StreamEvent, error) {
	payload, err := r.NextFrame()
	if err != nil {
		return nil, err
	}

	ev, err := DecodeEvent([]byte(payload))
	if err != nil {
		r.stats.Skipped++
		return nil, err
	}

	r.stats.Events++
	return ev, nil
}

// Stats returns the counters accumulated so far.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// EventHandler receives each decoded event in arrival order.
// Returning an error stops consumption.
type EventHandler func(StreamEvent) error

// CompletionFunc is called once when consumption ends. err is nil for a
// clean end ([DONE] or end of source).
type CompletionFunc func(stats ReaderStats, err error)

// Consume reads src to completion, passing each event to handle.
//
// Skipped frames are logged and do not stop the stream. Consumption ends on
// [DONE], end of source, a transport error, an error from handle, or context
// cancellation. onComplete (if non-nil) is called exactly once with the final
// stats and the terminal error, which is also returned.
func Consume(ctx context.Context, src io.Reader, handle EventHandler, onComplete CompletionFunc, logger zerolog.Logger) (err error) {
	reader := NewReader(src)
	defer func() {
		if onComplete != nil {
			onComplete(reader.Stats(), err)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := reader.Next()
		if err != nil {
			var frameErr *FrameError
			if errors.As(err, &frameErr) {
				logger.Warn().Err(frameErr.Err).Str("kind", frameErr.Kind).Int("frame", reader.Stats().Frames).Msg("skipping frame")
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := handle(ev); err != nil {
			return err
		}
	}
}
