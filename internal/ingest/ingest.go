// Package ingest contains the feed pipeline: a reader that subscribes to the
// upstream DVS subject and queues raw payloads, and a worker that drains the
// queue, decompresses, decodes and applies each message to the store.
//
// The split is a deliberate producer/consumer queue: the reader must never
// stall on decode work, or the upstream connection starts dropping frames.
// One worker is sufficient and keeps the update rule trivially serialized
// per message.
package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/decoder"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/metrics"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/store"
)

// Pipeline is the feed ingest pipeline.
type Pipeline struct {
	conn    *nats.Conn
	subject string

	queue   chan []byte
	decoder *decoder.Decoder
	store   *store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New constructs a Pipeline. queueSize bounds the work queue; the reader
// blocks rather than drops when the worker falls behind.
func New(conn *nats.Conn, subject string, queueSize int, st *store.Store, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		conn:    conn,
		subject: subject,
		queue:   make(chan []byte, queueSize),
		decoder: decoder.NewDecoder(logger),
		store:   st,
		metrics: m,
		logger:  logger,
	}
}

// Start subscribes to the feed subject and launches the worker goroutine.
// It returns immediately; both halves stop when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	sub, err := p.conn.Subscribe(p.subject, func(msg *nats.Msg) {
		p.queue <- msg.Data
	})
	if err != nil {
		return fmt.Errorf("ingest: subscribe %q: %w", p.subject, err)
	}
	// No client-side pending limit: transient worker stalls must not cause
	// upstream drops.
	if err := sub.SetPendingLimits(-1, -1); err != nil {
		return fmt.Errorf("ingest: pending limits: %w", err)
	}

	p.logger.Info("feed subscription active", zap.String("subject", p.subject))

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			p.logger.Debug("feed unsubscribe", zap.Error(err))
		}
	}()
	go p.work(ctx)

	return nil
}

// work is the worker loop: one payload per iteration, errors contained per
// message.
func (p *Pipeline) work(ctx context.Context) {
	p.logger.Info("ingest worker started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ingest worker stopping")
			return
		case payload := <-p.queue:
			p.process(payload)
		}
	}
}

// process handles a single raw feed payload. Every payload counts into the
// messages counter, whether or not it decodes.
func (p *Pipeline) process(payload []byte) {
	defer p.metrics.IncMessages()

	raw, err := decompress(payload)
	if err != nil {
		p.logger.Error("cannot decompress feed payload", zap.Error(err))
		p.logger.Debug("offending payload", zap.Binary("payload", payload))
		return
	}

	train, err := p.decoder.Decode(raw)
	if err != nil {
		if errors.Is(err, decoder.ErrMalformed) {
			p.logger.Error("malformed DVS message", zap.Error(err))
		} else {
			p.logger.Error("error decoding DVS message", zap.Error(err))
		}
		p.logger.Debug("offending payload", zap.ByteString("payload", raw))
		return
	}

	p.store.Apply(train, time.Now().UTC())
}

func decompress(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
