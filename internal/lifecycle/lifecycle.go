// Package lifecycle drives the periodic maintenance tick: garbage-collect
// both store indices, log the store size, and feed the downtime detector.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/health"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/metrics"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/store"
)

// DefaultInterval is one tick per minute. The downtime detector's sample
// window is specified in minutes, so the interval and the window agree.
const DefaultInterval = time.Minute

// Engine runs the maintenance loop.
type Engine struct {
	interval time.Duration
	policy   store.GCPolicy

	store    *store.Store
	metrics  *metrics.Metrics
	detector *health.Detector
	logger   *zap.Logger
}

// New constructs an Engine with the default one-minute interval.
func New(st *store.Store, m *metrics.Metrics, d *health.Detector, policy store.GCPolicy, logger *zap.Logger) *Engine {
	return &Engine{
		interval: DefaultInterval,
		policy:   policy,
		store:    st,
		metrics:  m,
		detector: d,
		logger:   logger,
	}
}

// Start launches the maintenance loop in its own goroutine.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
}

func (e *Engine) run(ctx context.Context) {
	e.logger.Info("lifecycle engine started", zap.Duration("interval", e.interval))

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("lifecycle engine stopping")
			return
		case now := <-ticker.C:
			e.Tick(now.UTC())
		}
	}
}

// Tick performs one maintenance pass. Exported so that the daemon can run an
// immediate pass after restoring a snapshot.
func (e *Engine) Tick(now time.Time) {
	stationStats := e.store.SweepStations(now, e.policy)
	trainStats := e.store.SweepTrains(now, e.policy)

	if stationStats.Marked+stationStats.Evicted+trainStats.Marked+trainStats.Evicted > 0 {
		e.logger.Info("garbage collection pass",
			zap.Int("station_marked", stationStats.Marked),
			zap.Int("station_evicted", stationStats.Evicted),
			zap.Int("train_marked", trainStats.Marked),
			zap.Int("train_evicted", trainStats.Evicted))
	}

	e.logger.Info("store status",
		zap.Int("stations", e.store.CountStations()),
		zap.Int("trains", e.store.CountTrains()),
		zap.Int64("messages", e.metrics.Messages()),
		zap.String("status", e.detector.Current().Status))

	// Sample after sweeping so the logged store size and the health judgement
	// describe the same instant.
	e.detector.Observe(e.metrics.Messages(), now)
}
