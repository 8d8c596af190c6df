// Package health classifies the feed's health from the message rate.
//
// The upstream feed goes silent every night and occasionally degrades during
// the day. A short silence must not immediately poison downstream clients,
// but after a sustained outage the backlog of stale messages must be visible
// as RECOVERING long enough for consumers to rebuild their own state.
package health

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// System status strings, part of the client protocol.
const (
	StatusUnknown    = "UNKNOWN"
	StatusDown       = "DOWN"
	StatusRecovering = "RECOVERING"
	StatusUp         = "UP"
)

// Status is the externally visible health snapshot, returned on every
// status query and embedded in station/train replies.
type Status struct {
	Status          string     `json:"status"`
	DownSince       *time.Time `json:"down_since"`
	RecoveringSince *time.Time `json:"recovering_since"`
}

// Detector keeps a sliding window of per-minute samples of the processed
// message counter and derives the four-state system status from it.
//
// Observe is called by the lifecycle engine only; the mutex exists because
// Current is read concurrently by the query server.
type Detector struct {
	window       int
	threshold    int64
	recoveryTime time.Duration

	mu      sync.RWMutex
	samples []int64
	status  Status

	logger *zap.Logger
}

// NewDetector constructs a Detector.
//
//   - window       – number of one-minute samples needed before judging.
//   - threshold    – minimum messages per window to count as alive.
//   - recoveryTime – how long RECOVERING lasts before UP.
func NewDetector(window int, threshold int64, recoveryTime time.Duration, logger *zap.Logger) *Detector {
	return &Detector{
		window:       window,
		threshold:    threshold,
		recoveryTime: recoveryTime,
		status:       Status{Status: StatusUnknown},
		logger:       logger,
	}
}

// Current returns the health snapshot.
func (d *Detector) Current() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Observe appends one sample of the running message counter and advances the
// status state machine. Called once per lifecycle tick.
func (d *Detector) Observe(total int64, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.samples = append(d.samples, total)

	if len(d.samples) < d.window {
		// Not enough data to judge; treat as the start of an outage so that
		// a fresh daemon reports RECOVERING before UP.
		d.logger.Debug("insufficient samples for downtime detection",
			zap.Int("samples", len(d.samples)), zap.Int("window", d.window))
		d.status.Status = StatusUnknown
		d.status.RecoveringSince = nil
		if d.status.DownSince == nil {
			ts := now
			d.status.DownSince = &ts
		}
		return
	}

	head := d.samples[0]
	d.samples = d.samples[1:]
	received := total - head

	d.logger.Info("feed message rate",
		zap.Int64("received", received),
		zap.Int("window_minutes", d.window))

	if received < d.threshold {
		d.logger.Warn("downtime detected",
			zap.Int64("received", received),
			zap.Int("window_minutes", d.window))
		d.status.Status = StatusDown
		if d.status.DownSince == nil {
			ts := now
			d.status.DownSince = &ts
		}
		d.status.RecoveringSince = nil
		return
	}

	switch d.status.Status {
	case StatusUnknown, StatusDown:
		// Data flows reliably again; hold in RECOVERING while downstream
		// consumers catch up.
		d.logger.Warn("system recovering after downtime",
			zap.Timep("down_since", d.status.DownSince))
		d.status.Status = StatusRecovering
		ts := now
		d.status.RecoveringSince = &ts
	case StatusRecovering:
		if !now.Before(d.status.RecoveringSince.Add(d.recoveryTime)) {
			d.logger.Warn("system up after downtime and recovery",
				zap.Timep("down_since", d.status.DownSince),
				zap.Timep("recovering_since", d.status.RecoveringSince))
			d.status.Status = StatusUp
			d.status.DownSince = nil
			d.status.RecoveringSince = nil
		}
	}
}
