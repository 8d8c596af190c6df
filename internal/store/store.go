// Package store implements the in-memory picture of imminent departures.
//
// Two coordinated indices hold the same trains: by_station (station code →
// trip id → train) and by_train (trip id → station code → train). The store
// owns one lock per index; every structural mutation and every value
// overwrite happens under the owning lock because readers snapshot while
// iterating. The two sides hold equal copies of each train so that the
// monotonic update rule and the garbage-collection sweeps can be applied to
// each index independently.
package store

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/metrics"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/model"
)

// staleWarnGap is the timestamp regression beyond which an out-of-order
// message is logged at warning instead of info. Heuristic, not a contract.
const staleWarnGap = 5 * time.Second

// ApplyResult describes what the update rule did with an incoming message.
type ApplyResult int

const (
	// Applied means the train was installed or overwrote an older record.
	Applied ApplyResult = iota
	// Duplicate means the message timestamp equals the stored one.
	Duplicate
	// Stale means the message timestamp is older than the stored one.
	Stale
)

// GCPolicy carries the lifecycle thresholds for a sweep.
type GCPolicy struct {
	// Threshold is how long after its current departure a non-synthetic
	// train is considered gone without a status-5 confirmation.
	Threshold time.Duration
	// ThresholdStatic is the same margin for injected (synthetic) trains.
	ThresholdStatic time.Duration
	// ThresholdDeparted is the retention window for departed trains.
	ThresholdDeparted time.Duration
	// KeepDepartures disables eviction entirely (debug option).
	KeepDepartures bool
}

// SweepStats summarizes one garbage-collection sweep over one index.
type SweepStats struct {
	Marked  int
	Evicted int
}

// Store is the dual-index departure store.
type Store struct {
	stationMu sync.RWMutex
	trainMu   sync.RWMutex

	byStation map[string]map[string]*model.Train
	byTrain   map[string]map[string]*model.Train

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New constructs an empty Store.
func New(m *metrics.Metrics, logger *zap.Logger) *Store {
	return &Store{
		byStation: make(map[string]map[string]*model.Train),
		byTrain:   make(map[string]map[string]*model.Train),
		metrics:   m,
		logger:    logger,
	}
}

// ── update rule ───────────────────────────────────────────────────────────

// Apply runs the update rule for one decoded feed train. Departed messages
// (status 5) are stamped and installed unconditionally; everything else is
// subject to the monotonic timestamp comparison. The station side decides
// the returned result and the duplicate/stale counters; the train side
// applies the same comparison independently under its own lock.
func (s *Store) Apply(train *model.Train, now time.Time) ApplyResult {
	if train.IsDeparted() {
		train.MarkDeparted(now)
		s.install(train)
		return Applied
	}

	result := s.applyStation(train)
	s.applyTrain(train)

	switch result {
	case Duplicate:
		s.metrics.IncDuplicates()
		s.logger.Info("duplicate message dropped",
			zap.String("train", train.TrainNumber),
			zap.String("station", train.TripStation.Code),
			zap.Time("timestamp", train.MessageTimestamp))
	case Stale:
		s.metrics.IncStale()
	}
	return result
}

// Inject force-installs a synthesized train in both indices, bypassing the
// timestamp comparison. Injections carry a fresh timestamp by construction.
func (s *Store) Inject(train *model.Train) {
	s.install(train)
}

func (s *Store) install(train *model.Train) {
	station := train.TripStation.Code

	s.stationMu.Lock()
	bucket := s.byStation[station]
	if bucket == nil {
		bucket = make(map[string]*model.Train)
		s.byStation[station] = bucket
	}
	bucket[train.TripID] = train.Clone()
	s.stationMu.Unlock()

	s.trainMu.Lock()
	bucket = s.byTrain[train.TripID]
	if bucket == nil {
		bucket = make(map[string]*model.Train)
		s.byTrain[train.TripID] = bucket
	}
	bucket[station] = train.Clone()
	s.trainMu.Unlock()
}

func (s *Store) applyStation(train *model.Train) ApplyResult {
	station := train.TripStation.Code

	s.stationMu.Lock()
	defer s.stationMu.Unlock()

	bucket := s.byStation[station]
	if bucket == nil {
		bucket = make(map[string]*model.Train)
		s.byStation[station] = bucket
	}

	current, ok := bucket[train.TripID]
	if !ok {
		bucket[train.TripID] = train.Clone()
		return Applied
	}

	switch {
	case train.MessageTimestamp.After(current.MessageTimestamp):
		bucket[train.TripID] = train.Clone()
		return Applied
	case train.MessageTimestamp.Equal(current.MessageTimestamp):
		return Duplicate
	default:
		gap := current.MessageTimestamp.Sub(train.MessageTimestamp)
		level := zap.InfoLevel
		if gap > staleWarnGap {
			level = zap.WarnLevel
		}
		s.logger.Log(level, "stale message dropped",
			zap.String("train", train.TrainNumber),
			zap.String("station", station),
			zap.Time("received", train.MessageTimestamp),
			zap.Time("stored", current.MessageTimestamp),
			zap.Duration("gap", gap))
		return Stale
	}
}

func (s *Store) applyTrain(train *model.Train) {
	station := train.TripStation.Code

	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	bucket := s.byTrain[train.TripID]
	if bucket == nil {
		bucket = make(map[string]*model.Train)
		s.byTrain[train.TripID] = bucket
	}

	current, ok := bucket[station]
	if !ok || train.MessageTimestamp.After(current.MessageTimestamp) {
		bucket[station] = train.Clone()
	}
}

// ── read paths ────────────────────────────────────────────────────────────

// Station returns a snapshot of all trains stored for the given station
// code, or false if the station is unknown. The snapshot is taken under the
// station lock and holds clones, so callers may serialize it at leisure.
func (s *Store) Station(code string) (map[string]*model.Train, bool) {
	s.stationMu.RLock()
	defer s.stationMu.RUnlock()

	bucket, ok := s.byStation[code]
	if !ok {
		return nil, false
	}
	return cloneBucket(bucket), true
}

// Train returns a snapshot of all station records for the given trip id, or
// false if the trip is unknown.
func (s *Store) Train(tripID string) (map[string]*model.Train, bool) {
	s.trainMu.RLock()
	defer s.trainMu.RUnlock()

	bucket, ok := s.byTrain[tripID]
	if !ok {
		return nil, false
	}
	return cloneBucket(bucket), true
}

// DumpStations snapshots the entire station index.
func (s *Store) DumpStations() map[string]map[string]*model.Train {
	s.stationMu.RLock()
	defer s.stationMu.RUnlock()
	return cloneIndex(s.byStation)
}

// DumpTrains snapshots the entire train index.
func (s *Store) DumpTrains() map[string]map[string]*model.Train {
	s.trainMu.RLock()
	defer s.trainMu.RUnlock()
	return cloneIndex(s.byTrain)
}

// CountStations returns the number of distinct station codes in the store.
func (s *Store) CountStations() int {
	s.stationMu.RLock()
	defer s.stationMu.RUnlock()
	return len(s.byStation)
}

// CountTrains returns the number of distinct trip ids in the store.
func (s *Store) CountTrains() int {
	s.trainMu.RLock()
	defer s.trainMu.RUnlock()
	return len(s.byTrain)
}

// RestoreStations primes the station index from a persisted snapshot.
func (s *Store) RestoreStations(data map[string]map[string]*model.Train) {
	s.stationMu.Lock()
	defer s.stationMu.Unlock()
	s.byStation = cloneIndex(data)
}

// RestoreTrains primes the train index from a persisted snapshot.
func (s *Store) RestoreTrains(data map[string]map[string]*model.Train) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	s.byTrain = cloneIndex(data)
}

func cloneBucket(bucket map[string]*model.Train) map[string]*model.Train {
	out := make(map[string]*model.Train, len(bucket))
	for key, train := range bucket {
		out[key] = train.Clone()
	}
	return out
}

func cloneIndex(index map[string]map[string]*model.Train) map[string]map[string]*model.Train {
	out := make(map[string]map[string]*model.Train, len(index))
	for key, bucket := range index {
		out[key] = cloneBucket(bucket)
	}
	return out
}

// ── garbage collection ────────────────────────────────────────────────────

// SweepStations runs the lifecycle sweep over the station index: overdue
// trains are marked departed, departed trains past the retention window are
// evicted from both indices.
func (s *Store) SweepStations(now time.Time, policy GCPolicy) SweepStats {
	var stats SweepStats
	var evicted [][2]string // (trip, station) pairs to cross-remove

	s.stationMu.Lock()
	for station, bucket := range s.byStation {
		for trip, train := range bucket {
			switch s.sweepTrain(train, now, policy) {
			case sweepMark:
				stats.Marked++
				s.logMarked(train, trip, station, "station")
				if !train.Synthetic && !train.IsCancelled() {
					s.metrics.IncGCStation()
				}
			case sweepEvict:
				delete(bucket, trip)
				evicted = append(evicted, [2]string{trip, station})
				stats.Evicted++
			}
		}
	}
	s.stationMu.Unlock()

	if len(evicted) > 0 {
		s.trainMu.Lock()
		for _, pair := range evicted {
			s.removeTrainLocked(pair[0], pair[1])
		}
		s.trainMu.Unlock()
	}
	return stats
}

// SweepTrains is the analogous sweep over the train index. Trip buckets
// that end up empty are removed.
func (s *Store) SweepTrains(now time.Time, policy GCPolicy) SweepStats {
	var stats SweepStats
	var evicted [][2]string

	s.trainMu.Lock()
	for trip, bucket := range s.byTrain {
		for station, train := range bucket {
			switch s.sweepTrain(train, now, policy) {
			case sweepMark:
				stats.Marked++
				s.logMarked(train, trip, station, "train")
				if !train.Synthetic && !train.IsCancelled() {
					s.metrics.IncGCTrain()
				}
			case sweepEvict:
				delete(bucket, station)
				evicted = append(evicted, [2]string{trip, station})
				stats.Evicted++
			}
		}
		if len(bucket) == 0 {
			delete(s.byTrain, trip)
		}
	}
	s.trainMu.Unlock()

	if len(evicted) > 0 {
		s.stationMu.Lock()
		for _, pair := range evicted {
			s.removeStationLocked(pair[0], pair[1])
		}
		s.stationMu.Unlock()
	}
	return stats
}

type sweepAction int

const (
	sweepNone sweepAction = iota
	sweepMark
	sweepEvict
)

func (s *Store) sweepTrain(train *model.Train, now time.Time, policy GCPolicy) sweepAction {
	if train.IsDeparted() {
		if train.DepartedAt == nil {
			// Departed through a restored snapshot or a debug path without a
			// stamp; start the retention window now.
			train.MarkDeparted(now)
			return sweepNone
		}
		if policy.KeepDepartures {
			return sweepNone
		}
		if now.Sub(*train.DepartedAt) >= policy.ThresholdDeparted {
			return sweepEvict
		}
		return sweepNone
	}

	margin := policy.Threshold
	if train.Synthetic {
		margin = policy.ThresholdStatic
	}
	if train.CurrentDeparture.Before(now.Add(-margin)) {
		train.MarkDeparted(now)
		return sweepMark
	}
	return sweepNone
}

func (s *Store) logMarked(train *model.Train, trip, station, index string) {
	fields := []zap.Field{
		zap.String("trip", trip),
		zap.String("station", station),
		zap.String("index", index),
		zap.Time("current_departure", train.CurrentDeparture),
	}
	switch {
	case train.IsCancelled():
		// Cancelled trains never get a status-5 message; expiring here is
		// expected.
		s.logger.Debug("marked cancelled train departed", fields...)
	case train.Synthetic:
		s.logger.Debug("marked injected train departed", fields...)
	default:
		s.logger.Warn("marked overdue train departed", fields...)
	}
}

// removeTrainLocked removes (trip, station) from the train index. Caller
// holds trainMu. A pair already gone is expected after a cross-removal race.
func (s *Store) removeTrainLocked(trip, station string) {
	bucket, ok := s.byTrain[trip]
	if !ok {
		s.logger.Debug("train index entry already removed",
			zap.String("trip", trip), zap.String("station", station))
		return
	}
	if _, ok := bucket[station]; !ok {
		s.logger.Debug("train index entry already removed",
			zap.String("trip", trip), zap.String("station", station))
	} else {
		delete(bucket, station)
	}
	if len(bucket) == 0 {
		delete(s.byTrain, trip)
	}
}

// removeStationLocked removes (trip, station) from the station index.
// Caller holds stationMu.
func (s *Store) removeStationLocked(trip, station string) {
	bucket, ok := s.byStation[station]
	if !ok {
		s.logger.Debug("station index entry already removed",
			zap.String("trip", trip), zap.String("station", station))
		return
	}
	if _, ok := bucket[trip]; !ok {
		s.logger.Debug("station index entry already removed",
			zap.String("trip", trip), zap.String("station", station))
		return
	}
	delete(bucket, trip)
}
