package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/metrics"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/model"
)

var testTime = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *metrics.Metrics) {
	m := metrics.New()
	return New(m, zaptest.NewLogger(t)), m
}

func testTrain(trip, station string, ts time.Time) *model.Train {
	return &model.Train{
		TripID:           trip,
		TripStation:      model.NewStation(station, station),
		TrainNumber:      trip,
		Status:           "2",
		MessageTimestamp: ts,
		PlannedDeparture: ts.Add(10 * time.Minute),
		CurrentDeparture: ts.Add(10 * time.Minute),
	}
}

func counter(t *testing.T, m *metrics.Metrics, name string) int64 {
	t.Helper()
	value, ok := m.Get(name)
	require.True(t, ok, name)
	return value
}

func TestApplyInstallsInBothIndices(t *testing.T) {
	st, _ := newTestStore(t)

	result := st.Apply(testTrain("2240", "RTD", testTime), testTime)
	assert.Equal(t, Applied, result)

	byStation, ok := st.Station("RTD")
	require.True(t, ok)
	require.Contains(t, byStation, "2240")

	byTrain, ok := st.Train("2240")
	require.True(t, ok)
	require.Contains(t, byTrain, "RTD")

	assert.Equal(t, 1, st.CountStations())
	assert.Equal(t, 1, st.CountTrains())
}

func TestApplyNewerWins(t *testing.T) {
	st, _ := newTestStore(t)

	old := testTrain("2240", "RTD", testTime)
	old.Status = "2"
	st.Apply(old, testTime)

	updated := testTrain("2240", "RTD", testTime.Add(time.Minute))
	updated.Status = "0"
	assert.Equal(t, Applied, st.Apply(updated, testTime))

	byStation, _ := st.Station("RTD")
	assert.Equal(t, "0", byStation["2240"].Status)
	byTrain, _ := st.Train("2240")
	assert.Equal(t, "0", byTrain["RTD"].Status)
}

func TestApplyDuplicateDropped(t *testing.T) {
	st, m := newTestStore(t)

	st.Apply(testTrain("2240", "RTD", testTime), testTime)
	result := st.Apply(testTrain("2240", "RTD", testTime), testTime)

	assert.Equal(t, Duplicate, result)
	assert.EqualValues(t, 1, counter(t, m, metrics.CounterDuplicates))
	assert.EqualValues(t, 0, counter(t, m, metrics.CounterStale))
}

func TestApplyStaleDropped(t *testing.T) {
	st, m := newTestStore(t)

	current := testTrain("2240", "RTD", testTime)
	current.Status = "2"
	st.Apply(current, testTime)

	stale := testTrain("2240", "RTD", testTime.Add(-time.Minute))
	stale.Status = "0"
	result := st.Apply(stale, testTime)

	assert.Equal(t, Stale, result)
	assert.EqualValues(t, 1, counter(t, m, metrics.CounterStale))

	// The stored record is untouched.
	byStation, _ := st.Station("RTD")
	assert.Equal(t, "2", byStation["2240"].Status)
	byTrain, _ := st.Train("2240")
	assert.Equal(t, "2", byTrain["RTD"].Status)
}

func TestApplyDepartedInstallsUnconditionally(t *testing.T) {
	st, _ := newTestStore(t)

	st.Apply(testTrain("2240", "RTD", testTime), testTime)

	// A departure confirmation with an older timestamp still wins: losing it
	// would leave a ghost train on the board forever.
	departed := testTrain("2240", "RTD", testTime.Add(-time.Minute))
	departed.Status = model.StatusDeparted
	assert.Equal(t, Applied, st.Apply(departed, testTime))

	byStation, _ := st.Station("RTD")
	require.Contains(t, byStation, "2240")
	assert.True(t, byStation["2240"].IsDeparted())
	require.NotNil(t, byStation["2240"].DepartedAt)
	assert.Equal(t, testTime, *byStation["2240"].DepartedAt)

	byTrain, _ := st.Train("2240")
	assert.True(t, byTrain["RTD"].IsDeparted())
}

func TestApplySameTripDifferentStations(t *testing.T) {
	st, _ := newTestStore(t)

	st.Apply(testTrain("2240", "RTD", testTime), testTime)
	st.Apply(testTrain("2240", "GV", testTime), testTime)

	byTrain, ok := st.Train("2240")
	require.True(t, ok)
	assert.Len(t, byTrain, 2)
	assert.Equal(t, 2, st.CountStations())
	assert.Equal(t, 1, st.CountTrains())
}

func TestInjectOverwrites(t *testing.T) {
	st, _ := newTestStore(t)

	st.Apply(testTrain("2240", "RTD", testTime), testTime)

	injected := testTrain("2240", "RTD", testTime.Add(-time.Hour))
	injected.Synthetic = true
	st.Inject(injected)

	byStation, _ := st.Station("RTD")
	assert.True(t, byStation["2240"].Synthetic)
}

func TestReadsReturnClones(t *testing.T) {
	st, _ := newTestStore(t)
	st.Apply(testTrain("2240", "RTD", testTime), testTime)

	byStation, _ := st.Station("RTD")
	byStation["2240"].Status = "corrupted"

	again, _ := st.Station("RTD")
	assert.Equal(t, "2", again["2240"].Status)
}

func TestStationUnknown(t *testing.T) {
	st, _ := newTestStore(t)
	_, ok := st.Station("XXX")
	assert.False(t, ok)
	_, ok = st.Train("999")
	assert.False(t, ok)
}

// ── garbage collection ────────────────────────────────────────────────────

func gcPolicy() GCPolicy {
	return GCPolicy{
		Threshold:         10 * time.Minute,
		ThresholdStatic:   0,
		ThresholdDeparted: 2 * time.Hour,
	}
}

func TestSweepMarksOverdueTrain(t *testing.T) {
	st, m := newTestStore(t)

	train := testTrain("2240", "RTD", testTime)
	train.CurrentDeparture = testTime
	st.Apply(train, testTime)

	// Not yet overdue: departure + threshold is in the future.
	now := testTime.Add(5 * time.Minute)
	stats := st.SweepStations(now, gcPolicy())
	assert.Zero(t, stats.Marked)

	// Past the margin without a confirmation: marked departed.
	now = testTime.Add(11 * time.Minute)
	stats = st.SweepStations(now, gcPolicy())
	assert.Equal(t, 1, stats.Marked)
	assert.EqualValues(t, 1, counter(t, m, metrics.CounterGCStation))

	byStation, _ := st.Station("RTD")
	require.Contains(t, byStation, "2240")
	assert.True(t, byStation["2240"].IsDeparted())
	require.NotNil(t, byStation["2240"].DepartedAt)

	// The train index has its own copy and its own counter.
	stats = st.SweepTrains(now, gcPolicy())
	assert.Equal(t, 1, stats.Marked)
	assert.EqualValues(t, 1, counter(t, m, metrics.CounterGCTrain))
}

func TestSweepSyntheticUsesStaticThreshold(t *testing.T) {
	st, m := newTestStore(t)

	train := testTrain("i123", "RTD", testTime)
	train.Synthetic = true
	train.CurrentDeparture = testTime
	st.Inject(train)

	// ThresholdStatic is zero: gone the moment the departure passes, and no
	// counter because an expiring injection is expected.
	stats := st.SweepStations(testTime.Add(time.Second), gcPolicy())
	assert.Equal(t, 1, stats.Marked)
	assert.EqualValues(t, 0, counter(t, m, metrics.CounterGCStation))
}

func TestSweepCancelledNotCounted(t *testing.T) {
	st, m := newTestStore(t)

	train := testTrain("2240", "RTD", testTime)
	train.CurrentDeparture = testTime
	train.Modifications = []model.Modification{{Kind: model.ModCancelled}}
	st.Apply(train, testTime)

	stats := st.SweepStations(testTime.Add(11*time.Minute), gcPolicy())
	assert.Equal(t, 1, stats.Marked)
	assert.EqualValues(t, 0, counter(t, m, metrics.CounterGCStation))
}

func TestSweepEvictsDepartedAfterRetention(t *testing.T) {
	st, _ := newTestStore(t)

	train := testTrain("2240", "RTD", testTime)
	train.Status = model.StatusDeparted
	st.Apply(train, testTime)

	// Inside the retention window: kept.
	stats := st.SweepStations(testTime.Add(time.Hour), gcPolicy())
	assert.Zero(t, stats.Evicted)
	_, ok := st.Station("RTD")
	assert.True(t, ok)

	// Past it: evicted from both indices.
	stats = st.SweepStations(testTime.Add(3*time.Hour), gcPolicy())
	assert.Equal(t, 1, stats.Evicted)
	_, ok = st.Station("RTD")
	if ok {
		byStation, _ := st.Station("RTD")
		assert.NotContains(t, byStation, "2240")
	}
	_, ok = st.Train("2240")
	assert.False(t, ok, "cross-removal must clear the train index")
}

func TestSweepTrainsEvictsAndDropsEmptyBucket(t *testing.T) {
	st, _ := newTestStore(t)

	train := testTrain("2240", "RTD", testTime)
	train.Status = model.StatusDeparted
	st.Apply(train, testTime)

	stats := st.SweepTrains(testTime.Add(3*time.Hour), gcPolicy())
	assert.Equal(t, 1, stats.Evicted)
	assert.Equal(t, 0, st.CountTrains())

	byStation, ok := st.Station("RTD")
	if ok {
		assert.NotContains(t, byStation, "2240", "cross-removal must clear the station index")
	}
}

func TestSweepKeepDepartures(t *testing.T) {
	st, _ := newTestStore(t)

	train := testTrain("2240", "RTD", testTime)
	train.Status = model.StatusDeparted
	st.Apply(train, testTime)

	policy := gcPolicy()
	policy.KeepDepartures = true

	stats := st.SweepStations(testTime.Add(24*time.Hour), policy)
	assert.Zero(t, stats.Evicted)

	byStation, ok := st.Station("RTD")
	require.True(t, ok)
	assert.Contains(t, byStation, "2240")
}

func TestSweepStampsRestoredDepartures(t *testing.T) {
	st, _ := newTestStore(t)

	// A departed train restored from a snapshot may carry no stamp; the first
	// sweep starts its retention window instead of evicting immediately.
	train := testTrain("2240", "RTD", testTime)
	train.Status = model.StatusDeparted
	st.RestoreStations(map[string]map[string]*model.Train{
		"RTD": {"2240": train},
	})

	now := testTime.Add(30 * time.Minute)
	stats := st.SweepStations(now, gcPolicy())
	assert.Zero(t, stats.Evicted)

	byStation, _ := st.Station("RTD")
	require.NotNil(t, byStation["2240"].DepartedAt)
	assert.Equal(t, now, *byStation["2240"].DepartedAt)
}

func TestRestoreRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	st.Apply(testTrain("2240", "RTD", testTime), testTime)
	st.Apply(testTrain("2240", "GV", testTime), testTime)

	other, _ := newTestStore(t)
	other.RestoreStations(st.DumpStations())
	other.RestoreTrains(st.DumpTrains())

	assert.Equal(t, st.CountStations(), other.CountStations())
	assert.Equal(t, st.CountTrains(), other.CountTrains())

	byTrain, ok := other.Train("2240")
	require.True(t, ok)
	assert.Len(t, byTrain, 2)
}
