package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var start = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

// feed advances the detector one minute per sample, like the lifecycle
// engine does, and returns the time of the last sample.
func feed(d *Detector, from time.Time, totals ...int64) time.Time {
	now := from
	for _, total := range totals {
		now = now.Add(time.Minute)
		d.Observe(total, now)
	}
	return now
}

func TestDetectorWarmup(t *testing.T) {
	d := NewDetector(3, 1, time.Hour, zaptest.NewLogger(t))

	assert.Equal(t, StatusUnknown, d.Current().Status)
	assert.Nil(t, d.Current().DownSince)

	// Too few samples to judge: stays UNKNOWN but the outage clock starts.
	feed(d, start, 10, 20)
	status := d.Current()
	assert.Equal(t, StatusUnknown, status.Status)
	require.NotNil(t, status.DownSince)
	assert.Nil(t, status.RecoveringSince)
}

func TestDetectorDownOnSilence(t *testing.T) {
	d := NewDetector(3, 1, time.Hour, zaptest.NewLogger(t))

	// The counter never moves: once the window is full, DOWN.
	feed(d, start, 100, 100, 100)
	status := d.Current()
	assert.Equal(t, StatusDown, status.Status)
	require.NotNil(t, status.DownSince)
}

func TestDetectorRecoversThenUp(t *testing.T) {
	recovery := 10 * time.Minute
	d := NewDetector(2, 1, recovery, zaptest.NewLogger(t))

	// Down first.
	now := feed(d, start, 100, 100, 100)
	require.Equal(t, StatusDown, d.Current().Status)

	// Messages flow again: RECOVERING, with the stamp set.
	now = feed(d, now, 150)
	status := d.Current()
	require.Equal(t, StatusRecovering, status.Status)
	require.NotNil(t, status.RecoveringSince)
	require.NotNil(t, status.DownSince)

	// Healthy but inside the recovery window: still RECOVERING.
	now = feed(d, now, 200, 250)
	assert.Equal(t, StatusRecovering, d.Current().Status)

	// Past the window: UP, stamps cleared.
	feed(d, now, 300, 350, 400, 450, 500, 550, 600, 650)
	status = d.Current()
	assert.Equal(t, StatusUp, status.Status)
	assert.Nil(t, status.DownSince)
	assert.Nil(t, status.RecoveringSince)
}

func TestDetectorRelapseDuringRecovery(t *testing.T) {
	d := NewDetector(2, 1, time.Hour, zaptest.NewLogger(t))

	now := feed(d, start, 100, 100, 100)
	require.Equal(t, StatusDown, d.Current().Status)

	now = feed(d, now, 150)
	require.Equal(t, StatusRecovering, d.Current().Status)

	// Feed dies again before recovery completes: back to DOWN, recovery
	// stamp dropped, outage stamp preserved.
	downSince := *d.Current().DownSince
	feed(d, now, 150, 150)
	status := d.Current()
	assert.Equal(t, StatusDown, status.Status)
	assert.Nil(t, status.RecoveringSince)
	require.NotNil(t, status.DownSince)
	assert.Equal(t, downSince, *status.DownSince)
}

func TestDetectorThreshold(t *testing.T) {
	// threshold 5: four messages in the window is still DOWN.
	d := NewDetector(2, 5, time.Hour, zaptest.NewLogger(t))

	feed(d, start, 100, 104, 108)
	assert.Equal(t, StatusDown, d.Current().Status)

	// Five or more per window flips to RECOVERING.
	feed(d, start.Add(3*time.Minute), 113)
	assert.Equal(t, StatusRecovering, d.Current().Status)
}
