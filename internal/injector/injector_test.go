package injector

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/metrics"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/model"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/store"
)

var testNow = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func validRequest() Request {
	return Request{
		ServiceID:     "4321",
		ServiceNumber: 0,
		ServiceDate:   "2026-08-24",
		StopCode:      "rtd",
		TransmodeCode: "IC",
		TransmodeText: "Intercity",
		Company:       "NS",
		Departure:     "2026-08-24T12:30:00+02:00",
		DestCode:      "GVC",
		DestText:      "Den Haag Centraal",
		Stops:         [][]string{{"DT", "Delft"}, {"GV", "Den Haag HS"}},
	}
}

func TestBuildTrainSynthetic(t *testing.T) {
	train, err := BuildTrain(validRequest(), testNow)
	require.NoError(t, err)

	assert.Equal(t, "i4321", train.TripID)
	assert.Equal(t, "0", train.TrainNumber)
	assert.Equal(t, "RTD", train.TripStation.Code)
	assert.Equal(t, "2026-08-24", train.TripDate)
	assert.Equal(t, testNow, train.MessageTimestamp)
	assert.Equal(t, "0", train.Status)
	assert.True(t, train.Synthetic)
	assert.False(t, train.IsCancelled())

	departure := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, departure, train.PlannedDeparture)
	assert.Equal(t, departure, train.CurrentDeparture)
	assert.Zero(t, train.ExactDelay)

	require.Len(t, train.CurrentDestinations, 1)
	assert.Equal(t, "GVC", train.CurrentDestinations[0].Code)
	assert.Equal(t, "Den Haag Centraal", train.CurrentDestinations[0].LongName)

	require.Len(t, train.Wings, 1)
	wing := train.Wings[0]
	require.NotNil(t, wing.CurrentDestination)
	assert.Equal(t, "GVC", wing.CurrentDestination.Code)
	require.Len(t, wing.CurrentStops, 2)
	assert.Equal(t, "DT", wing.CurrentStops[0].Code)
	assert.Equal(t, "Delft", wing.CurrentStops[0].LongName)
}

func TestBuildTrainWithServiceNumber(t *testing.T) {
	req := validRequest()
	req.ServiceNumber = 2240

	train, err := BuildTrain(req, testNow)
	require.NoError(t, err)
	assert.Equal(t, "2240", train.TripID)
	assert.Equal(t, "2240", train.TrainNumber)
}

func TestBuildTrainDelay(t *testing.T) {
	req := validRequest()
	req.DepartureDelay = 5

	train, err := BuildTrain(req, testNow)
	require.NoError(t, err)

	planned := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, planned, train.PlannedDeparture)
	assert.Equal(t, planned.Add(5*time.Minute), train.CurrentDeparture)
	assert.Equal(t, 300, train.ExactDelay)
	assert.Equal(t, 300, train.DampedDelay)
}

func TestBuildTrainCancelled(t *testing.T) {
	req := validRequest()
	req.Cancelled = true

	train, err := BuildTrain(req, testNow)
	require.NoError(t, err)
	assert.True(t, train.IsCancelled())
}

func TestBuildTrainPlatformAndVia(t *testing.T) {
	req := validRequest()
	req.Platform = "12"
	req.Via = [][]string{{"DT", "Delft"}}

	train, err := BuildTrain(req, testNow)
	require.NoError(t, err)

	assert.Equal(t, []model.Platform{{Number: "12"}}, train.CurrentPlatforms)
	assert.False(t, train.PlatformChanged())
	require.Len(t, train.CurrentShortRoute, 1)
	assert.Equal(t, "DT", train.CurrentShortRoute[0].Code)
}

func TestBuildTrainValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing stop_code", func(r *Request) { r.StopCode = "" }},
		{"missing destination", func(r *Request) { r.DestCode = "" }},
		{"bad departure", func(r *Request) { r.Departure = "tomorrow-ish" }},
		{"no id for synthetic", func(r *Request) { r.ServiceID = ""; r.ServiceNumber = 0 }},
		{"bad stop entry", func(r *Request) { r.Stops = [][]string{{"DT"}} }},
		{"bad via entry", func(r *Request) { r.Via = [][]string{{"DT"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := BuildTrain(req, testNow)
			require.Error(t, err)
		})
	}
}

func TestHandleInjectsIntoStore(t *testing.T) {
	logger := zaptest.NewLogger(t)
	m := metrics.New()
	st := store.New(m, logger)
	inj := New(nil, "dvs.injector", st, m, logger)

	payload, err := json.Marshal(validRequest())
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(inj.Handle(payload), &resp))
	assert.True(t, resp.Result)
	assert.Empty(t, resp.Error)

	injections, _ := m.Get(metrics.CounterInjections)
	assert.EqualValues(t, 1, injections)

	bucket, ok := st.Station("RTD")
	require.True(t, ok)
	require.Contains(t, bucket, "i4321")
	assert.True(t, bucket["i4321"].Synthetic)
}

func TestHandleInvalidJSON(t *testing.T) {
	logger := zaptest.NewLogger(t)
	m := metrics.New()
	st := store.New(m, logger)
	inj := New(nil, "dvs.injector", st, m, logger)

	var resp Response
	require.NoError(t, json.Unmarshal(inj.Handle([]byte("not json")), &resp))
	assert.False(t, resp.Result)
	assert.NotEmpty(t, resp.Error)

	// Malformed JSON never counts as a received injection.
	injections, _ := m.Get(metrics.CounterInjections)
	assert.EqualValues(t, 0, injections)
}

func TestHandleBuildError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	m := metrics.New()
	st := store.New(m, logger)
	inj := New(nil, "dvs.injector", st, m, logger)

	req := validRequest()
	req.StopCode = ""
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(inj.Handle(payload), &resp))
	assert.False(t, resp.Result)
	assert.NotEmpty(t, resp.Error)

	// The request itself was well-formed, so it counts.
	injections, _ := m.Get(metrics.CounterInjections)
	assert.EqualValues(t, 1, injections)

	assert.Equal(t, 0, st.CountTrains())
}
