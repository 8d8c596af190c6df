// Package injector serves the administrative injection channel: a
// request/reply subject that accepts a JSON description of one train and
// installs it in the store as a synthetic departure.
//
// Synthetic trains exist for services the feed does not cover (charters,
// museum lines, replacement services announced out of band). They are
// garbage-collected as soon as their departure time passes.
package injector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/metrics"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/model"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/store"
)

// syntheticPrefix reserves a trip-id key space that can never collide with
// feed-assigned train numbers, which are purely numeric.
const syntheticPrefix = "i"

// Request is the injection payload.
type Request struct {
	ServiceID      json.Number `json:"service_id"`
	ServiceNumber  int         `json:"service_number"`
	ServiceDate    string      `json:"service_date"`
	StopCode       string      `json:"stop_code"`
	TransmodeText  string      `json:"transmode_text"`
	TransmodeCode  string      `json:"transmode_code"`
	Company        string      `json:"company"`
	Departure      string      `json:"departure"`
	DepartureDelay int         `json:"departure_delay"` // minutes, optional
	Platform       string      `json:"platform"`
	DestCode       string      `json:"destination_code"`
	DestText       string      `json:"destination_text"`
	Stops          [][]string  `json:"stops"`
	Via            [][]string  `json:"via"`
	DoNotBoard     bool        `json:"do_not_board"`
	Cancelled      bool        `json:"cancelled"`
}

// Response is the injection reply.
type Response struct {
	Result bool   `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Injector is the injection endpoint.
type Injector struct {
	subject string
	conn    *nats.Conn
	store   *store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New constructs an Injector.
func New(conn *nats.Conn, subject string, st *store.Store, m *metrics.Metrics, logger *zap.Logger) *Injector {
	return &Injector{
		subject: subject,
		conn:    conn,
		store:   st,
		metrics: m,
		logger:  logger,
	}
}

// Start subscribes to the injection subject until ctx is cancelled.
func (i *Injector) Start(ctx context.Context) error {
	sub, err := i.conn.Subscribe(i.subject, func(msg *nats.Msg) {
		reply := i.Handle(msg.Data)
		if err := msg.Respond(reply); err != nil {
			i.logger.Error("cannot send injection reply", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	i.logger.Info("injector listening", zap.String("subject", i.subject))

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			i.logger.Debug("injector unsubscribe", zap.Error(err))
		}
	}()
	return nil
}

// Handle processes one injection request and returns the JSON reply.
func (i *Injector) Handle(payload []byte) []byte {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		i.logger.Error("malformed injection request", zap.Error(err))
		return i.reply(Response{Result: false, Error: fmt.Sprintf("invalid JSON: %v", err)})
	}

	i.logger.Debug("injection received", zap.ByteString("request", payload))
	i.metrics.IncInjections()

	train, err := BuildTrain(req, time.Now().UTC())
	if err != nil {
		i.logger.Error("cannot process injection", zap.Error(err))
		return i.reply(Response{Result: false, Error: err.Error()})
	}

	i.store.Inject(train)

	i.logger.Info("train injected",
		zap.String("trip", train.TripID),
		zap.String("station", train.TripStation.Code),
		zap.Time("departure", train.CurrentDeparture))

	return i.reply(Response{Result: true})
}

func (i *Injector) reply(r Response) []byte {
	data, err := json.Marshal(r)
	if err != nil {
		i.logger.Error("cannot marshal injection reply", zap.Error(err))
		return []byte(`{"result":false,"error":"internal error"}`)
	}
	return data
}

// BuildTrain synthesizes a Train from an injection request. now becomes the
// message timestamp, so a re-injection always wins from the stored record.
func BuildTrain(req Request, now time.Time) (*model.Train, error) {
	if req.StopCode == "" {
		return nil, fmt.Errorf("stop_code is required")
	}
	if req.DestCode == "" {
		return nil, fmt.Errorf("destination_code is required")
	}

	departure, err := time.Parse(time.RFC3339, req.Departure)
	if err != nil {
		return nil, fmt.Errorf("invalid departure %q: %v", req.Departure, err)
	}
	departure = departure.UTC()

	// Pure synthetics (no real service number) get the reserved prefix;
	// everything else keys on the service number like a feed train would.
	var tripID string
	if req.ServiceNumber == 0 {
		if req.ServiceID.String() == "" {
			return nil, fmt.Errorf("service_id is required when service_number is 0")
		}
		tripID = syntheticPrefix + req.ServiceID.String()
	} else {
		tripID = strconv.Itoa(req.ServiceNumber)
	}

	destination := model.NewStation(req.DestCode, req.DestText)

	train := &model.Train{
		TripID:              tripID,
		TripStation:         model.NewStation(strings.ToUpper(req.StopCode), ""),
		TripDate:            req.ServiceDate,
		MessageTimestamp:    now,
		TrainNumber:         strconv.Itoa(req.ServiceNumber),
		Kind:                model.TransportKind{Code: req.TransmodeCode, Name: req.TransmodeText},
		Carrier:             req.Company,
		Status:              "0",
		PlannedDeparture:    departure,
		CurrentDeparture:    departure,
		PlannedDestinations: []model.Station{destination},
		CurrentDestinations: []model.Station{destination},
		DoNotBoard:          req.DoNotBoard,
		Synthetic:           true,
	}

	if req.DepartureDelay > 0 {
		train.CurrentDeparture = departure.Add(time.Duration(req.DepartureDelay) * time.Minute)
		train.ExactDelay = req.DepartureDelay * 60
		train.DampedDelay = train.ExactDelay
	}

	if req.Platform != "" {
		platform := model.Platform{Number: req.Platform}
		train.PlannedPlatforms = []model.Platform{platform}
		train.CurrentPlatforms = []model.Platform{platform}
	}

	wing := model.Wing{
		PlannedDestination: &destination,
		CurrentDestination: &destination,
	}
	for _, stop := range req.Stops {
		if len(stop) < 2 {
			return nil, fmt.Errorf("invalid stop entry %v: want [code, name]", stop)
		}
		wing.PlannedStops = append(wing.PlannedStops, model.NewStation(stop[0], stop[1]))
	}
	wing.CurrentStops = wing.PlannedStops
	train.Wings = []model.Wing{wing}

	for _, via := range req.Via {
		if len(via) < 2 {
			return nil, fmt.Errorf("invalid via entry %v: want [code, name]", via)
		}
		train.PlannedShortRoute = append(train.PlannedShortRoute, model.NewStation(via[0], via[1]))
	}
	train.CurrentShortRoute = train.PlannedShortRoute

	if req.Cancelled {
		train.Modifications = append(train.Modifications, model.Modification{Kind: model.ModCancelled})
	}

	return train, nil
}
