// Package server answers client queries over a request/reply subject.
//
// Commands are ASCII path strings ("station/RTD", "count/msg", "status");
// every command produces exactly one JSON reply. Unknown commands and
// internal failures reply null — clients treat null as "no data".
package server

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/health"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/metrics"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/model"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/store"
)

var nullReply = []byte("null")

// Server is the client query endpoint.
type Server struct {
	subject  string
	conn     *nats.Conn
	store    *store.Store
	metrics  *metrics.Metrics
	detector *health.Detector
	logger   *zap.Logger
}

// New constructs a Server.
func New(conn *nats.Conn, subject string, st *store.Store, m *metrics.Metrics, d *health.Detector, logger *zap.Logger) *Server {
	return &Server{
		subject:  subject,
		conn:     conn,
		store:    st,
		metrics:  m,
		detector: d,
		logger:   logger,
	}
}

// Start subscribes to the query subject. NATS dispatches the handler
// sequentially per subscription, so the server is single-threaded by
// construction.
func (s *Server) Start(ctx context.Context) error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		reply := s.Handle(string(msg.Data))
		if err := msg.Respond(reply); err != nil {
			s.logger.Error("cannot send client reply", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	s.logger.Info("query server listening", zap.String("subject", s.subject))

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("query server unsubscribe", zap.Error(err))
		}
	}()
	return nil
}

// dataReply is the envelope for station and train queries: the system status
// travels with every data reply so clients can judge freshness.
type dataReply struct {
	Status health.Status           `json:"status"`
	Data   map[string]*model.Train `json:"data"`
}

// Handle executes one command and returns the JSON reply.
func (s *Server) Handle(command string) []byte {
	parts := strings.Split(command, "/")

	switch {
	case parts[0] == "station" && len(parts) == 2:
		code := strings.ToUpper(parts[1])
		bucket, ok := s.store.Station(code)
		if !ok {
			return s.marshal(struct{}{})
		}
		return s.marshal(dataReply{Status: s.detector.Current(), Data: bucket})

	case parts[0] == "trein" && len(parts) == 2:
		bucket, ok := s.store.Train(parts[1])
		if !ok {
			return s.marshal(struct{}{})
		}
		return s.marshal(dataReply{Status: s.detector.Current(), Data: bucket})

	case parts[0] == "store" && len(parts) == 2:
		switch parts[1] {
		case "trein":
			return s.marshal(s.store.DumpTrains())
		case "station":
			return s.marshal(s.store.DumpStations())
		}
		return nullReply

	case parts[0] == "count" && len(parts) == 2:
		switch parts[1] {
		case "trein":
			return s.marshal(s.store.CountTrains())
		case "station":
			return s.marshal(s.store.CountStations())
		}
		if value, ok := s.metrics.Get(parts[1]); ok {
			return s.marshal(value)
		}
		return nullReply

	case parts[0] == "status":
		if len(parts) == 2 && parts[1] == "status" {
			return s.marshal(s.detector.Current().Status)
		}
		return s.marshal(s.detector.Current())
	}

	return nullReply
}

func (s *Server) marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("cannot marshal client reply", zap.Error(err))
		return nullReply
	}
	return data
}
