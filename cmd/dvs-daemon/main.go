// dvs-daemon ingests the real-time departure feed, keeps the departure store,
// and serves client queries and injections.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/config"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/health"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/ingest"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/injector"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/lifecycle"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/metrics"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/model"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/server"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/snapshot"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/store"
	"github.com/rijdendetreinen/rdt-infoplus-dvs/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config/dvs-server.yaml", "path to the configuration file")
	loadStations := flag.String("load-stations", "", "prime the station index from a snapshot file")
	loadTrains := flag.String("load-trains", "", "prime the train index from a snapshot file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("cannot load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	if cfg.Telemetry.OTLPEndpoint != "" {
		exporter, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			logger.Fatal("cannot initialize telemetry", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := exporter.Shutdown(shutdownCtx); err != nil {
				logger.Error("telemetry shutdown", zap.Error(err))
			}
		}()
		if err := m.InstrumentOTel(exporter.Meter()); err != nil {
			logger.Fatal("cannot instrument counters", zap.Error(err))
		}
	}

	st := store.New(m, logger)
	detector := health.NewDetector(
		cfg.DowntimeDetection.CountTimeWindow,
		cfg.DowntimeDetection.CountThreshold,
		cfg.RecoveryTime(),
		logger)

	var persister *snapshot.Persister
	if cfg.Snapshot.Directory != "" {
		persister = snapshot.New(cfg.Snapshot.Directory, logger)
		if err := persister.Restore(st); err != nil {
			logger.Error("cannot restore snapshot", zap.Error(err))
		}
	}
	primeIndex(logger, *loadStations, st.RestoreStations)
	primeIndex(logger, *loadTrains, st.RestoreTrains)

	conn, err := nats.Connect(cfg.Bindings.DVSServer,
		nats.Name("dvs-daemon"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		logger.Fatal("cannot connect to NATS", zap.Error(err), zap.String("url", cfg.Bindings.DVSServer))
	}
	defer conn.Close()

	pipeline := ingest.New(conn, cfg.ZMQ.Envelope, cfg.Ingest.QueueSize, st, m, logger)
	if err := pipeline.Start(ctx); err != nil {
		logger.Fatal("cannot start feed pipeline", zap.Error(err))
	}

	srv := server.New(conn, cfg.Bindings.ClientServer, st, m, detector, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("cannot start query server", zap.Error(err))
	}

	inj := injector.New(conn, cfg.Bindings.InjectorServer, st, m, logger)
	if err := inj.Start(ctx); err != nil {
		logger.Fatal("cannot start injector", zap.Error(err))
	}

	policy := store.GCPolicy{
		Threshold:         cfg.GCThreshold(),
		ThresholdStatic:   cfg.GCThresholdStatic(),
		ThresholdDeparted: cfg.GCThresholdDeparted(),
		KeepDepartures:    cfg.Debug.KeepDepartures,
	}
	engine := lifecycle.New(st, m, detector, policy, logger)
	// One immediate pass clears anything that expired while we were down.
	engine.Tick(time.Now().UTC())
	engine.Start(ctx)

	logger.Info("dvs-daemon running",
		zap.String("feed", cfg.ZMQ.Envelope),
		zap.String("client_subject", cfg.Bindings.ClientServer),
		zap.String("injector_subject", cfg.Bindings.InjectorServer),
		zap.Int("stations", st.CountStations()),
		zap.Int("trains", st.CountTrains()))

	<-ctx.Done()
	logger.Info("shutting down")

	if persister != nil {
		if err := persister.Save(st); err != nil {
			logger.Error("cannot save snapshot", zap.Error(err))
		}
	}
}

// primeIndex loads one index file given on the command line. The flags
// override whatever the snapshot directory restored.
func primeIndex(logger *zap.Logger, path string, restore func(map[string]map[string]*model.Train)) {
	if path == "" {
		return
	}
	index, err := snapshot.LoadIndex(path)
	if err != nil {
		logger.Fatal("cannot load index file", zap.String("path", path), zap.Error(err))
	}
	restore(index)
	logger.Info("index primed from file", zap.String("path", path), zap.Int("keys", len(index)))
}
