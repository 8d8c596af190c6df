// Package config loads the daemon configuration from a YAML file.
//
// The key names mirror the historical server configuration (including the
// "zmq" section name for the feed subscription filter) so that existing
// deployments keep working. Any error here is fatal at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for every tunable.
const (
	DefaultCountTimeWindow     = 10 // minutes of samples before judging
	DefaultCountThreshold      = 1  // minimum messages per window
	DefaultRecoveryTime        = 70 // minutes in RECOVERING before UP
	DefaultGCThreshold         = 10 // minutes past departure before marking
	DefaultGCThresholdStatic   = 0  // same, for injected trains
	DefaultGCThresholdDeparted = 120
	DefaultQueueSize           = 32768
)

// Config is the full daemon configuration.
type Config struct {
	Bindings struct {
		// DVSServer is the NATS server carrying the upstream feed.
		DVSServer string `yaml:"dvs_server"`
		// ClientServer is the request/reply subject served to clients.
		ClientServer string `yaml:"client_server"`
		// InjectorServer is the request/reply subject for injections.
		InjectorServer string `yaml:"injector_server"`
	} `yaml:"bindings"`

	ZMQ struct {
		// Envelope is the subscription filter for the feed subject.
		Envelope string `yaml:"envelope"`
	} `yaml:"zmq"`

	DowntimeDetection struct {
		CountTimeWindow int   `yaml:"count_time_window"`
		CountThreshold  int64 `yaml:"count_threshold"`
		RecoveryTime    int   `yaml:"recovery_time"`
	} `yaml:"downtime_detection"`

	GarbageCollection struct {
		GCThreshold         int `yaml:"gc_threshold"`
		GCThresholdStatic   int `yaml:"gc_threshold_static"`
		GCThresholdDeparted int `yaml:"gc_threshold_departed"`
	} `yaml:"garbage_collection"`

	Debug struct {
		KeepDepartures bool `yaml:"keep_departures"`
	} `yaml:"debug"`

	Ingest struct {
		QueueSize int `yaml:"queue_size"`
	} `yaml:"ingest"`

	Snapshot struct {
		Directory string `yaml:"directory"`
	} `yaml:"snapshot"`

	Telemetry struct {
		// OTLPEndpoint enables metric export when set (e.g. "jaeger:4317").
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Bindings.DVSServer == "" {
		return nil, fmt.Errorf("config %s: bindings.dvs_server is required", path)
	}
	if cfg.Bindings.ClientServer == "" {
		return nil, fmt.Errorf("config %s: bindings.client_server is required", path)
	}
	if cfg.Bindings.InjectorServer == "" {
		return nil, fmt.Errorf("config %s: bindings.injector_server is required", path)
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.DowntimeDetection.CountTimeWindow = DefaultCountTimeWindow
	cfg.DowntimeDetection.CountThreshold = DefaultCountThreshold
	cfg.DowntimeDetection.RecoveryTime = DefaultRecoveryTime
	cfg.GarbageCollection.GCThreshold = DefaultGCThreshold
	cfg.GarbageCollection.GCThresholdStatic = DefaultGCThresholdStatic
	cfg.GarbageCollection.GCThresholdDeparted = DefaultGCThresholdDeparted
	cfg.Ingest.QueueSize = DefaultQueueSize
	return cfg
}

// RecoveryTime returns the recovery window as a duration.
func (c *Config) RecoveryTime() time.Duration {
	return time.Duration(c.DowntimeDetection.RecoveryTime) * time.Minute
}

// GCThreshold returns the overdue margin for feed trains.
func (c *Config) GCThreshold() time.Duration {
	return time.Duration(c.GarbageCollection.GCThreshold) * time.Minute
}

// GCThresholdStatic returns the overdue margin for injected trains.
func (c *Config) GCThresholdStatic() time.Duration {
	return time.Duration(c.GarbageCollection.GCThresholdStatic) * time.Minute
}

// GCThresholdDeparted returns the retention window for departed trains.
func (c *Config) GCThresholdDeparted() time.Duration {
	return time.Duration(c.GarbageCollection.GCThresholdDeparted) * time.Minute
}
