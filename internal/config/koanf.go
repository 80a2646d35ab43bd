// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"daqwatch.yaml",
	"daqwatch.yml",
	"/etc/daqwatch/config.yaml",
	"/etc/daqwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Supervision: SupervisionConfig{
			ScanInterval:     10 * time.Second,
			InitialDelay:     120 * time.Second,
			GuardWindow:      9 * time.Second,
			WarningThreshold: 50,
			SwitchOffTicks:   60,
			MaxSignalAge:     2 * time.Minute,
			SkewTolerance:    time.Second,
			LockTimeout:      30 * time.Second,
		},
		Buffer: BufferConfig{
			MinWindow:     200 * time.Millisecond,
			MaxDelay:      time.Second,
			HighWaterMark: 100,
			Capacity:      0,
			Overflow:      "drop_oldest",
		},
		Sender: SenderConfig{
			ProcessID:      1,
			ProcessName:    "P_DAQ01",
			AliveTagID:     1221,
			AliveInterval:  10 * time.Second,
			MaxMessageSize: 100,
			SendTimeout:    10 * time.Second,
		},
		Cluster: ClusterConfig{
			Backend:      "memory",
			Bucket:       "daqwatch-cluster",
			StoreTimeout: 5 * time.Second,
			LeaseTTL:     30 * time.Second,
			PollInterval: 100 * time.Millisecond,
		},
		NATS: NATSConfig{
			URL:                "nats://127.0.0.1:4222",
			EmbeddedServer:     true,
			ListenHost:         "127.0.0.1",
			ListenPort:         4222,
			StoreDir:           "/data/daqwatch/jetstream",
			MaxReconnects:      -1,
			ReconnectWait:      2 * time.Second,
			ValuesSubject:      "daq.values",
			EventsSubject:      "supervision.events",
			HeartbeatSubject:   "supervision.heartbeat",
			QueueGroup:         "daqwatch-server",
			SubscribersCount:   4,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		WAL: WALConfig{
			Enabled:       false,
			Path:          "/data/daqwatch/wal",
			SyncWrites:    true,
			RetryInterval: 30 * time.Second,
			MaxRetries:    100,
			RetryBackoff:  5 * time.Second,
			EntryTTL:      24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Address:         ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5.0,
			FailureDecay:     30.0,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Topology: TopologyConfig{
			Processes: []ProcessConfig{{
				ID:            1,
				Name:          "P_DAQ01",
				AliveTagID:    1221,
				AliveInterval: 10 * time.Second,
				StateTagID:    1222,
				Equipment: []EquipmentConfig{{
					ID:             100,
					Name:           "E_DAQ01_PLC",
					AliveTagID:     1300,
					AliveInterval:  30 * time.Second,
					StateTagID:     1301,
					CommFaultTagID: 330,
					SubEquipment: []SubEquipmentConfig{{
						ID:             101,
						Name:           "SE_DAQ01_PLC_IO",
						AliveTagID:     1310,
						AliveInterval:  30 * time.Second,
						StateTagID:     1311,
						CommFaultTagID: 331,
					}},
				}},
			}},
		},
	}
}

// Load builds the configuration from three layers:
//
//  1. built-in defaults
//  2. an optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. environment variables listed in envMappings
//
// The result is validated before it is returned.
func Load() (*Config, error) {
	return load(findConfigFile())
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unlisted variables are ignored so the process environment cannot leak
// into the configuration.
var envMappings = map[string]string{
	"node_id": "node_id",

	"supervision_scan_interval":     "supervision.scan_interval",
	"supervision_initial_delay":     "supervision.initial_delay",
	"supervision_guard_window":      "supervision.guard_window",
	"supervision_warning_threshold": "supervision.warning_threshold",
	"supervision_switch_off_ticks":  "supervision.switch_off_ticks",
	"supervision_max_signal_age":    "supervision.max_signal_age",
	"supervision_skew_tolerance":    "supervision.skew_tolerance",
	"supervision_lock_timeout":      "supervision.lock_timeout",

	"buffer_min_window":      "buffer.min_window",
	"buffer_max_delay":       "buffer.max_delay",
	"buffer_high_water_mark": "buffer.high_water_mark",
	"buffer_capacity":        "buffer.capacity",
	"buffer_overflow":        "buffer.overflow",

	"daq_process_id":       "sender.process_id",
	"daq_process_name":     "sender.process_name",
	"daq_alive_tag_id":     "sender.alive_tag_id",
	"daq_alive_interval":   "sender.alive_interval",
	"daq_max_message_size": "sender.max_message_size",
	"daq_send_timeout":     "sender.send_timeout",

	"cluster_backend":       "cluster.backend",
	"cluster_bucket":        "cluster.bucket",
	"cluster_lease_ttl":     "cluster.lease_ttl",
	"cluster_poll_interval": "cluster.poll_interval",
	"cluster_store_timeout": "cluster.store_timeout",

	"nats_url":               "nats.url",
	"nats_embedded":          "nats.embedded_server",
	"nats_listen_host":       "nats.listen_host",
	"nats_listen_port":       "nats.listen_port",
	"nats_store_dir":         "nats.store_dir",
	"nats_max_reconnects":    "nats.max_reconnects",
	"nats_reconnect_wait":    "nats.reconnect_wait",
	"nats_values_subject":    "nats.values_subject",
	"nats_events_subject":    "nats.events_subject",
	"nats_heartbeat_subject": "nats.heartbeat_subject",
	"nats_queue_group":       "nats.queue_group",
	"nats_subscribers":       "nats.subscribers_count",
	"nats_breaker_failures":  "nats.breaker_max_failures",
	"nats_breaker_timeout":   "nats.breaker_timeout",

	"wal_enabled":        "wal.enabled",
	"wal_path":           "wal.path",
	"wal_sync_writes":    "wal.sync_writes",
	"wal_retry_interval": "wal.retry_interval",
	"wal_max_retries":    "wal.max_retries",
	"wal_retry_backoff":  "wal.retry_backoff",
	"wal_entry_ttl":      "wal.entry_ttl",

	"http_enabled":          "http.enabled",
	"http_address":          "http.address",
	"http_read_timeout":     "http.read_timeout",
	"http_write_timeout":    "http.write_timeout",
	"http_shutdown_timeout": "http.shutdown_timeout",

	"heartbeat_enabled":  "heartbeat.enabled",
	"heartbeat_interval": "heartbeat.interval",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps DAQ_ALIVE_INTERVAL to sender.alive_interval and so
// on. An empty return tells koanf to skip the variable.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
