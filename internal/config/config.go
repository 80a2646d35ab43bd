// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

// Package config loads DAQWatch configuration from defaults, an optional
// YAML file and the environment, in that order of precedence.
package config

import "time"

// Config is the root configuration shared by the server and DAQ binaries.
// Sections a binary does not use are loaded but ignored.
type Config struct {
	// NodeID identifies this cluster node in lock holders and logs.
	// Generated at startup when empty.
	NodeID string `koanf:"node_id"`

	Supervision SupervisionConfig `koanf:"supervision"`
	Buffer      BufferConfig      `koanf:"buffer"`
	Sender      SenderConfig      `koanf:"sender"`
	Cluster     ClusterConfig     `koanf:"cluster"`
	NATS        NATSConfig        `koanf:"nats"`
	WAL         WALConfig         `koanf:"wal"`
	HTTP        HTTPConfig        `koanf:"http"`
	Heartbeat   HeartbeatConfig   `koanf:"heartbeat"`
	Supervisor  SupervisorConfig  `koanf:"supervisor"`
	Logging     LoggingConfig     `koanf:"logging"`
	Topology    TopologyConfig    `koanf:"topology"`
}

// SupervisionConfig tunes the alive-timer checker and signal acceptance.
type SupervisionConfig struct {
	// ScanInterval is the checker period.
	ScanInterval time.Duration `koanf:"scan_interval" validate:"gt=0"`

	// InitialDelay lets in-flight alive signals arrive after a restart
	// before any timer is judged expired.
	InitialDelay time.Duration `koanf:"initial_delay" validate:"gte=0"`

	// GuardWindow is the minimum age of the shared last-check timestamp
	// before another node may scan. Must be shorter than ScanInterval.
	GuardWindow time.Duration `koanf:"guard_window" validate:"gt=0"`

	// WarningThreshold is the down-timer count above which the aggregate
	// health warning is raised.
	WarningThreshold int `koanf:"warning_threshold" validate:"gte=0"`

	// SwitchOffTicks is the number of consecutive ticks at or below the
	// threshold required to clear the warning.
	SwitchOffTicks int `koanf:"switch_off_ticks" validate:"gt=0"`

	// MaxSignalAge rejects alive signals older than this.
	MaxSignalAge time.Duration `koanf:"max_signal_age" validate:"gt=0"`

	// SkewTolerance is how far behind lastUpdate a signal may be and still
	// count as late rather than stale.
	SkewTolerance time.Duration `koanf:"skew_tolerance" validate:"gte=0"`

	// LockTimeout bounds cluster lock acquisition for one tick.
	LockTimeout time.Duration `koanf:"lock_timeout" validate:"gt=0"`
}

// BufferConfig tunes the outbound value buffers on the DAQ side.
type BufferConfig struct {
	MinWindow     time.Duration `koanf:"min_window" validate:"gte=0"`
	MaxDelay      time.Duration `koanf:"max_delay" validate:"gt=0"`
	HighWaterMark int           `koanf:"high_water_mark" validate:"gt=0"`

	// Capacity bounds the pending set; 0 is unbounded.
	Capacity int    `koanf:"capacity" validate:"gte=0"`
	Overflow string `koanf:"overflow" validate:"oneof=drop_oldest reject"`
}

// SenderConfig describes the DAQ process that owns the MessageSender.
type SenderConfig struct {
	ProcessID     int64         `koanf:"process_id" validate:"gt=0"`
	ProcessName   string        `koanf:"process_name" validate:"required"`
	AliveTagID    int64         `koanf:"alive_tag_id" validate:"gt=0"`
	AliveInterval time.Duration `koanf:"alive_interval" validate:"gt=0"`

	// MaxMessageSize is the largest number of values in one outbound update.
	MaxMessageSize int `koanf:"max_message_size" validate:"gt=0"`

	// SendTimeout bounds one distribution to all senders.
	SendTimeout time.Duration `koanf:"send_timeout" validate:"gt=0"`
}

// ClusterConfig selects the coordination backend for the scan lock and
// the supervision records.
type ClusterConfig struct {
	// Backend is memory (single node) or nats (JetStream key-value).
	Backend string `koanf:"backend" validate:"oneof=memory nats"`

	// Bucket is the JetStream KV bucket holding locks, shared values and
	// the alive timer and tag records.
	Bucket string `koanf:"bucket" validate:"required"`

	// StoreTimeout bounds one record read or write on the bucket. A read
	// that times out counts as not found.
	StoreTimeout time.Duration `koanf:"store_timeout" validate:"gt=0"`

	// LeaseTTL is how long a lock survives its holder's crash.
	LeaseTTL time.Duration `koanf:"lease_ttl" validate:"gt=0"`

	// PollInterval is the retry period while a lock is held elsewhere.
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
}

// NATSConfig configures the broker connection and subjects.
type NATSConfig struct {
	URL            string        `koanf:"url" validate:"required"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	ListenHost     string        `koanf:"listen_host"`
	ListenPort     int           `koanf:"listen_port" validate:"gte=-1,lte=65535"`
	StoreDir       string        `koanf:"store_dir"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait" validate:"gte=0"`

	ValuesSubject    string `koanf:"values_subject" validate:"required"`
	EventsSubject    string `koanf:"events_subject" validate:"required"`
	HeartbeatSubject string `koanf:"heartbeat_subject" validate:"required"`
	// QueueGroup shares the values subject among servers, so each value
	// is handled by one node. Empty delivers every value to every node.
	QueueGroup       string `koanf:"queue_group"`
	SubscribersCount int    `koanf:"subscribers_count" validate:"gt=0"`

	// Circuit breaker around outbound publishes.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures" validate:"gt=0"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// WALConfig configures the durable outbox for guaranteed-delivery batches.
type WALConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	SyncWrites    bool          `koanf:"sync_writes"`
	RetryInterval time.Duration `koanf:"retry_interval" validate:"gt=0"`
	MaxRetries    int           `koanf:"max_retries" validate:"gt=0"`
	RetryBackoff  time.Duration `koanf:"retry_backoff" validate:"gt=0"`
	EntryTTL      time.Duration `koanf:"entry_ttl" validate:"gt=0"`
}

// HTTPConfig configures the status and metrics endpoint.
type HTTPConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Address         string        `koanf:"address" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// HeartbeatConfig configures the server heartbeat sent to clients.
type HeartbeatConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

// SupervisorConfig holds suture tree restart parameters.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff" validate:"gt=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig mirrors logging.Config without the writer.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// TopologyConfig lists the supervised entities configured at startup. It
// is normally written in the YAML file; environment variables do not
// reach it.
type TopologyConfig struct {
	Processes []ProcessConfig `koanf:"processes" validate:"dive"`
}

// ProcessConfig is one DAQ process and the equipment it fronts.
type ProcessConfig struct {
	ID            int64             `koanf:"id" validate:"gt=0"`
	Name          string            `koanf:"name" validate:"required"`
	AliveTagID    int64             `koanf:"alive_tag_id" validate:"gt=0"`
	AliveInterval time.Duration     `koanf:"alive_interval" validate:"gt=0"`
	StateTagID    int64             `koanf:"state_tag_id" validate:"gte=0"`
	Equipment     []EquipmentConfig `koanf:"equipment" validate:"dive"`
}

// EquipmentConfig is a device with its own alive and commfault tags.
type EquipmentConfig struct {
	ID             int64                `koanf:"id" validate:"gt=0"`
	Name           string               `koanf:"name" validate:"required"`
	AliveTagID     int64                `koanf:"alive_tag_id" validate:"gt=0"`
	AliveInterval  time.Duration        `koanf:"alive_interval" validate:"gt=0"`
	StateTagID     int64                `koanf:"state_tag_id" validate:"gte=0"`
	CommFaultTagID int64                `koanf:"commfault_tag_id" validate:"gte=0"`
	SubEquipment   []SubEquipmentConfig `koanf:"sub_equipment" validate:"dive"`
}

// SubEquipmentConfig hangs off an equipment.
type SubEquipmentConfig struct {
	ID             int64         `koanf:"id" validate:"gt=0"`
	Name           string        `koanf:"name" validate:"required"`
	AliveTagID     int64         `koanf:"alive_tag_id" validate:"gt=0"`
	AliveInterval  time.Duration `koanf:"alive_interval" validate:"gt=0"`
	StateTagID     int64         `koanf:"state_tag_id" validate:"gte=0"`
	CommFaultTagID int64         `koanf:"commfault_tag_id" validate:"gte=0"`
}

// FindProcess returns the configured process with the given id.
func (t TopologyConfig) FindProcess(id int64) (ProcessConfig, bool) {
	for _, p := range t.Processes {
		if p.ID == id {
			return p, true
		}
	}
	return ProcessConfig{}, false
}
