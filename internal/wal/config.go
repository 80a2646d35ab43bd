// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package wal

import "time"

// Config holds outbox storage and retry settings. The server and DAQ
// binaries fill it from the wal section of the main configuration.
type Config struct {
	// Path is the BadgerDB directory. It must be on a durable filesystem.
	Path string

	// SyncWrites forces fsync after every write.
	SyncWrites bool

	// RetryInterval is the period of the retry loop.
	RetryInterval time.Duration

	// MaxRetries is the number of failed attempts after which an entry is
	// dropped.
	MaxRetries int

	// RetryBackoff is the base of the exponential backoff between attempts
	// on one entry.
	RetryBackoff time.Duration

	// EntryTTL drops unconfirmed entries older than this. It is also set as
	// the native badger TTL of every entry.
	EntryTTL time.Duration

	// CompactInterval is how often confirmed entries are removed.
	CompactInterval time.Duration

	// BadgerDB tuning
	MemTableSize     int64
	ValueLogFileSize int64
	NumCompactors    int
	Compression      bool
	GCRatio          float64

	// CloseTimeout bounds Close.
	CloseTimeout time.Duration
}

// DefaultConfig favours durability over throughput.
func DefaultConfig() Config {
	return Config{
		Path:             "/data/wal",
		SyncWrites:       true,
		RetryInterval:    10 * time.Second,
		MaxRetries:       100,
		RetryBackoff:     time.Second,
		EntryTTL:         24 * time.Hour,
		CompactInterval:  10 * time.Minute,
		MemTableSize:     16 * 1024 * 1024,
		ValueLogFileSize: 64 * 1024 * 1024,
		NumCompactors:    2,
		Compression:      true,
		GCRatio:          0.5,
		CloseTimeout:     30 * time.Second,
	}
}

// Validate checks the fields badger and the retry loop depend on.
func (c *Config) Validate() error {
	if c.Path == "" {
		return &ConfigError{Field: "Path", Message: "WAL path is required"}
	}
	if c.RetryInterval <= 0 {
		return &ConfigError{Field: "RetryInterval", Message: "must be positive"}
	}
	if c.MaxRetries < 1 {
		return &ConfigError{Field: "MaxRetries", Message: "must be at least 1"}
	}
	if c.RetryBackoff < 0 {
		return &ConfigError{Field: "RetryBackoff", Message: "must not be negative"}
	}
	if c.MemTableSize < 1024*1024 {
		return &ConfigError{Field: "MemTableSize", Message: "must be at least 1MB"}
	}
	if c.ValueLogFileSize < 1024*1024 {
		return &ConfigError{Field: "ValueLogFileSize", Message: "must be at least 1MB"}
	}
	if c.NumCompactors < 2 {
		return &ConfigError{Field: "NumCompactors", Message: "must be at least 2 (BadgerDB requirement)"}
	}
	return nil
}

// ConfigError reports an invalid field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "WAL config error: " + e.Field + ": " + e.Message
}
