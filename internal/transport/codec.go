// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package transport

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/daqwatch/internal/sender"
)

// Metadata keys set on every message.
const (
	MetadataKind    = "daqwatch-kind"
	MetadataProcess = "daqwatch-process"
)

// Message kinds.
const (
	KindValue     = "value"
	KindUpdate    = "update"
	KindEvent     = "event"
	KindHeartbeat = "heartbeat"

	// Process lifecycle announcements sent by a DAQ on the values subject.
	KindProcessStart  = "process_start"
	KindProcessResume = "process_resume"
	KindProcessStop   = "process_stop"
)

// IsLifecycleKind reports whether kind is a process lifecycle announcement.
func IsLifecycleKind(kind string) bool {
	switch kind {
	case KindProcessStart, KindProcessResume, KindProcessStop:
		return true
	}
	return false
}

// ProcessLifecycle is the payload of a lifecycle announcement.
type ProcessLifecycle struct {
	ProcessID   int64     `json:"process_id"`
	ProcessName string    `json:"process_name,omitempty"`
	Time        time.Time `json:"time"`
	Description string    `json:"description,omitempty"`
}

// ErrUnknownKind is returned when a message has no recognised kind.
var ErrUnknownKind = errors.New("transport: unknown message kind")

// NewJSONMessage encodes v as the payload of a new message of the given
// kind. An empty id gets a fresh UUID.
func NewJSONMessage(id, kind string, v any) (*message.Message, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", kind, err)
	}
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(MetadataKind, kind)
	return msg, nil
}

// EncodeValue wraps a single value.
func EncodeValue(v sender.Value) (*message.Message, error) {
	return NewJSONMessage("", KindValue, v)
}

// EncodeUpdate wraps a batch. The update id becomes the message id so a
// redelivered batch keeps its identity.
func EncodeUpdate(u *sender.Update) (*message.Message, error) {
	msg, err := NewJSONMessage(u.ID, KindUpdate, u)
	if err != nil {
		return nil, err
	}
	msg.Metadata.Set(MetadataProcess, strconv.FormatInt(u.ProcessID, 10))
	return msg, nil
}

// DecodeValues returns the values carried by a value or update message.
func DecodeValues(msg *message.Message) ([]sender.Value, error) {
	switch kind := msg.Metadata.Get(MetadataKind); kind {
	case KindValue:
		var v sender.Value
		if err := json.Unmarshal(msg.Payload, &v); err != nil {
			return nil, fmt.Errorf("unmarshal value: %w", err)
		}
		return []sender.Value{v}, nil
	case KindUpdate:
		var u sender.Update
		if err := json.Unmarshal(msg.Payload, &u); err != nil {
			return nil, fmt.Errorf("unmarshal update: %w", err)
		}
		return u.Values, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// EncodeProcessLifecycle wraps a lifecycle announcement of the given kind.
func EncodeProcessLifecycle(kind string, p ProcessLifecycle) (*message.Message, error) {
	if !IsLifecycleKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	msg, err := NewJSONMessage("", kind, p)
	if err != nil {
		return nil, err
	}
	msg.Metadata.Set(MetadataProcess, strconv.FormatInt(p.ProcessID, 10))
	return msg, nil
}

// DecodeProcessLifecycle returns the kind and payload of a lifecycle
// announcement.
func DecodeProcessLifecycle(msg *message.Message) (string, ProcessLifecycle, error) {
	var p ProcessLifecycle
	kind := msg.Metadata.Get(MetadataKind)
	if !IsLifecycleKind(kind) {
		return kind, p, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return kind, p, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return kind, p, nil
}
