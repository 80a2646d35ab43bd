// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomtom215/daqwatch/internal/logging"
	"github.com/tomtom215/daqwatch/internal/sender"
	"github.com/tomtom215/daqwatch/internal/wal"
)

// DurableSender writes guaranteed-delivery values and persistent batches
// to the outbox before handing them to the inner sender. A batch whose
// send fails stays pending and is replayed by the retry loop. Everything
// else passes straight through.
type DurableSender struct {
	inner sender.TransportSender
	wal   *wal.BadgerWAL
	retry *wal.RetryLoop
}

var _ sender.TransportSender = (*DurableSender)(nil)

// NewDurableSender wraps inner with the outbox w.
func NewDurableSender(inner sender.TransportSender, w *wal.BadgerWAL) (*DurableSender, error) {
	if inner == nil || w == nil {
		return nil, errors.New("transport: durable sender needs an inner sender and a WAL")
	}
	d := &DurableSender{inner: inner, wal: w}
	d.retry = wal.NewRetryLoop(w, wal.PublisherFunc(d.replay))
	return d, nil
}

// Name implements sender.TransportSender.
func (d *DurableSender) Name() string { return d.inner.Name() + "+wal" }

// Send implements sender.TransportSender. A guaranteed value is stored
// as a one-value persistent batch.
func (d *DurableSender) Send(ctx context.Context, v sender.Value) error {
	if !v.GuaranteedDelivery {
		return d.inner.Send(ctx, v)
	}
	return d.SendBatch(ctx, &sender.Update{
		ID:         uuid.NewString(),
		Persistent: true,
		Values:     []sender.Value{v},
		CreatedAt:  v.ProducedAt,
	})
}

// SendBatch implements sender.TransportSender.
func (d *DurableSender) SendBatch(ctx context.Context, u *sender.Update) error {
	if !u.Persistent {
		return d.inner.SendBatch(ctx, u)
	}

	id, err := d.wal.Write(ctx, u)
	if err != nil {
		// Without the outbox the batch is still worth a direct attempt.
		logging.Error().Err(err).Str("update_id", u.ID).Msg("WAL write failed, sending without durability")
		return d.inner.SendBatch(ctx, u)
	}

	if !d.retry.Claim(id) {
		return nil
	}
	defer d.retry.Release(id)

	if err := d.inner.SendBatch(ctx, u); err != nil {
		if uerr := d.wal.UpdateAttempt(ctx, id, err.Error()); uerr != nil {
			logging.Warn().Err(uerr).Str("entry_id", id).Msg("Failed to record send attempt")
		}
		return fmt.Errorf("send persistent batch %s (kept for retry): %w", u.ID, err)
	}
	if err := d.wal.Confirm(ctx, id); err != nil {
		logging.Warn().Err(err).Str("entry_id", id).Msg("Failed to confirm WAL entry")
	}
	return nil
}

func (d *DurableSender) replay(ctx context.Context, entry *wal.Entry) error {
	var u sender.Update
	if err := entry.UnmarshalPayload(&u); err != nil {
		return fmt.Errorf("decode WAL entry %s: %w", entry.ID, err)
	}
	return d.inner.SendBatch(ctx, &u)
}

// Start launches the retry loop, which first replays whatever a previous
// run left pending.
func (d *DurableSender) Start(ctx context.Context) error {
	return d.retry.Start(ctx)
}

// Stop ends the retry loop.
func (d *DurableSender) Stop() {
	d.retry.Stop()
}

// Retry runs one replay pass immediately.
func (d *DurableSender) Retry(ctx context.Context) wal.RetryResult {
	return d.retry.RetryPending(ctx)
}
