// DAQWatch - Supervision and Alive Monitoring for Data Acquisition
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/daqwatch

// Package wal is a BadgerDB outbox for guaranteed-delivery value batches.
//
// A batch is written before it is published and confirmed once the
// broker has it:
//
//	Write (fsync) → Publish → Confirm
//	                   ↓ (on failure)
//	            entry stays pending for the RetryLoop
//
// Entries live under two key prefixes, pending: and confirmed:. Confirm
// moves an entry between them in one transaction, and Compact removes
// confirmed entries. The RetryLoop republishes pending entries with
// exponential backoff and drops them after MaxRetries attempts or once
// they are older than EntryTTL.
package wal
