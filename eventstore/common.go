// Copyright 2025-2026 The scanstream Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eventstore

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScanEvent represents one physical RFID scan at a production station.
// Events are append-only. They are never mutated or deleted by this service.
type ScanEvent struct {
	// StoreKey is the store-assigned document key
	StoreKey primitive.ObjectID `bson:"_id,omitempty" json:"scanKey,omitempty"`
	// ScanID is the caller-supplied globally unique scan ID
	ScanID string `bson:"scan_id" json:"id" validate:"required"`
	// TagID identifies the scanned RFID tag
	TagID string `bson:"tag_id" json:"tagId" validate:"required"`
	// StationID identifies the production station the scan occurred at
	StationID string `bson:"station_id" json:"stationId" validate:"required"`
	// Timestamp is the caller-supplied scan time in epoch milliseconds
	Timestamp int64 `bson:"timestamp" json:"timestamp" validate:"required"`
}

// ErrDuplicateID returned by Insert when the scan ID is already recorded.
// The first writer with a given ID wins; a duplicate is rejected, never
// overwritten.
var ErrDuplicateID = errors.New("scan event ID already recorded")

// ChangeHandlerCB callback invoked once per change-feed notification
type ChangeHandlerCB func(ctxt context.Context) error

// ScanEventStore is the append-only scan event store with a
// change-notification feed
type ScanEventStore interface {
	// Insert append a new scan event, returning the event with its
	// store-assigned key filled in. Returns ErrDuplicateID if the scan ID
	// is already present.
	Insert(ctxt context.Context, event ScanEvent) (ScanEvent, error)
	// ListAll fetch the complete current record set
	ListAll(ctxt context.Context) ([]ScanEvent, error)
	// OnChange start a long-lived subscription against the store's
	// change-notification feed. The handler fires on every change
	// regardless of operation type; a handler failure is logged and the
	// subscription continues. An error establishing the subscription
	// itself is returned to the caller.
	OnChange(ctxt context.Context, wg *sync.WaitGroup, handler ChangeHandlerCB) error
}
