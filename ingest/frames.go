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

package ingest

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/smartgarment/scanstream/eventstore"
)

// Device-facing actions
const (
	// ActionScan submit a new RFID scan event
	ActionScan = "rfid_scan"
	// ActionPing connection liveness probe
	ActionPing = "ping"
)

// Server frame types
const (
	FrameTypeConnection    = "connection"
	FrameTypeScanSuccess   = "rfid_scan_success"
	FrameTypePong          = "pong"
	FrameTypeError         = "error"
	FrameTypeScanBroadcast = "rfid_scan_broadcast"
)

// Server frame statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusInfo    = "info"
)

// Device-facing error types
const (
	ErrTypeInvalidJSON   = "Invalid JSON format"
	ErrTypeValidation    = "Validation Error"
	ErrTypeDuplicate     = "Duplicate Error"
	ErrTypeDatabase      = "Database Error"
	ErrTypeUnknownAction = "Unknown action"
)

// InboundMessage envelope parsed from each raw device frame. Transient;
// lives only for the duration of one handler invocation.
type InboundMessage struct {
	// Action selects the operation
	Action string `json:"action"`
	// Data is the operation payload
	Data json.RawMessage `json:"data"`
}

// FrameError describes a failure reported back to a device
type FrameError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServerFrame server to device response envelope
type ServerFrame struct {
	Type      string                 `json:"type"`
	Status    string                 `json:"status"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     *FrameError            `json:"error,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

func connectionAckFrame() ServerFrame {
	return ServerFrame{
		Type:   FrameTypeConnection,
		Status: StatusSuccess,
		Data: map[string]interface{}{
			"message": "WebSocket connected successfully",
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

func pongFrame() ServerFrame {
	return ServerFrame{
		Type:      FrameTypePong,
		Status:    StatusSuccess,
		Timestamp: time.Now().UnixMilli(),
	}
}

func errorFrame(errType, message string) ServerFrame {
	return ServerFrame{
		Type:      FrameTypeError,
		Status:    StatusError,
		Error:     &FrameError{Type: errType, Message: message},
		Timestamp: time.Now().UnixMilli(),
	}
}

func scanSuccessFrame(event eventstore.ScanEvent) ServerFrame {
	return ServerFrame{
		Type:   FrameTypeScanSuccess,
		Status: StatusSuccess,
		Data: map[string]interface{}{
			"scanId":  event.StoreKey.Hex(),
			"id":      event.ScanID,
			"message": "RFID scan data saved successfully",
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

func scanBroadcastFrame(event eventstore.ScanEvent) ServerFrame {
	return ServerFrame{
		Type:   FrameTypeScanBroadcast,
		Status: StatusInfo,
		Data: map[string]interface{}{
			"scanId":    event.StoreKey.Hex(),
			"id":        event.ScanID,
			"tagId":     event.TagID,
			"stationId": event.StationID,
			"timestamp": event.Timestamp,
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

// ========================================================================================

// scanRequest is the expected payload of an ActionScan message
type scanRequest struct {
	ID        string      `json:"id"`
	TagID     string      `json:"tagId"`
	StationID string      `json:"stationId"`
	Timestamp interface{} `json:"timestamp"`
}

// missingFields report required fields which are absent or falsy, in the
// payload's declared field order. A timestamp which can not coerce to an
// integer counts as missing.
func (r *scanRequest) missingFields() []string {
	missing := []string{}
	if r.ID == "" {
		missing = append(missing, "id")
	}
	if r.TagID == "" {
		missing = append(missing, "tagId")
	}
	if r.StationID == "" {
		missing = append(missing, "stationId")
	}
	if _, ok := coerceEpochMillis(r.Timestamp); !ok {
		missing = append(missing, "timestamp")
	}
	return missing
}

// coerceEpochMillis coerce a JSON timestamp value to an integer. No range
// or plausibility check is applied; any non-zero integer-like value from
// the past or future is accepted as-is.
func coerceEpochMillis(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case float64:
		if v == 0 {
			return 0, false
		}
		return int64(v), true
	case string:
		if v == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed == 0 {
			return 0, false
		}
		return int64(parsed), true
	default:
		return 0, false
	}
}
