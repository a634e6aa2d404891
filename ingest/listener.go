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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/smartgarment/scanstream/common"
	"github.com/smartgarment/scanstream/eventstore"
)

// ForwardScanCB callback used to hand an accepted scan event to a
// downstream stage (e.g. the JetStream bridge). Best-effort; failures
// never surface to the device.
type ForwardScanCB func(ctxt context.Context, event eventstore.ScanEvent)

// ScanIngestListener accepts long-lived device connections, decodes each
// frame, and replies on the same connection
type ScanIngestListener interface {
	// HandleSession process one device connection until it disconnects or
	// the context ends. Blocks; run on the connection's goroutine.
	HandleSession(ctxt context.Context, conn *websocket.Conn)
}

// scanIngestListenerImpl implements ScanIngestListener
type scanIngestListenerImpl struct {
	common.Component
	store       eventstore.ScanEventStore
	registry    DeviceRegistry
	forwardScan ForwardScanCB
	opTimeout   time.Duration
	idleTimeout time.Duration
}

// GetScanIngestListener define a new ScanIngestListener.
// forwardScan may be nil when no downstream bridge is configured.
// idleTimeout of zero disables the per-connection idle read deadline.
func GetScanIngestListener(
	store eventstore.ScanEventStore,
	registry DeviceRegistry,
	forwardScan ForwardScanCB,
	opTimeout time.Duration,
	idleTimeout time.Duration,
) (ScanIngestListener, error) {
	if store == nil || registry == nil {
		return nil, fmt.Errorf("scan ingest listener requires a store and a registry")
	}
	logTags := log.Fields{
		"module":    "ingest",
		"component": "scan-listener",
	}
	return &scanIngestListenerImpl{
		Component:   common.Component{LogTags: logTags},
		store:       store,
		registry:    registry,
		forwardScan: forwardScan,
		opTimeout:   opTimeout,
		idleTimeout: idleTimeout,
	}, nil
}

// HandleSession process one device connection until it disconnects or the
// context ends
func (l *scanIngestListenerImpl) HandleSession(ctxt context.Context, conn *websocket.Conn) {
	session := getDeviceSession(conn)
	logTags := log.Fields{}
	for k, v := range l.LogTags {
		logTags[k] = v
	}
	logTags["connection"] = session.ID()
	logTags["remote"] = session.RemoteAddress()

	l.registry.Register(session)
	defer l.registry.Unregister(session.ID())
	defer session.Close()

	// Unblock the read loop when the runtime context ends
	sessionCtxt, cancel := context.WithCancel(ctxt)
	defer cancel()
	go func() {
		<-sessionCtxt.Done()
		session.Close()
	}()

	// The device takes no action to trigger this
	if err := session.SendFrame(connectionAckFrame()); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to send connection ack")
		return
	}
	log.WithFields(logTags).Info("Device connected")

	for {
		if l.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(l.idleTimeout)); err != nil {
				log.WithError(err).WithFields(logTags).Error("Unable to arm idle deadline")
				return
			}
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				log.WithFields(logTags).Infof(
					"Device disconnected. Code %d, reason '%s'", closeErr.Code, closeErr.Text,
				)
			} else {
				log.WithError(err).WithFields(logTags).Error("Device transport failure")
			}
			return
		}
		// Frames on one connection are handled to completion, in order
		l.processFrame(sessionCtxt, session, logTags, raw)
	}
}

// processFrame decode one inbound frame and dispatch on its action
func (l *scanIngestListenerImpl) processFrame(
	ctxt context.Context, session DeviceSession, logTags log.Fields, raw []byte,
) {
	var message InboundMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		l.reply(session, logTags, errorFrame(
			ErrTypeInvalidJSON, fmt.Sprintf("unable to parse frame: %s", err.Error()),
		))
		return
	}

	switch message.Action {
	case ActionScan:
		l.handleScan(ctxt, session, logTags, message.Data)
	case ActionPing:
		l.reply(session, logTags, pongFrame())
	default:
		l.reply(session, logTags, errorFrame(
			ErrTypeUnknownAction,
			fmt.Sprintf("unsupported action '%s'", message.Action),
		))
	}
}

// handleScan validate and persist one scan submission, then fan out
func (l *scanIngestListenerImpl) handleScan(
	ctxt context.Context, session DeviceSession, logTags log.Fields, data json.RawMessage,
) {
	// A frame with no payload still gets the field-level validation reply
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	var request scanRequest
	if err := json.Unmarshal(data, &request); err != nil {
		l.reply(session, logTags, errorFrame(
			ErrTypeInvalidJSON, fmt.Sprintf("unable to parse scan payload: %s", err.Error()),
		))
		return
	}

	if missing := request.missingFields(); len(missing) > 0 {
		l.reply(session, logTags, errorFrame(
			ErrTypeValidation,
			fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")),
		))
		return
	}
	timestamp, _ := coerceEpochMillis(request.Timestamp)

	event := eventstore.ScanEvent{
		ScanID:    request.ID,
		TagID:     request.TagID,
		StationID: request.StationID,
		Timestamp: timestamp,
	}

	storeCtxt, cancel := context.WithTimeout(ctxt, l.opTimeout)
	recorded, err := l.store.Insert(storeCtxt, event)
	cancel()
	if err != nil {
		if errors.Is(err, eventstore.ErrDuplicateID) {
			l.reply(session, logTags, errorFrame(
				ErrTypeDuplicate,
				fmt.Sprintf("scan event '%s' already recorded", request.ID),
			))
			return
		}
		// Full detail stays in the server log; the device sees a generic error
		log.WithError(err).WithFields(logTags).Errorf(
			"Store write failed for scan event %s", request.ID,
		)
		l.reply(session, logTags, errorFrame(
			ErrTypeDatabase, "unable to record scan event",
		))
		return
	}

	l.reply(session, logTags, scanSuccessFrame(recorded))
	log.WithFields(logTags).Infof(
		"Recorded scan %s from station %s", recorded.ScanID, recorded.StationID,
	)

	// Exactly one fan-out pass per accepted scan, excluding the origin
	l.registry.BroadcastExcept(session.ID(), scanBroadcastFrame(recorded))

	if l.forwardScan != nil {
		l.forwardScan(ctxt, recorded)
	}
}

// reply answer the originating session, logging send failures
func (l *scanIngestListenerImpl) reply(
	session DeviceSession, logTags log.Fields, frame ServerFrame,
) {
	if err := session.SendFrame(frame); err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Unable to send %s frame", frame.Type,
		)
	}
}
