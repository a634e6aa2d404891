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

package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/smartgarment/scanstream/common"
	"github.com/smartgarment/scanstream/eventstore"
)

// ActionRequestSnapshot dashboard client request for an immediate full
// snapshot, answered on the requesting connection only
const ActionRequestSnapshot = "request_snapshot"

// clientMessage envelope parsed from each raw dashboard frame
type clientMessage struct {
	Action string `json:"action"`
}

// Listener accepts long-lived dashboard connections and keeps them
// registered for change-feed pushes until they disconnect
type Listener interface {
	// HandleSession process one dashboard connection until it disconnects
	// or the context ends. Blocks; run on the connection's goroutine.
	HandleSession(ctxt context.Context, conn *websocket.Conn)
}

// listenerImpl implements Listener
type listenerImpl struct {
	common.Component
	store     eventstore.ScanEventStore
	registry  SubscriberRegistry
	topic     string
	opTimeout time.Duration
}

// GetListener define a new dashboard Listener
func GetListener(
	store eventstore.ScanEventStore,
	registry SubscriberRegistry,
	topic string,
	opTimeout time.Duration,
) (Listener, error) {
	if store == nil || registry == nil {
		return nil, fmt.Errorf("dashboard listener requires a store and a registry")
	}
	logTags := log.Fields{
		"module":    "dashboard",
		"component": "dashboard-listener",
	}
	return &listenerImpl{
		Component: common.Component{LogTags: logTags},
		store:     store,
		registry:  registry,
		topic:     topic,
		opTimeout: opTimeout,
	}, nil
}

// HandleSession process one dashboard connection until it disconnects or
// the context ends
func (l *listenerImpl) HandleSession(ctxt context.Context, conn *websocket.Conn) {
	session := getSubscriberSession(conn)
	logTags := log.Fields{}
	for k, v := range l.LogTags {
		logTags[k] = v
	}
	logTags["connection"] = session.ID()

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

	log.WithFields(logTags).Info("Dashboard connected")

	// Dashboards mostly listen; the read loop exists to detect disconnects
	// and to serve on-demand snapshot pulls
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				log.WithFields(logTags).Infof(
					"Dashboard disconnected. Code %d, reason '%s'", closeErr.Code, closeErr.Text,
				)
			} else {
				log.WithError(err).WithFields(logTags).Error("Dashboard transport failure")
			}
			return
		}

		var message clientMessage
		if err := json.Unmarshal(raw, &message); err != nil {
			log.WithError(err).WithFields(logTags).Warn("Discarding malformed dashboard frame")
			continue
		}
		switch message.Action {
		case ActionRequestSnapshot:
			l.sendSnapshot(sessionCtxt, session, logTags)
		default:
			log.WithFields(logTags).Warnf(
				"Discarding dashboard frame with action '%s'", message.Action,
			)
		}
	}
}

// sendSnapshot answer one snapshot pull on the requesting session only
func (l *listenerImpl) sendSnapshot(
	ctxt context.Context, session SubscriberSession, logTags log.Fields,
) {
	fetchCtxt, cancel := context.WithTimeout(ctxt, l.opTimeout)
	events, err := l.store.ListAll(fetchCtxt)
	cancel()
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Snapshot fetch failed")
		return
	}
	if err := session.SendUpdate(l.topic, events); err != nil {
		log.WithError(err).WithFields(logTags).Error("Snapshot send failed")
	}
}
