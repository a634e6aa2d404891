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
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smartgarment/scanstream/common"
)

// Update one topic-tagged payload pushed to dashboard clients
type Update struct {
	// Topic is the named update channel
	Topic string `json:"topic"`
	// Data is the full current record collection
	Data interface{} `json:"data"`
	// Timestamp is the push time in epoch milliseconds
	Timestamp int64 `json:"timestamp"`
}

// SubscriberSession one live dashboard transport session. Every dashboard
// session subscribes to all topics implicitly on connect.
type SubscriberSession interface {
	// ID the opaque session handle
	ID() string
	// Open whether the session can still accept pushes
	Open() bool
	// SendUpdate push one topic-tagged payload to the dashboard
	SendUpdate(topic string, payload interface{}) error
	// Close close the underlying transport connection
	Close()
}

// subscriberSessionImpl implements SubscriberSession over a websocket
// connection
type subscriberSessionImpl struct {
	common.Component
	id       string
	conn     *websocket.Conn
	sendLock *sync.Mutex
	open     bool
	openLock *sync.Mutex
}

// getSubscriberSession wrap an accepted websocket connection as a
// SubscriberSession
func getSubscriberSession(conn *websocket.Conn) *subscriberSessionImpl {
	id := uuid.New().String()
	logTags := log.Fields{
		"module":     "dashboard",
		"component":  "subscriber-session",
		"connection": id,
		"remote":     conn.RemoteAddr().String(),
	}
	return &subscriberSessionImpl{
		Component: common.Component{LogTags: logTags},
		id:        id,
		conn:      conn,
		sendLock:  &sync.Mutex{},
		open:      true,
		openLock:  &sync.Mutex{},
	}
}

// ID the opaque session handle
func (s *subscriberSessionImpl) ID() string {
	return s.id
}

// Open whether the session can still accept pushes
func (s *subscriberSessionImpl) Open() bool {
	s.openLock.Lock()
	defer s.openLock.Unlock()
	return s.open
}

// SendUpdate push one topic-tagged payload to the dashboard
func (s *subscriberSessionImpl) SendUpdate(topic string, payload interface{}) error {
	if !s.Open() {
		return fmt.Errorf("session %s is not open", s.id)
	}
	update := Update{Topic: topic, Data: payload, Timestamp: time.Now().UnixMilli()}
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	return s.conn.WriteJSON(&update)
}

// Close close the underlying transport connection
func (s *subscriberSessionImpl) Close() {
	s.openLock.Lock()
	if !s.open {
		s.openLock.Unlock()
		return
	}
	s.open = false
	s.openLock.Unlock()
	if err := s.conn.Close(); err != nil {
		log.WithError(err).WithFields(s.LogTags).Debug("Connection close failed")
	}
}

// ========================================================================================

// SubscriberRegistry tracks dashboard sessions and publishes to all of
// them. This is the single operation the change-feed broadcaster depends
// on.
type SubscriberRegistry interface {
	// Register start tracking a session
	Register(session SubscriberSession)
	// Unregister stop tracking a session
	Unregister(sessionID string)
	// PublishAll push a payload under a topic to every open session
	PublishAll(topic string, payload interface{})
	// SessionCount number of tracked sessions
	SessionCount() int
}

// subscriberRegistryImpl implements SubscriberRegistry
type subscriberRegistryImpl struct {
	common.Component
	lock     *sync.Mutex
	sessions map[string]SubscriberSession
}

// GetSubscriberRegistry define a new SubscriberRegistry
func GetSubscriberRegistry() SubscriberRegistry {
	logTags := log.Fields{
		"module":    "dashboard",
		"component": "subscriber-registry",
	}
	return &subscriberRegistryImpl{
		Component: common.Component{LogTags: logTags},
		lock:      &sync.Mutex{},
		sessions:  make(map[string]SubscriberSession),
	}
}

// Register start tracking a session
func (r *subscriberRegistryImpl) Register(session SubscriberSession) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.sessions[session.ID()] = session
	log.WithFields(r.LogTags).Infof("Registered dashboard %s", session.ID())
}

// Unregister stop tracking a session
func (r *subscriberRegistryImpl) Unregister(sessionID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		delete(r.sessions, sessionID)
		log.WithFields(r.LogTags).Infof("Unregistered dashboard %s", sessionID)
	}
}

// PublishAll push a payload under a topic to every open session.
// Best-effort; send failures are logged and the pass continues.
func (r *subscriberRegistryImpl) PublishAll(topic string, payload interface{}) {
	r.lock.Lock()
	targets := make([]SubscriberSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		targets = append(targets, session)
	}
	r.lock.Unlock()

	for _, session := range targets {
		if !session.Open() {
			continue
		}
		if err := session.SendUpdate(topic, payload); err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Publish to dashboard %s failed", session.ID(),
			)
		}
	}
}

// SessionCount number of tracked sessions
func (r *subscriberRegistryImpl) SessionCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.sessions)
}
