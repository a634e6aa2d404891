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
	"fmt"
	"sync"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smartgarment/scanstream/common"
)

// SessionState the lifecycle state of a transport session
type SessionState int

// Session lifecycle states
const (
	SessionOpen SessionState = iota
	SessionClosing
	SessionClosed
)

// DeviceSession one live device transport session. Owned exclusively by
// the listener which accepted it.
type DeviceSession interface {
	// ID the opaque session handle
	ID() string
	// RemoteAddress the peer address
	RemoteAddress() string
	// State the current session state
	State() SessionState
	// SendFrame write one frame to the device
	SendFrame(frame ServerFrame) error
	// Close close the underlying transport connection
	Close()
}

// deviceSessionImpl implements DeviceSession over a websocket connection
type deviceSessionImpl struct {
	common.Component
	id        string
	remote    string
	conn      *websocket.Conn
	sendLock  *sync.Mutex
	stateLock *sync.Mutex
	state     SessionState
}

// getDeviceSession wrap an accepted websocket connection as a DeviceSession
func getDeviceSession(conn *websocket.Conn) *deviceSessionImpl {
	id := uuid.New().String()
	logTags := log.Fields{
		"module":     "ingest",
		"component":  "device-session",
		"connection": id,
		"remote":     conn.RemoteAddr().String(),
	}
	return &deviceSessionImpl{
		Component: common.Component{LogTags: logTags},
		id:        id,
		remote:    conn.RemoteAddr().String(),
		conn:      conn,
		sendLock:  &sync.Mutex{},
		stateLock: &sync.Mutex{},
		state:     SessionOpen,
	}
}

// ID the opaque session handle
func (s *deviceSessionImpl) ID() string {
	return s.id
}

// RemoteAddress the peer address
func (s *deviceSessionImpl) RemoteAddress() string {
	return s.remote
}

// State the current session state
func (s *deviceSessionImpl) State() SessionState {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.state
}

// SendFrame write one frame to the device. The send lock keeps writes
// whole; websocket connections allow only one concurrent writer.
func (s *deviceSessionImpl) SendFrame(frame ServerFrame) error {
	if s.State() != SessionOpen {
		return fmt.Errorf("session %s is not open", s.id)
	}
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	return s.conn.WriteJSON(&frame)
}

// Close close the underlying transport connection
func (s *deviceSessionImpl) Close() {
	s.stateLock.Lock()
	if s.state != SessionOpen {
		s.stateLock.Unlock()
		return
	}
	s.state = SessionClosing
	s.stateLock.Unlock()

	if err := s.conn.Close(); err != nil {
		log.WithError(err).WithFields(s.LogTags).Debug("Connection close failed")
	}

	s.stateLock.Lock()
	s.state = SessionClosed
	s.stateLock.Unlock()
}

// ========================================================================================

// DeviceRegistry tracks the live device sessions on the device transport.
// Owned by the listener and passed by injection; broadcast is best-effort
// with no delivery confirmation.
type DeviceRegistry interface {
	// Register start tracking a session
	Register(session DeviceSession)
	// Unregister stop tracking a session
	Unregister(sessionID string)
	// BroadcastExcept send a frame to every other open session
	BroadcastExcept(excludedID string, frame ServerFrame)
	// SessionCount number of tracked sessions
	SessionCount() int
}

// deviceRegistryImpl implements DeviceRegistry
type deviceRegistryImpl struct {
	common.Component
	lock     *sync.Mutex
	sessions map[string]DeviceSession
}

// GetDeviceRegistry define a new DeviceRegistry
func GetDeviceRegistry() DeviceRegistry {
	logTags := log.Fields{
		"module":    "ingest",
		"component": "device-registry",
	}
	return &deviceRegistryImpl{
		Component: common.Component{LogTags: logTags},
		lock:      &sync.Mutex{},
		sessions:  make(map[string]DeviceSession),
	}
}

// Register start tracking a session
func (r *deviceRegistryImpl) Register(session DeviceSession) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.sessions[session.ID()] = session
	log.WithFields(r.LogTags).Infof(
		"Registered device %s from %s", session.ID(), session.RemoteAddress(),
	)
}

// Unregister stop tracking a session
func (r *deviceRegistryImpl) Unregister(sessionID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		delete(r.sessions, sessionID)
		log.WithFields(r.LogTags).Infof("Unregistered device %s", sessionID)
	}
}

// BroadcastExcept send a frame to every other open session. Sessions not
// in the open state are silently skipped.
func (r *deviceRegistryImpl) BroadcastExcept(excludedID string, frame ServerFrame) {
	r.lock.Lock()
	targets := make([]DeviceSession, 0, len(r.sessions))
	for id, session := range r.sessions {
		if id == excludedID {
			continue
		}
		targets = append(targets, session)
	}
	r.lock.Unlock()

	for _, session := range targets {
		if session.State() != SessionOpen {
			continue
		}
		if err := session.SendFrame(frame); err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Broadcast to device %s failed", session.ID(),
			)
		}
	}
}

// SessionCount number of tracked sessions
func (r *deviceRegistryImpl) SessionCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.sessions)
}
