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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// fakeDeviceSession test DeviceSession which records every frame sent
type fakeDeviceSession struct {
	id       string
	state    SessionState
	received []ServerFrame
	sendErr  error
}

func newFakeDeviceSession() *fakeDeviceSession {
	return &fakeDeviceSession{id: uuid.New().String(), state: SessionOpen}
}

func (s *fakeDeviceSession) ID() string            { return s.id }
func (s *fakeDeviceSession) RemoteAddress() string { return "unit-test" }
func (s *fakeDeviceSession) State() SessionState   { return s.state }
func (s *fakeDeviceSession) Close()                { s.state = SessionClosed }

func (s *fakeDeviceSession) SendFrame(frame ServerFrame) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.received = append(s.received, frame)
	return nil
}

func TestDeviceRegistryBroadcast(t *testing.T) {
	assert := assert.New(t)

	uut := GetDeviceRegistry()

	sender := newFakeDeviceSession()
	peer0 := newFakeDeviceSession()
	peer1 := newFakeDeviceSession()
	closed := newFakeDeviceSession()
	closed.state = SessionClosed

	uut.Register(sender)
	uut.Register(peer0)
	uut.Register(peer1)
	uut.Register(closed)
	assert.Equal(4, uut.SessionCount())

	// Case 0: sender and non-open sessions are skipped
	uut.BroadcastExcept(sender.ID(), pongFrame())
	assert.Empty(sender.received)
	assert.Len(peer0.received, 1)
	assert.Len(peer1.received, 1)
	assert.Empty(closed.received)

	// Case 1: a failing peer does not block the others
	peer0.sendErr = fmt.Errorf("dummy transport failure")
	uut.BroadcastExcept(sender.ID(), pongFrame())
	assert.Len(peer0.received, 1)
	assert.Len(peer1.received, 2)

	// Case 2: unregistered sessions no longer receive
	uut.Unregister(peer1.ID())
	assert.Equal(3, uut.SessionCount())
	uut.BroadcastExcept(sender.ID(), pongFrame())
	assert.Len(peer1.received, 2)

	// Unregister of an unknown ID is a no-op
	uut.Unregister("not-a-session")
	assert.Equal(3, uut.SessionCount())
}
