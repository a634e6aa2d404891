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
	"sync"

	"github.com/apex/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/smartgarment/scanstream/common"
)

// InMemoryScanEventStore implements ScanEventStore entirely in process.
// It honors the same contract as the Mongo store, with a synthetic change
// feed, so the full-refresh-on-any-change behavior can be exercised
// without a replica set.
type InMemoryScanEventStore struct {
	common.Component
	lock     *sync.Mutex
	byID     map[string]int
	events   []ScanEvent
	handlers []ChangeHandlerCB
	failWith error
}

// GetInMemoryScanEventStore define an in-memory ScanEventStore
func GetInMemoryScanEventStore() *InMemoryScanEventStore {
	logTags := log.Fields{
		"module":    "eventstore",
		"component": "memory-scan-store",
	}
	return &InMemoryScanEventStore{
		Component: common.Component{LogTags: logTags},
		lock:      &sync.Mutex{},
		byID:      make(map[string]int),
		events:    []ScanEvent{},
		handlers:  []ChangeHandlerCB{},
	}
}

// Insert append a new scan event
func (s *InMemoryScanEventStore) Insert(
	ctxt context.Context, event ScanEvent,
) (ScanEvent, error) {
	s.lock.Lock()
	if s.failWith != nil {
		err := s.failWith
		s.failWith = nil
		s.lock.Unlock()
		return ScanEvent{}, err
	}
	if _, ok := s.byID[event.ScanID]; ok {
		s.lock.Unlock()
		return ScanEvent{}, ErrDuplicateID
	}
	event.StoreKey = primitive.NewObjectID()
	s.byID[event.ScanID] = len(s.events)
	s.events = append(s.events, event)
	s.lock.Unlock()

	s.notifyChange(ctxt)
	return event, nil
}

// ListAll fetch the complete current record set
func (s *InMemoryScanEventStore) ListAll(ctxt context.Context) ([]ScanEvent, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failWith != nil {
		err := s.failWith
		s.failWith = nil
		return nil, err
	}
	result := make([]ScanEvent, len(s.events))
	copy(result, s.events)
	return result, nil
}

// OnChange register a change-feed handler. The handler fires synchronously
// on every insert, and on TriggerChange.
func (s *InMemoryScanEventStore) OnChange(
	ctxt context.Context, wg *sync.WaitGroup, handler ChangeHandlerCB,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.handlers = append(s.handlers, handler)
	return nil
}

// TriggerChange fire the change feed without a local write, standing in
// for changes originating from elsewhere (bulk imports, admin edits)
func (s *InMemoryScanEventStore) TriggerChange(ctxt context.Context) {
	s.notifyChange(ctxt)
}

// FailNextCall force the next store operation to fail with the given error
func (s *InMemoryScanEventStore) FailNextCall(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failWith = err
}

func (s *InMemoryScanEventStore) notifyChange(ctxt context.Context) {
	s.lock.Lock()
	handlers := make([]ChangeHandlerCB, len(s.handlers))
	copy(handlers, s.handlers)
	s.lock.Unlock()
	for _, handler := range handlers {
		if err := handler(ctxt); err != nil {
			log.WithError(err).WithFields(s.LogTags).Error(
				"Change notification handler failed",
			)
		}
	}
}
