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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/smartgarment/scanstream/eventstore"
)

// recordedUpdate one push observed by a fake subscriber
type recordedUpdate struct {
	topic   string
	payload interface{}
}

// fakeSubscriberSession test SubscriberSession exposing pushes on a channel
type fakeSubscriberSession struct {
	id      string
	open    bool
	updates chan recordedUpdate
}

func newFakeSubscriberSession() *fakeSubscriberSession {
	return &fakeSubscriberSession{
		id: uuid.New().String(), open: true, updates: make(chan recordedUpdate, 16),
	}
}

func (s *fakeSubscriberSession) ID() string { return s.id }
func (s *fakeSubscriberSession) Open() bool { return s.open }
func (s *fakeSubscriberSession) Close()     { s.open = false }

func (s *fakeSubscriberSession) SendUpdate(topic string, payload interface{}) error {
	s.updates <- recordedUpdate{topic: topic, payload: payload}
	return nil
}

func (s *fakeSubscriberSession) waitForUpdate(t *testing.T) recordedUpdate {
	select {
	case update := <-s.updates:
		return update
	case <-time.After(time.Second * 5):
		t.Fatal("Timed out waiting for dashboard update")
		return recordedUpdate{}
	}
}

func TestChangeFeedBroadcaster(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	defer func() {
		utCtxtCancel()
		wg.Wait()
	}()

	store := eventstore.GetInMemoryScanEventStore()
	registry := GetSubscriberRegistry()

	dashA := newFakeSubscriberSession()
	dashB := newFakeSubscriberSession()
	registry.Register(dashA)
	registry.Register(dashB)

	uut, err := GetChangeFeedBroadcaster(
		utCtxt, store, registry, "leadingLineUpdate", time.Second*5,
	)
	assert.Nil(err)
	assert.Nil(uut.Start(&wg))

	// Case 0: an insert pushes the full collection to every dashboard
	_, err = store.Insert(utCtxt, eventstore.ScanEvent{
		ScanID: "scan-0001", TagID: "tag-1", StationID: "sewing-12", Timestamp: 1700000000000,
	})
	assert.Nil(err)
	for _, dash := range []*fakeSubscriberSession{dashA, dashB} {
		update := dash.waitForUpdate(t)
		assert.Equal("leadingLineUpdate", update.topic)
		events, ok := update.payload.([]eventstore.ScanEvent)
		assert.True(ok)
		assert.Len(events, 1)
	}

	// Case 1: each change triggers its own refresh pass, no coalescing
	store.TriggerChange(utCtxt)
	store.TriggerChange(utCtxt)
	store.TriggerChange(utCtxt)
	for i := 0; i < 3; i++ {
		_ = dashA.waitForUpdate(t)
		_ = dashB.waitForUpdate(t)
	}

	// Case 2: a failed snapshot fetch skips the push but the subscription
	// stays live
	store.FailNextCall(fmt.Errorf("dummy store failure"))
	store.TriggerChange(utCtxt)
	store.TriggerChange(utCtxt)
	update := dashA.waitForUpdate(t)
	events, ok := update.payload.([]eventstore.ScanEvent)
	assert.True(ok)
	assert.Len(events, 1)
	assert.Empty(dashA.updates)

	// Case 3: closed dashboards are skipped
	dashB.Close()
	<-dashB.updates
	store.TriggerChange(utCtxt)
	_ = dashA.waitForUpdate(t)
	assert.Empty(dashB.updates)
}
