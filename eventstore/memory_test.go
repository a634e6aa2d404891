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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryStoreBasicOperation(t *testing.T) {
	assert := assert.New(t)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	uut := GetInMemoryScanEventStore()

	// Case 0: empty store
	events, err := uut.ListAll(utCtxt)
	assert.Nil(err)
	assert.Empty(events)

	// Case 1: insert a new event
	event0 := ScanEvent{
		ScanID:    "scan-0001",
		TagID:     "E2000017221101441890",
		StationID: "sewing-12",
		Timestamp: time.Now().UnixMilli(),
	}
	recorded, err := uut.Insert(utCtxt, event0)
	assert.Nil(err)
	assert.False(recorded.StoreKey.IsZero())
	assert.Equal(event0.ScanID, recorded.ScanID)

	// Case 2: reinsert with the same ID
	_, err = uut.Insert(utCtxt, event0)
	assert.ErrorIs(err, ErrDuplicateID)

	// Case 3: a different ID is accepted
	event1 := event0
	event1.ScanID = "scan-0002"
	_, err = uut.Insert(utCtxt, event1)
	assert.Nil(err)

	events, err = uut.ListAll(utCtxt)
	assert.Nil(err)
	assert.Len(events, 2)
	assert.Equal("scan-0001", events[0].ScanID)
	assert.Equal("scan-0002", events[1].ScanID)
}

func TestInMemoryStoreChangeFeed(t *testing.T) {
	assert := assert.New(t)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()

	uut := GetInMemoryScanEventStore()

	changeCount := 0
	assert.Nil(uut.OnChange(utCtxt, &wg, func(ctxt context.Context) error {
		changeCount++
		return nil
	}))

	// Case 0: insert fires the feed
	_, err := uut.Insert(utCtxt, ScanEvent{
		ScanID: "scan-0001", TagID: "tag-1", StationID: "cutting-3", Timestamp: 1,
	})
	assert.Nil(err)
	assert.Equal(1, changeCount)

	// Case 1: duplicate insert does not
	_, err = uut.Insert(utCtxt, ScanEvent{
		ScanID: "scan-0001", TagID: "tag-1", StationID: "cutting-3", Timestamp: 1,
	})
	assert.ErrorIs(err, ErrDuplicateID)
	assert.Equal(1, changeCount)

	// Case 2: out-of-band changes fire the feed
	uut.TriggerChange(utCtxt)
	uut.TriggerChange(utCtxt)
	assert.Equal(3, changeCount)
}

func TestInMemoryStoreForcedFailure(t *testing.T) {
	assert := assert.New(t)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	uut := GetInMemoryScanEventStore()

	// Case 0: forced failure hits only the next operation
	uut.FailNextCall(fmt.Errorf("dummy store failure"))
	_, err := uut.Insert(utCtxt, ScanEvent{
		ScanID: "scan-0001", TagID: "tag-1", StationID: "qa-1", Timestamp: 1,
	})
	assert.NotNil(err)
	assert.NotErrorIs(err, ErrDuplicateID)

	// Case 1: the failed insert recorded nothing
	events, err := uut.ListAll(utCtxt)
	assert.Nil(err)
	assert.Empty(events)

	// Case 2: the same insert succeeds afterward
	_, err = uut.Insert(utCtxt, ScanEvent{
		ScanID: "scan-0001", TagID: "tag-1", StationID: "qa-1", Timestamp: 1,
	})
	assert.Nil(err)
}
