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
	"reflect"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/smartgarment/scanstream/common"
	"github.com/smartgarment/scanstream/eventstore"
)

// ChangeFeedBroadcaster watches the scan event store's change feed and
// pushes a full snapshot of the record collection to every registered
// dashboard after each change
type ChangeFeedBroadcaster interface {
	// Start subscribe to the store change feed and begin serving refresh
	// requests. Returns an error when the change feed can not be opened;
	// the caller decides whether to continue without refreshes.
	Start(wg *sync.WaitGroup) error
	// Stop halt the refresh event loop
	Stop() error
}

// refreshDashboardReq queued request for one full refresh pass
type refreshDashboardReq struct {
	timestamp time.Time
}

// changeFeedBroadcasterImpl implements ChangeFeedBroadcaster
type changeFeedBroadcasterImpl struct {
	common.Component
	runtimeCtxt context.Context
	store       eventstore.ScanEventStore
	registry    SubscriberRegistry
	topic       string
	opTimeout   time.Duration
	worker      common.TaskProcessor
}

// GetChangeFeedBroadcaster define a new ChangeFeedBroadcaster
func GetChangeFeedBroadcaster(
	ctxt context.Context,
	store eventstore.ScanEventStore,
	registry SubscriberRegistry,
	topic string,
	opTimeout time.Duration,
) (ChangeFeedBroadcaster, error) {
	if store == nil || registry == nil {
		return nil, fmt.Errorf("change-feed broadcaster requires a store and a registry")
	}
	logTags := log.Fields{
		"module":    "dashboard",
		"component": "change-feed-broadcaster",
	}
	worker, err := common.GetNewTaskProcessorInstance("dashboard-refresh", 4, ctxt)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define task processor")
		return nil, err
	}
	instance := &changeFeedBroadcasterImpl{
		Component:   common.Component{LogTags: logTags},
		runtimeCtxt: ctxt,
		store:       store,
		registry:    registry,
		topic:       topic,
		opTimeout:   opTimeout,
		worker:      worker,
	}
	if err := worker.AddToTaskExecutionMap(
		reflect.TypeOf(refreshDashboardReq{}), instance.processRefresh,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to register task handlers")
		return nil, err
	}
	return instance, nil
}

// Start subscribe to the store change feed and begin serving refresh
// requests
func (b *changeFeedBroadcasterImpl) Start(wg *sync.WaitGroup) error {
	if err := b.worker.StartEventLoop(wg); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Unable to start event loop")
		return err
	}
	// Any change requests a refresh; the refresh reads the whole collection,
	// so the change payload itself is irrelevant
	if err := b.store.OnChange(b.runtimeCtxt, wg, b.requestRefresh); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Unable to open store change feed")
		return err
	}
	log.WithFields(b.LogTags).Info("Watching store change feed")
	return nil
}

// Stop halt the refresh event loop
func (b *changeFeedBroadcasterImpl) Stop() error {
	return b.worker.StopEventLoop()
}

// requestRefresh queue one refresh pass in response to a store change
func (b *changeFeedBroadcasterImpl) requestRefresh(ctxt context.Context) error {
	return b.worker.Submit(ctxt, refreshDashboardReq{timestamp: time.Now()})
}

// processRefresh run one full refresh pass. A failed fetch is logged and
// dropped; the change feed subscription stays live for the next change.
func (b *changeFeedBroadcasterImpl) processRefresh(param interface{}) error {
	request, ok := param.(refreshDashboardReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for dashboard refresh", reflect.TypeOf(param),
		)
	}

	fetchCtxt, cancel := context.WithTimeout(b.runtimeCtxt, b.opTimeout)
	events, err := b.store.ListAll(fetchCtxt)
	cancel()
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Error(
			"Skipping dashboard refresh. Snapshot fetch failed",
		)
		return nil
	}

	b.registry.PublishAll(b.topic, events)
	log.WithFields(b.LogTags).Debugf(
		"Pushed %d records to %d dashboards for change at %s",
		len(events), b.registry.SessionCount(), request.timestamp.Format(time.RFC3339Nano),
	)
	return nil
}
