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

package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apex/log"

	"github.com/smartgarment/scanstream/common"
	"github.com/smartgarment/scanstream/core"
	"github.com/smartgarment/scanstream/eventstore"
)

// ScanEventPublisher relays accepted scan events to a downstream
// JetStream subject for out-of-process consumers (analytics, archival)
type ScanEventPublisher interface {
	// Publish send one accepted scan event downstream
	Publish(ctxt context.Context, event eventstore.ScanEvent) error
}

// scanEventPublisherImpl implements ScanEventPublisher
type scanEventPublisherImpl struct {
	common.Component
	nats    *core.NatsClient
	subject string
}

// GetJetStreamScanPublisher get new JetStream backed ScanEventPublisher
func GetJetStreamScanPublisher(
	natsClient *core.NatsClient, subject string, instance string,
) (ScanEventPublisher, error) {
	if natsClient == nil {
		return nil, fmt.Errorf("scan event publisher requires a NATS client")
	}
	logTags := log.Fields{
		"module":    "bridge",
		"component": "js-scan-publisher",
		"instance":  instance,
		"subject":   subject,
	}
	return &scanEventPublisherImpl{
		Component: common.Component{LogTags: logTags},
		nats:      natsClient,
		subject:   subject,
	}, nil
}

// Publish send one accepted scan event downstream
func (s *scanEventPublisherImpl) Publish(
	ctxt context.Context, event eventstore.ScanEvent,
) error {
	msg, err := json.Marshal(&event)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Unable to serialize scan event %s", event.ScanID,
		)
		return err
	}
	ack, err := s.nats.JetStream().PublishAsync(s.subject, msg)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Unable to send scan event %s", event.ScanID,
		)
		return err
	}
	// Wait for success, failure, or timeout
	select {
	case goodSig, ok := <-ack.Ok():
		if !ok {
			err := fmt.Errorf("reading nats.PubAckFuture OK channel failure")
			log.WithError(err).WithFields(s.LogTags).Errorf("Scan event send failure")
			return err
		}
		log.WithFields(s.LogTags).Debugf(
			"Sent scan event %s as [%d] on %s", event.ScanID, goodSig.Sequence, goodSig.Stream,
		)
		return nil
	case txErr, ok := <-ack.Err():
		if !ok {
			err := fmt.Errorf("reading nats.PubAckFuture error channel failure")
			log.WithError(err).WithFields(s.LogTags).Errorf("Scan event send failure")
			return err
		}
		return txErr
	case <-ctxt.Done():
		err := ctxt.Err()
		log.WithError(err).WithFields(s.LogTags).Errorf("Scan event send timed out")
		return err
	}
}
