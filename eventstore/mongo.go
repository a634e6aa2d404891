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

	"github.com/apex/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/smartgarment/scanstream/common"
	"github.com/smartgarment/scanstream/core"
)

// mongoScanEventStore implements ScanEventStore against a MongoDB collection
type mongoScanEventStore struct {
	common.Component
	collection *mongo.Collection
}

// GetMongoScanEventStore define a ScanEventStore backed by MongoDB.
// Readies a unique index over the scan ID so write conflicts are resolved
// entirely by the store's own uniqueness constraint.
func GetMongoScanEventStore(
	ctxt context.Context, client *core.MongoClient, collectionName string,
) (ScanEventStore, error) {
	logTags := log.Fields{
		"module":    "eventstore",
		"component": "mongo-scan-store",
		"instance":  collectionName,
	}

	collection := client.Collection(collectionName)
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "scan_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := collection.Indexes().CreateOne(ctxt, index); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to ready scan ID unique index")
		return nil, err
	}

	return &mongoScanEventStore{
		Component:  common.Component{LogTags: logTags},
		collection: collection,
	}, nil
}

// Insert append a new scan event
func (s *mongoScanEventStore) Insert(
	ctxt context.Context, event ScanEvent,
) (ScanEvent, error) {
	result, err := s.collection.InsertOne(ctxt, &event)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			log.WithFields(s.LogTags).Infof(
				"Rejected duplicate scan event %s", event.ScanID,
			)
			return ScanEvent{}, ErrDuplicateID
		}
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to insert scan event %s", event.ScanID,
		)
		return ScanEvent{}, err
	}
	storeKey, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		err := fmt.Errorf("store returned unexpected key type %T", result.InsertedID)
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to read store key for scan event %s", event.ScanID,
		)
		return ScanEvent{}, err
	}
	event.StoreKey = storeKey
	log.WithFields(s.LogTags).Debugf(
		"Recorded scan event %s from station %s", event.ScanID, event.StationID,
	)
	return event, nil
}

// ListAll fetch the complete current record set
func (s *mongoScanEventStore) ListAll(ctxt context.Context) ([]ScanEvent, error) {
	cursor, err := s.collection.Find(ctxt, bson.D{})
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Scan event query failed")
		return nil, err
	}
	events := []ScanEvent{}
	if err := cursor.All(ctxt, &events); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Scan event cursor read failed")
		return nil, err
	}
	return events, nil
}

// OnChange start a long-lived subscription against the collection's change
// stream. Requires the backing deployment to support change streams; the
// caller decides how to degrade when it does not.
func (s *mongoScanEventStore) OnChange(
	ctxt context.Context, wg *sync.WaitGroup, handler ChangeHandlerCB,
) error {
	stream, err := s.collection.Watch(ctxt, mongo.Pipeline{})
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to open change stream")
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if err := stream.Close(context.Background()); err != nil {
				log.WithError(err).WithFields(s.LogTags).Error("Change stream close failed")
			}
		}()
		log.WithFields(s.LogTags).Info("Starting change stream watch")
		defer log.WithFields(s.LogTags).Info("Stopping change stream watch")
		for stream.Next(ctxt) {
			// One failed refresh must not end the subscription
			if err := handler(ctxt); err != nil {
				log.WithError(err).WithFields(s.LogTags).Error(
					"Change notification handler failed",
				)
			}
		}
		if err := stream.Err(); err != nil && ctxt.Err() == nil {
			log.WithError(err).WithFields(s.LogTags).Error("Change stream read failure")
		}
	}()
	return nil
}
