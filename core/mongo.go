package core

import (
	"context"
	"time"

	"github.com/apex/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/smartgarment/scanstream/common"
)

// MongoConnectParams MongoDB connection parameter
type MongoConnectParams struct {
	// URI connect to MongoDB with URI
	URI string `validate:"required,uri"`
	// Database is the database holding the application collections
	Database string `validate:"required"`
	// ConnectTimeout max time to wait for connection
	ConnectTimeout time.Duration
}

// MongoClient MongoDB client as the event store backend
type MongoClient struct {
	common.Component
	client *mongo.Client
	db     *mongo.Database
}

// Collection fetch a collection handle
func (m *MongoClient) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Ping verify the server connection is still up
func (m *MongoClient) Ping(ctxt context.Context) error {
	return m.client.Ping(ctxt, readpref.Primary())
}

// Close close the MongoDB client
func (m *MongoClient) Close(ctxt context.Context) {
	if err := m.client.Disconnect(ctxt); err != nil {
		log.WithError(err).WithFields(m.LogTags).Errorf("MongoDB disconnect failed")
	}
	log.WithFields(m.LogTags).Infof("Closed MongoDB client")
}

// GetMongoClient define a new MongoDB client
func GetMongoClient(ctxt context.Context, param MongoConnectParams) (*MongoClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "mongo-backend",
		"instance":  param.URI,
	}

	connectCtxt, cancel := context.WithTimeout(ctxt, param.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtxt, options.Client().ApplyURI(param.URI))
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("MongoDB client connect failed")
		return nil, err
	}

	// Confirm the store connection is actually open before use
	if err := client.Ping(connectCtxt, readpref.Primary()); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("MongoDB server unreachable")
		return nil, err
	}
	log.WithFields(logTags).Info("Created MongoDB client")

	return &MongoClient{
		Component: common.Component{LogTags: logTags},
		client:    client,
		db:        client.Database(param.Database),
	}, nil
}
