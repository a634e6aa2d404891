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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/smartgarment/scanstream/apis"
	"github.com/smartgarment/scanstream/bridge"
	"github.com/smartgarment/scanstream/common"
	"github.com/smartgarment/scanstream/core"
	"github.com/smartgarment/scanstream/dashboard"
	"github.com/smartgarment/scanstream/eventstore"
	"github.com/smartgarment/scanstream/ingest"
)

// RunIngestServer run the scan ingest server
func RunIngestServer(
	config common.SystemConfig,
	instance string,
	mongoClient *core.MongoClient,
	natsClient *core.NatsClient,
	runTimeContext context.Context,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "ingest-server",
		"instance":  instance,
	}

	opTimeout := time.Second * time.Duration(config.Mongo.OpTimeout)

	store, err := eventstore.GetMongoScanEventStore(
		runTimeContext, mongoClient, config.Mongo.Collection,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define scan event store")
		return err
	}

	// Optional downstream relay of accepted scan events
	var forwardScan ingest.ForwardScanCB
	if natsClient != nil && config.Bridge != nil {
		publisher, err := bridge.GetJetStreamScanPublisher(
			natsClient, config.Bridge.Subject, instance,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define scan publisher")
			return err
		}
		forwardScan = func(ctxt context.Context, event eventstore.ScanEvent) {
			pubCtxt, cancel := context.WithTimeout(ctxt, opTimeout)
			defer cancel()
			if err := publisher.Publish(pubCtxt, event); err != nil {
				log.WithError(err).WithFields(logTags).Errorf(
					"Unable to relay scan event %s", event.ScanID,
				)
			}
		}
	}

	deviceRegistry := ingest.GetDeviceRegistry()
	scanListener, err := ingest.GetScanIngestListener(
		store,
		deviceRegistry,
		forwardScan,
		opTimeout,
		time.Second*time.Duration(config.Ingest.Websocket.DeviceIdleTimeout),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define scan listener")
		return err
	}

	subscriberRegistry := dashboard.GetSubscriberRegistry()
	dashboardListener, err := dashboard.GetListener(
		store, subscriberRegistry, config.Ingest.Dashboard.UpdateTopic, opTimeout,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define dashboard listener")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	broadcaster, err := dashboard.GetChangeFeedBroadcaster(
		localCtxt, store, subscriberRegistry, config.Ingest.Dashboard.UpdateTopic, opTimeout,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define change-feed broadcaster")
		return err
	}
	if err := broadcaster.Start(wg); err != nil {
		// The direct scan broadcast path still works without the change feed
		log.WithError(err).WithFields(logTags).Error(
			"Continuing without dashboard change-feed refreshes",
		)
	}

	httpHandler, err := apis.GetAPIRestScanIngestHandler(
		localCtxt,
		scanListener,
		store,
		mongoClient,
		natsClient,
		&config.Ingest.HTTPSetting,
		opTimeout,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}
	dashboardHandler, err := apis.GetAPIRestDashboardHandler(
		localCtxt, dashboardListener, &config.Ingest.HTTPSetting,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define dashboard HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()

	// Websocket endpoints sit at the router root, matching what the scanner
	// firmware and dashboard clients expect
	_ = apis.RegisterPathPrefix(
		router, config.Ingest.Websocket.DevicePath, map[string]http.HandlerFunc{
			"get": httpHandler.DeviceConnectHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(
		router, config.Ingest.Websocket.DashboardPath, map[string]http.HandlerFunc{
			"get": dashboardHandler.DashboardConnectHandler(),
		},
	)

	mainRouter := apis.RegisterPathPrefix(router, config.Ingest.Endpoints.PathPrefix, nil)

	// Scan event query
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/scan", map[string]http.HandlerFunc{
		"get": httpHandler.ListScansHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.Ingest.HTTPSetting.Server.ListenOn, config.Ingest.HTTPSetting.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		ReadTimeout:  time.Second * time.Duration(config.Ingest.HTTPSetting.Server.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(config.Ingest.HTTPSetting.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(config.Ingest.HTTPSetting.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
