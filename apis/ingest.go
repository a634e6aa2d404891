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

package apis

import (
	"context"
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/smartgarment/scanstream/common"
	"github.com/smartgarment/scanstream/core"
	"github.com/smartgarment/scanstream/eventstore"
	"github.com/smartgarment/scanstream/ingest"
)

// APIRestScanIngestHandler REST and websocket handler for the scan ingest
// server
type APIRestScanIngestHandler struct {
	goutils.RestAPIHandler
	listener    ingest.ScanIngestListener
	store       eventstore.ScanEventStore
	mongoClient *core.MongoClient
	natsClient  *core.NatsClient
	upgrader    websocket.Upgrader
	baseContext context.Context
	opTimeout   time.Duration
}

// GetAPIRestScanIngestHandler define APIRestScanIngestHandler.
// natsClient may be nil when the JetStream bridge is not configured; the
// readiness check then covers MongoDB only.
func GetAPIRestScanIngestHandler(
	baseContext context.Context,
	listener ingest.ScanIngestListener,
	store eventstore.ScanEventStore,
	mongoClient *core.MongoClient,
	natsClient *core.NatsClient,
	httpConfig *common.HTTPConfig,
	opTimeout time.Duration,
) (APIRestScanIngestHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "scan-ingest",
	}
	return APIRestScanIngestHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		listener:    listener,
		store:       store,
		mongoClient: mongoClient,
		natsClient:  natsClient,
		upgrader: websocket.Upgrader{
			// Scanner devices connect from the factory floor network with no
			// origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseContext: baseContext,
		opTimeout:   opTimeout,
	}, nil
}

// Write logging support
func (h APIRestScanIngestHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// =======================================================================
// Device websocket endpoint

// DeviceConnect upgrade an HTTP request to the device websocket session.
// The session runs on the request's goroutine until disconnect.
func (h APIRestScanIngestHandler) DeviceConnect(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		log.WithError(err).WithFields(localLogTags).Error("Device websocket upgrade failed")
		return
	}
	h.listener.HandleSession(h.baseContext, conn)
}

// DeviceConnectHandler Wrapper around DeviceConnect
func (h APIRestScanIngestHandler) DeviceConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.DeviceConnect(w, r)
	}
}

// =======================================================================
// Scan event query

// APIRestRespScanEvents response for listing recorded scan events
type APIRestRespScanEvents struct {
	goutils.RestAPIBaseResponse
	// Events the set of recorded scan events
	Events []eventstore.ScanEvent `json:"events"`
}

// ListScans query for all recorded scan events
func (h APIRestScanIngestHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	fetchCtxt, cancel := context.WithTimeout(r.Context(), h.opTimeout)
	events, err := h.store.ListAll(fetchCtxt)
	cancel()
	if err != nil {
		msg := "Failed to query scan events"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespScanEvents{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Events: events,
	}
}

// ListScansHandler Wrapper around ListScans
func (h APIRestScanIngestHandler) ListScansHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListScans(w, r)
	}
}

// =======================================================================
// Health checks

// Alive will return success to indicate the ingest server is live
func (h APIRestScanIngestHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestScanIngestHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready will return success if the ingest server's backends are reachable
func (h APIRestScanIngestHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if h.mongoClient != nil {
		pingCtxt, cancel := context.WithTimeout(r.Context(), h.opTimeout)
		err := h.mongoClient.Ping(pingCtxt)
		cancel()
		if err != nil {
			respCode = http.StatusInternalServerError
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
			return
		}
	}
	if h.natsClient != nil && h.natsClient.NATs().Status() != nats.CONNECTED {
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, "NATS connection not ready",
		)
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ReadyHandler Wrapper around Ready
func (h APIRestScanIngestHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
