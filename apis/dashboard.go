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

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/smartgarment/scanstream/common"
	"github.com/smartgarment/scanstream/dashboard"
)

// APIRestDashboardHandler websocket handler for dashboard clients
type APIRestDashboardHandler struct {
	goutils.RestAPIHandler
	listener    dashboard.Listener
	upgrader    websocket.Upgrader
	baseContext context.Context
}

// GetAPIRestDashboardHandler define APIRestDashboardHandler
func GetAPIRestDashboardHandler(
	baseContext context.Context,
	listener dashboard.Listener,
	httpConfig *common.HTTPConfig,
) (APIRestDashboardHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "dashboard",
	}
	return APIRestDashboardHandler{
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
		listener: listener,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseContext: baseContext,
	}, nil
}

// DashboardConnect upgrade an HTTP request to the dashboard websocket
// session. The session runs on the request's goroutine until disconnect.
func (h APIRestDashboardHandler) DashboardConnect(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		log.WithError(err).WithFields(localLogTags).Error("Dashboard websocket upgrade failed")
		return
	}
	h.listener.HandleSession(h.baseContext, conn)
}

// DashboardConnectHandler Wrapper around DashboardConnect
func (h APIRestDashboardHandler) DashboardConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.DashboardConnect(w, r)
	}
}
