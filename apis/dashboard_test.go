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
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/smartgarment/scanstream/dashboard"
	"github.com/smartgarment/scanstream/eventstore"
)

func TestDashboardChangeFeedFanOut(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	defer func() {
		utCtxtCancel()
		wg.Wait()
	}()

	httpConfig := utHTTPConfig()
	store := eventstore.GetInMemoryScanEventStore()
	registry := dashboard.GetSubscriberRegistry()

	listener, err := dashboard.GetListener(store, registry, "leadingLineUpdate", time.Second*5)
	assert.Nil(err)

	broadcaster, err := dashboard.GetChangeFeedBroadcaster(
		utCtxt, store, registry, "leadingLineUpdate", time.Second*5,
	)
	assert.Nil(err)
	assert.Nil(broadcaster.Start(&wg))

	handler, err := GetAPIRestDashboardHandler(utCtxt, listener, &httpConfig)
	assert.Nil(err)

	router := mux.NewRouter()
	_ = RegisterPathPrefix(router, "/dashboard-ws", map[string]http.HandlerFunc{
		"get": handler.DashboardConnectHandler(),
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/dashboard-ws"
	dashA, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Nil(err)
	defer func() { _ = dashA.Close() }()
	dashB, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Nil(err)
	defer func() { _ = dashB.Close() }()

	// Dashboard registration happens on the session goroutine; wait for
	// both connections to appear
	for i := 0; registry.SessionCount() < 2 && i < 50; i++ {
		time.Sleep(time.Millisecond * 100)
	}
	assert.Equal(2, registry.SessionCount())

	readUpdate := func(conn *websocket.Conn) dashboard.Update {
		assert.Nil(conn.SetReadDeadline(time.Now().Add(time.Second * 5)))
		var update dashboard.Update
		assert.Nil(conn.ReadJSON(&update))
		return update
	}

	// Case 0: a store change pushes the full collection to every dashboard
	_, err = store.Insert(utCtxt, eventstore.ScanEvent{
		ScanID: "scan-0001", TagID: "tag-1", StationID: "sewing-12", Timestamp: 1700000000000,
	})
	assert.Nil(err)
	for _, conn := range []*websocket.Conn{dashA, dashB} {
		update := readUpdate(conn)
		assert.Equal("leadingLineUpdate", update.Topic)
		records, ok := update.Data.([]interface{})
		assert.True(ok)
		assert.Len(records, 1)
	}

	// Case 1: a snapshot request is answered on the requesting connection
	// only
	assert.Nil(dashA.WriteJSON(map[string]interface{}{"action": "request_snapshot"}))
	update := readUpdate(dashA)
	assert.Equal("leadingLineUpdate", update.Topic)
	records, ok := update.Data.([]interface{})
	assert.True(ok)
	assert.Len(records, 1)

	// Case 2: malformed dashboard frames are discarded without closing the
	// session, and B saw none of the above
	assert.Nil(dashA.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Nil(dashA.WriteJSON(map[string]interface{}{"action": "request_snapshot"}))
	update = readUpdate(dashA)
	assert.Equal("leadingLineUpdate", update.Topic)

	_, err = store.Insert(utCtxt, eventstore.ScanEvent{
		ScanID: "scan-0002", TagID: "tag-2", StationID: "qa-1", Timestamp: 1700000000001,
	})
	assert.Nil(err)
	update = readUpdate(dashB)
	records, ok = update.Data.([]interface{})
	assert.True(ok)
	assert.Len(records, 2)
}
