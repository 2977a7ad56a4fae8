// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/indoor_positioning/internal/kalman"
	"github.com/relabs-tech/indoor_positioning/internal/uwb"
)

func TestLatestEstimateEndpoint(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/estimate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	hub.OnEstimate(kalman.Estimate{Seq: 3, Filtered: kalman.Position{X: 1, Y: 2, Z: 1.5}})

	resp, err = http.Get(srv.URL + "/api/estimate")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var got kalman.Estimate
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, uint64(3), got.Seq)
	assert.Equal(t, 2.0, got.Filtered.Y)
}

func TestWebsocketStreamsEstimates(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.OnEstimate(kalman.Estimate{Seq: 1, Raw: uwb.LocationFix{X: 1, Quality: -1}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got kalman.Estimate
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, uint64(1), got.Seq)
	assert.Equal(t, int8(-1), got.Raw.Quality)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}
