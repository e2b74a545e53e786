package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub(t *testing.T, maxClients int) (*SpectrumHub, string) {
	t.Helper()
	hub := NewSpectrumHub(ServerConfig{
		MaxClients:      maxClients,
		SendBuffer:      8,
		WriteTimeoutSec: 5,
	}, nil)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHubDeliversFramesToClient(t *testing.T) {
	hub, url := testHub(t, 4)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForClients(t, hub, 1)

	bins := testBins(SpectrumBins)
	hub.Broadcast(bins, &SpectrumSummary{BatchID: "b1", PeakBin: 12}, 1, 48000)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)

	decoded, err := DecodeSpectrumFrame(data, false)
	require.NoError(t, err)
	assert.True(t, decoded.Full, "first frame after connect carries a full header")
	assert.Equal(t, uint64(1), decoded.Seq)
	assert.Equal(t, bins, decoded.Bins)

	require.NotNil(t, hub.LatestSummary())
	assert.Equal(t, "b1", hub.LatestSummary().BatchID)
}

func TestHubRejectsExcessClients(t *testing.T) {
	hub, url := testHub(t, 1)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForClients(t, hub, 1)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}

func waitForClients(t *testing.T, hub *SpectrumHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, have %d", want, hub.ClientCount())
}
