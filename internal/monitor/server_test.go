// ABOUTME: Tests for the monitor HTTP and websocket feed
// ABOUTME: Uses httptest servers and a gorilla websocket client
package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/audioc/internal/player"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInfo() Info {
	return Info{Instance: "desk", Group: "239.0.0.1:5004", SSRC: 0xcafe, Format: "8000Hz mono U8", PacketMs: 20}
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg inbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHealth(t *testing.T) {
	s := New(Config{Info: testInfo()})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "desk", body["instance"])
}

func TestStatsEndpoint(t *testing.T) {
	s := New(Config{Info: testInfo()})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, body)
	assert.Empty(t, resp.Header.Get("Content-Type"))

	s.Publish(player.Stats{State: player.Steady, Sent: 7, LostNoise: 2, Depth: 3, Theoretical: 1500 * time.Millisecond})

	resp, err = http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload StatsPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "steady", payload.State)
	assert.Equal(t, int64(7), payload.Sent)
	assert.Equal(t, int64(2), payload.LostNoise)
	assert.Equal(t, 3, payload.Depth)
	assert.Equal(t, int64(1500), payload.TheoreticalMs)
}

func TestUnknownRoute(t *testing.T) {
	s := New(Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketHelloAndStats(t *testing.T) {
	s := New(Config{Info: testInfo()})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)

	hello := readMessage(t, conn)
	require.Equal(t, TypeHello, hello.Type)
	var info Info
	require.NoError(t, json.Unmarshal(hello.Payload, &info))
	assert.Equal(t, testInfo(), info)

	// The writer starts after registration, so hello implies the client is registered
	s.Publish(player.Stats{Received: 42})

	msg := readMessage(t, conn)
	require.Equal(t, TypeStats, msg.Type)
	var payload StatsPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, int64(42), payload.Received)
}

func TestWebSocketSendsLastSnapshotOnConnect(t *testing.T) {
	s := New(Config{Info: testInfo()})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	s.Publish(player.Stats{Played: 9})

	conn := dial(t, ts)
	assert.Equal(t, TypeHello, readMessage(t, conn).Type)

	msg := readMessage(t, conn)
	require.Equal(t, TypeStats, msg.Type)
	var payload StatsPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, int64(9), payload.Played)
}

func TestWebSocketControl(t *testing.T) {
	got := make(chan Control, 1)
	s := New(Config{Info: testInfo(), OnControl: func(c Control) { got <- c }})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"other","payload":{}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"monitor/control","payload":{"volume":55}}`)))

	select {
	case c := <-got:
		require.NotNil(t, c.Volume)
		assert.Equal(t, 55, *c.Volume)
		assert.Nil(t, c.Muted)
	case <-time.After(2 * time.Second):
		t.Fatal("control not delivered")
	}
}

func TestStartStop(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0", Info: testInfo()})
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestStartBadAddress(t *testing.T) {
	s := New(Config{Addr: "256.0.0.1:bad"})
	assert.Error(t, s.Start())
	assert.Empty(t, s.Addr())
}
