package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/devportal/pkg/logstream"
)

func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/logs/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, done func(RelayMessage) bool) []RelayMessage {
	t.Helper()
	var seen []RelayMessage
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg RelayMessage
		require.NoError(t, conn.ReadJSON(&msg))
		seen = append(seen, msg)
		if done(msg) {
			return seen
		}
	}
}

func TestLogRelay_StreamsJob(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.token(t, member))

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "subscribe", CorrelationID: "job-1"}))

	var logs []logstream.LogEntry
	msgs := readUntil(t, conn, func(m RelayMessage) bool {
		if m.Reset {
			logs = nil
		}
		logs = append(logs, m.Logs...)
		return m.Progress != nil && m.Progress.IsComplete
	})

	last := msgs[len(msgs)-1]
	assert.Equal(t, "job-1", last.CorrelationID)
	assert.Equal(t, logstream.StateDisconnected, last.Status.State)
	assert.Equal(t, float64(50), last.Progress.PercentComplete)
	require.Len(t, logs, 1)
	assert.Equal(t, "enrichment started", logs[0].Message)

	assert.Eventually(t, func() bool {
		return f.relay.ws.GetStreamSubscribers("job-1") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLogRelay_Commands(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.token(t, member))

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "ping"}))
	readUntil(t, conn, func(m RelayMessage) bool { return m.Type == "pong" })

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "subscribe"}))
	errMsg := readUntil(t, conn, func(m RelayMessage) bool { return m.Type == "error" })
	assert.Equal(t, "correlation_id is required", errMsg[len(errMsg)-1].Message)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "shout"}))
	readUntil(t, conn, func(m RelayMessage) bool { return m.Type == "error" })

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "subscribe", CorrelationID: "job-2"}))
	readUntil(t, conn, func(m RelayMessage) bool { return len(m.Logs) > 0 })

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "clear"}))
	readUntil(t, conn, func(m RelayMessage) bool { return m.Reset && len(m.Logs) == 0 })
}

func TestLogRelay_ClosesClientOnDisconnect(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.token(t, member))

	assert.Eventually(t, func() bool { return f.relay.ws.GetConnectedClients() == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return f.relay.ws.GetConnectedClients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLogRelay_RequiresAuthentication(t *testing.T) {
	f := newFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/logs/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDeltaTracker(t *testing.T) {
	var d deltaTracker
	a := logstream.LogEntry{Message: "a"}
	b := logstream.LogEntry{Message: "b"}

	m := d.next(logstream.Snapshot{CorrelationID: "job", Epoch: 1, Logs: []logstream.LogEntry{a}})
	assert.True(t, m.Reset)
	assert.Len(t, m.Logs, 1)

	m = d.next(logstream.Snapshot{CorrelationID: "job", Epoch: 1, Logs: []logstream.LogEntry{a, b}})
	assert.False(t, m.Reset)
	assert.Equal(t, []logstream.LogEntry{b}, m.Logs)

	m = d.next(logstream.Snapshot{CorrelationID: "job", Epoch: 2})
	assert.True(t, m.Reset)
	assert.Empty(t, m.Logs)

	m = d.next(logstream.Snapshot{CorrelationID: "other", Epoch: 3, Logs: []logstream.LogEntry{a}})
	assert.True(t, m.Reset)
}

func TestDeltaTracker_ClearThenAppendBetweenReads(t *testing.T) {
	var d deltaTracker
	old := make([]logstream.LogEntry, 5)
	for i := range old {
		old[i] = logstream.LogEntry{Message: fmt.Sprintf("old-%d", i)}
	}
	fresh := make([]logstream.LogEntry, 6)
	for i := range fresh {
		fresh[i] = logstream.LogEntry{Message: fmt.Sprintf("new-%d", i)}
	}

	d.next(logstream.Snapshot{CorrelationID: "job", Epoch: 1, Logs: old})

	// the cleared snapshot was overwritten before the writer saw it
	m := d.next(logstream.Snapshot{CorrelationID: "job", Epoch: 2, Logs: fresh})
	assert.True(t, m.Reset)
	assert.Equal(t, fresh, m.Logs)
}

func TestDeltaTracker_SwitchAndBackBetweenReads(t *testing.T) {
	var d deltaTracker
	a := logstream.LogEntry{Message: "a"}
	b := logstream.LogEntry{Message: "b"}

	d.next(logstream.Snapshot{CorrelationID: "job-a", Epoch: 1, Logs: []logstream.LogEntry{a}})

	m := d.next(logstream.Snapshot{CorrelationID: "job-a", Epoch: 3, Logs: []logstream.LogEntry{b, a}})
	assert.True(t, m.Reset)
	assert.Equal(t, []logstream.LogEntry{b, a}, m.Logs)
}

// feedTransport forwards events from a channel until the stream is closed
type feedTransport struct {
	events chan logstream.Event
}

func (f feedTransport) Stream(ctx context.Context, correlationID string, onOpen func(), onEvent func(logstream.Event)) error {
	onOpen()
	for {
		select {
		case ev := <-f.events:
			onEvent(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func TestLogRelay_ClearThenAppendReachesBrowser(t *testing.T) {
	feed := feedTransport{events: make(chan logstream.Event)}
	client := logstream.NewClient(feed, logstream.Options{})
	defer client.Close()
	snapshots, unsubscribe := client.Subscribe()
	defer unsubscribe()

	var d deltaTracker
	var view []logstream.LogEntry
	readUntilLogs := func(n int, last string) {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case snap := <-snapshots:
				m := d.next(snap)
				if m.Reset {
					view = nil
				}
				view = append(view, m.Logs...)
				if len(snap.Logs) == n && snap.Logs[n-1].Message == last {
					return
				}
			case <-timeout:
				t.Fatalf("no snapshot with %d logs", n)
			}
		}
	}
	send := func(prefix string, n int) {
		for i := 0; i < n; i++ {
			feed.events <- logstream.Event{
				Name: logstream.EventLog,
				Data: []byte(fmt.Sprintf(`{"timestamp":"t","level":"info","message":"%s-%d"}`, prefix, i)),
			}
		}
	}

	client.Connect("job-1")
	send("old", 5)
	readUntilLogs(5, "old-4")

	client.ClearLogs()
	send("new", 6)
	require.Eventually(t, func() bool { return len(client.Logs()) == 6 }, time.Second, 10*time.Millisecond)
	readUntilLogs(6, "new-5")

	assert.Equal(t, client.Logs(), view)
}
