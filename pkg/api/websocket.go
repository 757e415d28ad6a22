package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tcmartin/devportal/pkg/auth"
	"github.com/tcmartin/devportal/pkg/logging"
	"github.com/tcmartin/devportal/pkg/logstream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// StreamFactory builds a log-stream client that calls the enrichment API
// with creds
type StreamFactory func(creds auth.Credentials) *logstream.Client

// ConnectionMetadata stores metadata about a WebSocket connection
type ConnectionMetadata struct {
	UserID        string
	OrgID         string
	ConnectedAt   time.Time
	LastPongAt    time.Time
	CorrelationID string
}

// RelayMessage is sent to the browser
type RelayMessage struct {
	// Type is "update", "pong" or "error"
	Type          string                  `json:"type"`
	CorrelationID string                  `json:"correlation_id,omitempty"`
	Reset         bool                    `json:"reset,omitempty"`
	Logs          []logstream.LogEntry    `json:"logs,omitempty"`
	Status        *logstream.StreamStatus `json:"status,omitempty"`
	Progress      *logstream.Progress     `json:"progress,omitempty"`
	Attempt       int                     `json:"reconnect_attempt,omitempty"`
	Message       string                  `json:"message,omitempty"`
	Timestamp     time.Time               `json:"timestamp"`
}

// WebSocketMessage represents incoming WebSocket messages
type WebSocketMessage struct {
	// Type is "subscribe", "unsubscribe", "clear" or "ping"
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WebSocketManager relays enrichment log streams to browsers. Every
// connection owns one log-stream client, closed with the connection.
type WebSocketManager struct {
	upgrader websocket.Upgrader
	streams  StreamFactory
	logger   logging.Logger

	mu          sync.RWMutex
	connections map[*websocket.Conn]*ConnectionMetadata
}

// NewWebSocketManager creates a new WebSocket manager. allowedOrigins
// follows the CORS setting; an empty list allows same-origin requests only.
func NewWebSocketManager(streams StreamFactory, allowedOrigins []string, logger logging.Logger) *WebSocketManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &WebSocketManager{
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		streams:     streams,
		logger:      logger,
		connections: make(map[*websocket.Conn]*ConnectionMetadata),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

// HandleWebSocket upgrades the request and relays the caller's log streams
func (wsm *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request, creds auth.Credentials, p auth.Principal) {
	conn, err := wsm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsm.logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	now := time.Now()
	wsm.mu.Lock()
	wsm.connections[conn] = &ConnectionMetadata{
		UserID:      p.UserID,
		OrgID:       p.OrgID,
		ConnectedAt: now,
		LastPongAt:  now,
	}
	wsm.mu.Unlock()

	client := wsm.streams(creds)
	snapshots, unsubscribe := client.Subscribe()
	outbound := make(chan RelayMessage, 8)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	defer func() {
		close(done)
		<-writerDone
		unsubscribe()
		client.Close()

		wsm.mu.Lock()
		delete(wsm.connections, conn)
		wsm.mu.Unlock()
		wsm.logger.Debug("websocket connection closed", logging.F("user_id", p.UserID))
	}()

	wsm.logger.Debug("websocket connection established", logging.F("user_id", p.UserID))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		wsm.mu.Lock()
		if meta, ok := wsm.connections[conn]; ok {
			meta.LastPongAt = time.Now()
		}
		wsm.mu.Unlock()
		return nil
	})

	go wsm.writeLoop(conn, snapshots, outbound, done, writerDone)

	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsm.logger.Debug("websocket read failed", logging.Err(err))
			}
			return
		}
		if reply, ok := wsm.handleMessage(conn, client, &msg); ok {
			select {
			case outbound <- reply:
			case <-writerDone:
				return
			}
		}
	}
}

// handleMessage applies a browser command and returns an optional reply
func (wsm *WebSocketManager) handleMessage(conn *websocket.Conn, client *logstream.Client, msg *WebSocketMessage) (RelayMessage, bool) {
	switch msg.Type {
	case "subscribe":
		if msg.CorrelationID == "" {
			return errorMessage("correlation_id is required"), true
		}
		wsm.setCorrelation(conn, msg.CorrelationID)
		// an explicit subscribe also re-arms an exhausted reconnect budget
		client.Connect(msg.CorrelationID)
	case "unsubscribe":
		wsm.setCorrelation(conn, "")
		client.Disconnect()
	case "clear":
		client.ClearLogs()
	case "ping":
		return RelayMessage{Type: "pong", Timestamp: time.Now()}, true
	default:
		return errorMessage("unknown message type " + msg.Type), true
	}
	return RelayMessage{}, false
}

func (wsm *WebSocketManager) setCorrelation(conn *websocket.Conn, id string) {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()
	if meta, ok := wsm.connections[conn]; ok {
		meta.CorrelationID = id
	}
}

// writeLoop is the only goroutine writing to conn
func (wsm *WebSocketManager) writeLoop(conn *websocket.Conn, snapshots <-chan logstream.Snapshot, outbound <-chan RelayMessage, done <-chan struct{}, writerDone chan<- struct{}) {
	defer close(writerDone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	var delta deltaTracker
	for {
		var err error
		select {
		case <-done:
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			err = wsm.write(conn, delta.next(snap))
		case msg := <-outbound:
			err = wsm.write(conn, msg)
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			wsm.logger.Debug("websocket write failed", logging.Err(err))
			conn.Close()
			return
		}
	}
}

func (wsm *WebSocketManager) write(conn *websocket.Conn, msg RelayMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// deltaTracker turns snapshots into incremental updates. Logs already sent
// are omitted unless the client restarted its log sequence.
type deltaTracker struct {
	started bool
	epoch   uint64
	sent    int
}

func (d *deltaTracker) next(snap logstream.Snapshot) RelayMessage {
	msg := RelayMessage{
		Type:          "update",
		CorrelationID: snap.CorrelationID,
		Status:        &snap.Status,
		Progress:      &snap.Progress,
		Attempt:       snap.Attempt,
		Timestamp:     snap.UpdatedAt,
	}
	if !d.started || snap.Epoch != d.epoch || len(snap.Logs) < d.sent {
		msg.Reset = true
		msg.Logs = snap.Logs
	} else {
		msg.Logs = snap.Logs[d.sent:]
	}
	d.started = true
	d.epoch = snap.Epoch
	d.sent = len(snap.Logs)
	return msg
}

func errorMessage(text string) RelayMessage {
	return RelayMessage{Type: "error", Message: text, Timestamp: time.Now()}
}

// GetConnectedClients returns the number of connected clients
func (wsm *WebSocketManager) GetConnectedClients() int {
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()
	return len(wsm.connections)
}

// GetStreamSubscribers returns how many connections follow a correlation ID
func (wsm *WebSocketManager) GetStreamSubscribers(correlationID string) int {
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()
	n := 0
	for _, meta := range wsm.connections {
		if meta.CorrelationID == correlationID {
			n++
		}
	}
	return n
}
