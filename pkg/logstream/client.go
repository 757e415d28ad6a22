package logstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tcmartin/devportal/pkg/logging"
)

// ConnectionLostMessage is the status error after a transport failure
const ConnectionLostMessage = "Connection lost"

// message is the tagged union posted to the dispatch loop. Every message
// carries the generation of the connection that produced it.
type message interface {
	generation() uint64
}

type openMsg struct{ gen uint64 }

type eventMsg struct {
	gen   uint64
	event Event
}

type failMsg struct {
	gen uint64
	err error
}

type retryMsg struct{ gen uint64 }

func (m openMsg) generation() uint64  { return m.gen }
func (m eventMsg) generation() uint64 { return m.gen }
func (m failMsg) generation() uint64  { return m.gen }
func (m retryMsg) generation() uint64 { return m.gen }

// Options configures a Client
type Options struct {
	// Policy bounds reconnects. The zero value means DefaultReconnectPolicy.
	Policy ReconnectPolicy

	// Scheduler runs reconnect timers. Defaults to SystemScheduler.
	Scheduler Scheduler

	// Logger receives diagnostics. Defaults to a no-op logger.
	Logger logging.Logger

	// Now stamps synthesized log entries. Defaults to time.Now.
	Now func() time.Time
}

// Client keeps a log-stream session alive and exposes its state
type Client struct {
	transport Transport
	scheduler Scheduler
	policy    ReconnectPolicy
	logger    logging.Logger
	now       func() time.Time

	inbox     chan message
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	closed        bool
	correlationID string
	gen           uint64
	cancel        context.CancelFunc
	timer         Timer
	attempt       int
	logs          []LogEntry
	epoch         uint64
	status        StreamStatus
	progress      Progress
	updatedAt     time.Time
	subs          map[int]chan Snapshot
	nextSub       int
}

// NewClient creates a Client and starts its dispatch loop. Call Close when
// the consumer goes away.
func NewClient(transport Transport, opts Options) *Client {
	c := &Client{
		transport: transport,
		scheduler: opts.Scheduler,
		policy:    opts.Policy.withDefaults(),
		logger:    opts.Logger,
		now:       opts.Now,
		inbox:     make(chan message, 64),
		done:      make(chan struct{}),
		status:    StreamStatus{State: StateDisconnected},
		subs:      make(map[int]chan Snapshot),
	}
	if c.scheduler == nil {
		c.scheduler = SystemScheduler{}
	}
	if c.logger == nil {
		c.logger = logging.NewNopLogger()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.updatedAt = c.now()

	go c.run()
	return c
}

// Connect (re)establishes the connection for correlationID. Any existing
// connection is closed first and the status is connecting when Connect
// returns. An empty correlationID is ignored. Switching to a different
// correlationID starts a fresh session.
func (c *Client) Connect(correlationID string) {
	if correlationID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if correlationID != c.correlationID {
		c.correlationID = correlationID
		c.logs = nil
		c.epoch++
		c.progress = Progress{}
	}
	c.attempt = 0
	c.connectLocked()
	c.publishLocked()
}

// SetCorrelationID follows the consumer's current correlation ID. An empty
// ID disconnects; a new ID connects; the current ID is left alone.
func (c *Client) SetCorrelationID(correlationID string) {
	if correlationID == "" {
		c.Disconnect()
		return
	}

	c.mu.Lock()
	same := correlationID == c.correlationID && c.status.State != StateDisconnected
	c.mu.Unlock()
	if same {
		return
	}
	c.Connect(correlationID)
}

// Disconnect cancels any pending reconnect and closes the connection.
// It is safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()
	if c.status.State == StateDisconnected && c.status.Error == "" {
		return
	}
	c.status = StreamStatus{State: StateDisconnected}
	c.publishLocked()
}

// ClearLogs empties the log sequence without touching the connection
func (c *Client) ClearLogs() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logs = nil
	c.epoch++
	c.publishLocked()
}

// Close disconnects and stops the dispatch loop. No state changes happen
// afterwards and subscriber channels are closed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.teardownLocked()
		c.closed = true
		c.status = StreamStatus{State: StateDisconnected}
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// Logs returns a copy of the received log entries in arrival order
func (c *Client) Logs() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry(nil), c.logs...)
}

// Status returns the current connection status
func (c *Client) Status() StreamStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Progress returns the current job progress
func (c *Client) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// ReconnectAttempt returns how many reconnects have been made since the last
// successful open
func (c *Client) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// CorrelationID returns the current session's correlation ID
func (c *Client) CorrelationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.correlationID
}

// Snapshot returns a consistent copy of all observable state
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel that receives a Snapshot after every state
// change, starting with the current one. Slow readers only see the latest
// snapshot. The returned func unsubscribes.
func (c *Client) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			close(sub)
			delete(c.subs, id)
		}
	}
}

func (c *Client) run() {
	for {
		select {
		case <-c.done:
			return
		case m := <-c.inbox:
			c.dispatch(m)
		}
	}
}

func (c *Client) dispatch(m message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || m.generation() != c.gen {
		return
	}

	changed := true
	switch msg := m.(type) {
	case openMsg:
		c.status = StreamStatus{State: StateConnected}
		c.attempt = 0
		c.logger.LogStreamEvent(c.correlationID, "open", nil)
	case eventMsg:
		changed = c.handleEventLocked(msg.event)
	case failMsg:
		c.handleFailureLocked(msg.err)
	case retryMsg:
		c.timer = nil
		c.attempt++
		c.logger.LogStreamEvent(c.correlationID, "reconnect", map[string]interface{}{"attempt": c.attempt})
		c.connectLocked()
	}

	if changed {
		c.publishLocked()
	}
}

func (c *Client) handleEventLocked(ev Event) bool {
	switch ev.Name {
	case EventLog:
		entry, err := DecodeLogEntry(ev.Data)
		if err != nil {
			c.logger.Warn("dropping malformed log event",
				logging.F("correlation_id", c.correlationID), logging.Err(err))
			return false
		}
		c.logs = append(c.logs, entry)
		return true

	case EventStatus:
		p, err := decodeStatus(ev.Data)
		if err != nil {
			c.logger.Warn("dropping malformed status event",
				logging.F("correlation_id", c.correlationID), logging.Err(err))
			return false
		}
		if p.PercentComplete != nil {
			c.progress.PercentComplete = clampPercent(*p.PercentComplete)
		}
		if isFinalStatus(p.Status) {
			c.progress.IsComplete = true
		}
		return true

	case EventComplete:
		c.progress.IsComplete = true
		c.teardownLocked()
		c.status = StreamStatus{State: StateDisconnected}
		c.logger.LogStreamEvent(c.correlationID, "complete", nil)
		return true

	case EventError:
		c.logs = append(c.logs, applicationErrorEntry(ev.Data, c.now().UTC().Format(time.RFC3339Nano)))
		return true

	case EventHeartbeat:
		return false

	default:
		c.logger.Debug("ignoring unknown stream event",
			logging.F("correlation_id", c.correlationID), logging.F("event", ev.Name))
		return false
	}
}

func (c *Client) handleFailureLocked(err error) {
	c.teardownLocked()

	if errors.Is(err, ErrSetup) {
		c.status = StreamStatus{State: StateError, Error: err.Error()}
		c.logger.Error("log stream setup failed",
			logging.F("correlation_id", c.correlationID), logging.Err(err))
		return
	}

	c.status = StreamStatus{State: StateError, Error: ConnectionLostMessage}
	if c.progress.IsComplete {
		return
	}
	if !c.policy.CanRetry(c.attempt) {
		c.logger.Warn("log stream connection lost",
			logging.F("correlation_id", c.correlationID),
			logging.F("attempts", c.attempt),
			logging.Err(ErrExhaustedRetries))
		return
	}

	delay := c.policy.Delay(c.attempt)
	gen := c.gen
	c.logger.Info("log stream connection lost, reconnecting",
		logging.F("correlation_id", c.correlationID),
		logging.F("attempt", c.attempt+1),
		logging.F("delay", delay.String()),
		logging.Err(err))
	c.timer = c.scheduler.AfterFunc(delay, func() {
		c.enqueue(retryMsg{gen: gen})
	})
}

// connectLocked closes the current connection and opens a new one for the
// session's correlation ID.
func (c *Client) connectLocked() {
	c.teardownLocked()
	c.status = StreamStatus{State: StateConnecting}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	gen := c.gen
	correlationID := c.correlationID

	go c.stream(ctx, gen, correlationID)
}

// teardownLocked stops the reconnect timer and closes the connection. Bumping
// the generation invalidates everything already in flight.
func (c *Client) teardownLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
}

func (c *Client) stream(ctx context.Context, gen uint64, correlationID string) {
	err := c.transport.Stream(ctx, correlationID,
		func() { c.post(ctx, openMsg{gen: gen}) },
		func(ev Event) { c.post(ctx, eventMsg{gen: gen, event: ev}) },
	)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = &TransportError{Err: ErrStreamClosed}
	}
	c.post(ctx, failMsg{gen: gen, err: err})
}

// post delivers a connection message unless the connection was closed.
func (c *Client) post(ctx context.Context, m message) {
	select {
	case c.inbox <- m:
	case <-ctx.Done():
	case <-c.done:
	}
}

// enqueue delivers a timer message unless the client was closed.
func (c *Client) enqueue(m message) {
	select {
	case c.inbox <- m:
	case <-c.done:
	}
}

func (c *Client) snapshotLocked() Snapshot {
	return Snapshot{
		CorrelationID: c.correlationID,
		Logs:          append([]LogEntry(nil), c.logs...),
		Epoch:         c.epoch,
		Status:        c.status,
		Progress:      c.progress,
		Attempt:       c.attempt,
		UpdatedAt:     c.updatedAt,
	}
}

func (c *Client) publishLocked() {
	c.updatedAt = c.now()
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
