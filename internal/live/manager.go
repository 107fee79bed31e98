package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lthibault/jitterbug/v2"

	"github.com/desertthunder/crawlctl/internal/models"
)

// State is the lifecycle state of a single channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

const (
	DefaultMaxReconnects = 5
	DefaultBackoff       = 3 * time.Second
)

// Handlers receive channel events. Any of them may be nil.
type Handlers struct {
	// OnOpen runs once the connection is up and returns before the first frame is read.
	// ctx is cancelled when the channel is closed.
	OnOpen func(ctx context.Context, taskID string)
	// OnMessage receives status updates. Control frames never reach it.
	OnMessage func(update models.StatusUpdate)
	OnClose   func(taskID string)
	OnError   func(taskID string, err error)
}

// Options configures a [Manager].
type Options struct {
	// Origin is the platform origin, e.g. https://crawler.example.com.
	Origin        string
	MaxReconnects int
	Backoff       time.Duration
	// PingInterval enables a jittered keepalive when positive.
	PingInterval time.Duration
	Dialer       Dialer
	Logger       *log.Logger
}

// DefaultOptions returns options with the standard reconnect policy for origin.
func DefaultOptions(origin string) Options {
	return Options{Origin: origin, MaxReconnects: DefaultMaxReconnects, Backoff: DefaultBackoff}
}

// Manager owns at most one channel per task id.
type Manager struct {
	opts   Options
	logger *log.Logger

	mu       sync.Mutex
	channels map[string]*channel
}

type channel struct {
	taskID   string
	endpoint string
	handlers Handlers

	state    State
	attempts int
	// gen identifies the current connection attempt; callbacks from older attempts are ignored.
	gen    uint64
	conn   Conn
	cancel context.CancelFunc
	timer  *time.Timer

	wmu sync.Mutex
}

// NewManager creates a manager. A nil dialer uses [WebsocketDialer].
func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.MaxReconnects < 0 {
		opts.MaxReconnects = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		opts:     opts,
		logger:   logger.With("component", "live"),
		channels: make(map[string]*channel),
	}
}

// Open starts a channel for taskID. It is a no-op while the channel is connecting, open or waiting to reconnect.
//
// Opening a channel that gave up reconnecting tries once more without resetting its failure count;
// a successful connection resets it.
func (m *Manager) Open(taskID string, h Handlers) error {
	endpoint, err := Endpoint(m.opts.Origin, taskID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[taskID]
	if ok {
		switch ch.state {
		case StateConnecting, StateOpen, StateBackoff:
			return nil
		}
		ch.handlers = h
	} else {
		ch = &channel{taskID: taskID, endpoint: endpoint, handlers: h}
		m.channels[taskID] = ch
	}
	m.connectLocked(ch)
	return nil
}

// Close tears down the channel for taskID and cancels any pending reconnect. Later events from it are discarded.
func (m *Manager) Close(taskID string) {
	m.mu.Lock()
	ch, ok := m.channels[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.channels, taskID)
	ch.state = StateClosing
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	if ch.cancel != nil {
		ch.cancel()
	}
	conn := ch.conn
	ch.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.logger.Debug("channel closed", "task_id", taskID)
}

// CloseAll closes every channel.
func (m *Manager) CloseAll() {
	for id := range m.Snapshot() {
		m.Close(id)
	}
}

// Send writes payload to the channel for taskID. []byte and string payloads are sent as-is, anything else as JSON.
// It reports false, without error, when the channel is not open.
func (m *Manager) Send(taskID string, payload any) bool {
	m.mu.Lock()
	ch, ok := m.channels[taskID]
	var conn Conn
	if ok && ch.state == StateOpen {
		conn = ch.conn
	}
	m.mu.Unlock()

	if conn == nil {
		m.logger.Warn("channel not open, dropping outbound message", "task_id", taskID)
		return false
	}

	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			m.logger.Error("failed to encode outbound message", "task_id", taskID, "error", err)
			return false
		}
	}

	ch.wmu.Lock()
	err := conn.Write(data)
	ch.wmu.Unlock()
	if err != nil {
		m.logger.Warn("failed to send on channel", "task_id", taskID, "error", err)
		return false
	}
	return true
}

// State returns the state of the channel for taskID; unknown ids are idle.
func (m *Manager) State(taskID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[taskID]; ok {
		return ch.state
	}
	return StateIdle
}

// Snapshot returns the state of every tracked channel.
func (m *Manager) Snapshot() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.channels))
	for id, ch := range m.channels {
		out[id] = ch.state
	}
	return out
}

// IDs returns the tracked task ids in sorted order.
func (m *Manager) IDs() []string {
	snap := m.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) connectLocked(ch *channel) {
	ch.gen++
	ch.state = StateConnecting
	ch.timer = nil
	ctx, cancel := context.WithCancel(context.Background())
	ch.cancel = cancel
	go m.run(ctx, ch, ch.gen)
}

// current reports whether gen is still the live attempt of ch. Callers hold m.mu.
func (m *Manager) current(ch *channel, gen uint64) bool {
	return m.channels[ch.taskID] == ch && ch.gen == gen && ch.state != StateClosing
}

func (m *Manager) handlers(ch *channel, gen uint64) (Handlers, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ch.handlers, m.current(ch, gen)
}

func (m *Manager) run(ctx context.Context, ch *channel, gen uint64) {
	logger := m.logger.With("task_id", ch.taskID)

	conn, err := m.opts.Dialer.Dial(ctx, ch.endpoint)
	if err != nil {
		h, live := m.handlers(ch, gen)
		if !live {
			return
		}
		logger.Debug("dial failed", "endpoint", ch.endpoint, "error", err)
		if h.OnError != nil {
			h.OnError(ch.taskID, err)
		}
		m.closed(ch, gen)
		return
	}

	m.mu.Lock()
	if !m.current(ch, gen) {
		m.mu.Unlock()
		conn.Close()
		return
	}
	ch.conn = conn
	ch.state = StateOpen
	ch.attempts = 0
	h := ch.handlers
	m.mu.Unlock()
	logger.Debug("channel open", "endpoint", ch.endpoint)

	if h.OnOpen != nil {
		h.OnOpen(ctx, ch.taskID)
	}
	if m.opts.PingInterval > 0 {
		go m.keepalive(ctx, ch.taskID)
	}

	for {
		data, err := conn.Read()
		if _, live := m.handlers(ch, gen); !live {
			return
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("channel read failed", "error", err)
				if h.OnError != nil {
					h.OnError(ch.taskID, err)
				}
			}
			conn.Close()
			m.closed(ch, gen)
			return
		}
		m.dispatch(logger, h, data)
	}
}

func (m *Manager) dispatch(logger *log.Logger, h Handlers, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		logger.Warn("dropping unreadable frame", "error", err)
		return
	}
	if !msg.IsUpdate() {
		logger.Debug("control frame", "type", msg.Control.Type)
		return
	}
	if h.OnMessage != nil {
		h.OnMessage(*msg.Update)
	}
}

// closed handles an unexpected end of attempt gen: either schedule a reconnect or give up.
func (m *Manager) closed(ch *channel, gen uint64) {
	m.mu.Lock()
	if !m.current(ch, gen) {
		m.mu.Unlock()
		return
	}
	ch.conn = nil
	ch.cancel()
	h := ch.handlers

	if ch.attempts >= m.opts.MaxReconnects {
		ch.state = StateIdle
		m.logger.Warn("channel gave up reconnecting; falling back to polling", "task_id", ch.taskID, "attempts", ch.attempts)
	} else {
		ch.attempts++
		ch.state = StateBackoff
		m.logger.Info("channel lost, reconnecting", "task_id", ch.taskID, "attempt", ch.attempts, "max", m.opts.MaxReconnects, "backoff", m.opts.Backoff)
		ch.timer = time.AfterFunc(m.opts.Backoff, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.current(ch, gen) && ch.state == StateBackoff {
				m.connectLocked(ch)
			}
		})
	}
	m.mu.Unlock()

	if h.OnClose != nil {
		h.OnClose(ch.taskID)
	}
}

func (m *Manager) keepalive(ctx context.Context, taskID string) {
	ticker := jitterbug.New(m.opts.PingInterval, &jitterbug.Norm{Stdev: m.opts.PingInterval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Send(taskID, models.Ping())
		}
	}
}
