package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"diffusion_backend/training"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FeedConfig tunes the job feed's connection handling.
type FeedConfig struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	// ClientBuffer is the per-client queue. A client that falls this far
	// behind is disconnected.
	ClientBuffer int
	// CheckOrigin defaults to accepting any origin.
	CheckOrigin func(r *http.Request) bool
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		ClientBuffer: 64,
	}
}

// JobFeed pushes every training event to connected websocket clients. It
// implements training.Observer; Publish never blocks the job stream.
type JobFeed struct {
	cfg      FeedConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
	once   sync.Once
}

func NewJobFeed(cfg FeedConfig, logger *zap.Logger) *JobFeed {
	def := DefaultFeedConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = 2 * cfg.PingInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	check := cfg.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobFeed{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "job_feed")),
		clients: make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     check,
		},
	}
}

// Publish implements training.Observer.
func (f *JobFeed) Publish(e training.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		f.logger.Warn("failed to encode job event", zap.String("event", e.Name), zap.Error(err))
		return
	}

	f.mu.RLock()
	var slow []*feedClient
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	f.mu.RUnlock()

	for _, c := range slow {
		f.logger.Warn("job feed client too slow, disconnecting", zap.String("remote_addr", c.remote))
		f.remove(c)
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// leaves or the feed is closed.
func (f *JobFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Debug("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, f.cfg.ClientBuffer), remote: clientIP(r)}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.clients[c] = struct{}{}
	n := len(f.clients)
	f.mu.Unlock()
	f.logger.Info("job feed client connected", zap.String("remote_addr", c.remote), zap.Int("clients", n))

	go f.writePump(c)
	f.readPump(c)
}

func (f *JobFeed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Close disconnects every client and refuses new ones.
func (f *JobFeed) Close(context.Context) error {
	f.mu.Lock()
	f.closed = true
	clients := make([]*feedClient, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()

	for _, c := range clients {
		f.remove(c)
	}
	return nil
}

func (f *JobFeed) remove(c *feedClient) {
	c.once.Do(func() {
		f.mu.Lock()
		delete(f.clients, c)
		n := len(f.clients)
		close(c.send)
		f.mu.Unlock()
		f.logger.Info("job feed client disconnected", zap.String("remote_addr", c.remote), zap.Int("clients", n))
	})
}

// readPump discards client messages and keeps the read deadline fresh.
func (f *JobFeed) readPump(c *feedClient) {
	defer f.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(f.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(f.cfg.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug("job feed read error", zap.Error(err))
			}
			return
		}
	}
}

func (f *JobFeed) writePump(c *feedClient) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				f.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.remove(c)
				return
			}
		}
	}
}
