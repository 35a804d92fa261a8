package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"sokoyetu-ai/internal/common"
	"sokoyetu-ai/internal/tracking"
)

const (
	feedBuffer       = 256
	clientBuffer     = 32
	feedWriteTimeout = 5 * time.Second
)

// FeedMetrics receives prediction feed instrumentation.
type FeedMetrics interface {
	FeedClientsSet(n int)
	FeedDroppedInc()
}

// FeedEvent is one logged prediction as streamed to feed clients.
type FeedEvent struct {
	RunID     string         `json:"run_id"`
	Model     string         `json:"model"`
	Vertical  string         `json:"vertical"`
	Degraded  bool           `json:"degraded"`
	Failed    bool           `json:"failed"`
	Output    map[string]any `json:"output,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed streams logged predictions to websocket clients. It implements
// tracking.Observer; a slow client loses messages instead of stalling the
// tracker.
type Feed struct {
	upgrader websocket.Upgrader
	metrics  FeedMetrics

	clientsMu sync.RWMutex
	clients   map[*feedClient]struct{}

	broadcast chan FeedEvent
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

var _ tracking.Observer = (*Feed)(nil)

// NewFeed returns a stopped feed. metrics may be nil.
func NewFeed(metrics FeedMetrics) *Feed {
	return &Feed{
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		metrics:   metrics,
		clients:   make(map[*feedClient]struct{}),
		broadcast: make(chan FeedEvent, feedBuffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the broadcaster.
func (f *Feed) Start() {
	f.startOnce.Do(func() { go f.run() })
}

// Stop ends the broadcaster and disconnects every client.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		close(f.stop)
		f.startOnce.Do(func() { close(f.done) })
		<-f.done

		f.clientsMu.Lock()
		for c := range f.clients {
			f.removeLocked(c)
		}
		f.clientsMu.Unlock()
	})
}

// ObserveRun queues prediction runs for broadcast. It never blocks.
func (f *Feed) ObserveRun(run tracking.Run) {
	if run.Type != tracking.RunPrediction {
		return
	}
	ev := FeedEvent{
		RunID:     run.ID,
		Model:     run.Model,
		Vertical:  run.Tags[common.TagVertical],
		Degraded:  run.Tags[common.TagDegraded] == "true",
		Failed:    run.Tags[common.TagFailed] == "true",
		Output:    run.Output,
		CreatedAt: run.CreatedAt,
	}
	select {
	case f.broadcast <- ev:
	default:
		f.dropped()
	}
}

// Clients reports the number of connected clients.
func (f *Feed) Clients() int {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	return len(f.clients)
}

func (f *Feed) run() {
	defer close(f.done)
	for {
		select {
		case ev := <-f.broadcast:
			f.broadcastToClients(ev)
		case <-f.stop:
			return
		}
	}
}

func (f *Feed) broadcastToClients(ev FeedEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("run_id", ev.RunID).Msg("Failed to marshal feed event")
		return
	}
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			f.dropped()
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade feed connection")
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, clientBuffer)}

	f.clientsMu.Lock()
	select {
	case <-f.stop:
		f.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	f.clients[c] = struct{}{}
	n := len(f.clients)
	f.clientsMu.Unlock()
	f.clientsChanged(n)
	log.Debug().Str("remote", r.RemoteAddr).Msg("Feed client connected")

	go f.writePump(c)

	// Reads only detect the close; clients send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	f.clientsMu.Lock()
	f.removeLocked(c)
	n = len(f.clients)
	f.clientsMu.Unlock()
	f.clientsChanged(n)
}

func (f *Feed) writePump(c *feedClient) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Msg("Feed client write failed")
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// removeLocked must be called with clientsMu held.
func (f *Feed) removeLocked(c *feedClient) {
	if _, ok := f.clients[c]; !ok {
		return
	}
	delete(f.clients, c)
	close(c.send)
}

func (f *Feed) clientsChanged(n int) {
	if f.metrics != nil {
		f.metrics.FeedClientsSet(n)
	}
}

func (f *Feed) dropped() {
	if f.metrics != nil {
		f.metrics.FeedDroppedInc()
	}
}
