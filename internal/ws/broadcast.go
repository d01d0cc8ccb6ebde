package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ip150-bridge/backend/internal/panel"
	"github.com/ip150-bridge/backend/internal/state"
)

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// trySend queues a message without blocking. It reports false when the
// client is closed or its buffer is full. The closed check and the send
// share the lock with close, so a concurrent removal cannot close the
// channel between the two.
func (c *client) trySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Broadcaster fans panel updates out to the connected websocket clients.
// Deltas arriving within the throttle window are merged into a single
// message; a periodic full snapshot covers clients that missed a delta.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	store          *state.Store
	log            zerolog.Logger
	throttle       time.Duration
	snapshotTicker *time.Ticker
	pendingDelta   panel.Delta
	flushTimer     *time.Timer
	flushMu        sync.Mutex
}

func NewBroadcaster(store *state.Store, logger zerolog.Logger, throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		store:    store,
		log:      logger,
		throttle: throttle,
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	snapshot := WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Status: b.store.Snapshot(),
		},
	}
	data, _ := json.Marshal(snapshot)
	// Dropping the snapshot is fine for a client that is already behind.
	c.trySend(data)

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// QueueDelta schedules a panel delta for broadcast after the throttle
// window elapses.
func (b *Broadcaster) QueueDelta(d panel.Delta) {
	if d.Empty() {
		return
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingDelta = mergeDeltas(b.pendingDelta, d)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// mergeDeltas folds b into a, keeping the later state for entries that
// appear in both.
func mergeDeltas(a, b panel.Delta) panel.Delta {
	zones := make(map[int]panel.ZoneState, len(a.Zones)+len(b.Zones))
	zoneOrder := make([]int, 0, len(a.Zones)+len(b.Zones))
	for _, z := range a.Zones {
		if _, seen := zones[z.Index]; !seen {
			zoneOrder = append(zoneOrder, z.Index)
		}
		zones[z.Index] = z.State
	}
	for _, z := range b.Zones {
		if _, seen := zones[z.Index]; !seen {
			zoneOrder = append(zoneOrder, z.Index)
		}
		zones[z.Index] = z.State
	}

	areas := make(map[int]panel.AreaState, len(a.Areas)+len(b.Areas))
	areaOrder := make([]int, 0, len(a.Areas)+len(b.Areas))
	for _, ar := range a.Areas {
		if _, seen := areas[ar.Index]; !seen {
			areaOrder = append(areaOrder, ar.Index)
		}
		areas[ar.Index] = ar.State
	}
	for _, ar := range b.Areas {
		if _, seen := areas[ar.Index]; !seen {
			areaOrder = append(areaOrder, ar.Index)
		}
		areas[ar.Index] = ar.State
	}

	var out panel.Delta
	for _, idx := range zoneOrder {
		out.Zones = append(out.Zones, panel.ZoneEntry{Index: idx, State: zones[idx]})
	}
	for _, idx := range areaOrder {
		out.Areas = append(out.Areas, panel.AreaEntry{Index: idx, State: areas[idx]})
	}
	return out
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	delta := b.pendingDelta
	b.pendingDelta = panel.Delta{}
	b.flushTimer = nil
	b.flushMu.Unlock()

	if delta.Empty() {
		return
	}

	msg := WSMessage{
		Type:    MsgDelta,
		Payload: DeltaPayload{Changes: delta},
	}
	b.broadcast(msg)
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		msg := WSMessage{
			Type: MsgSnapshot,
			Payload: SnapshotPayload{
				Status: b.store.Snapshot(),
			},
		}
		b.broadcast(msg)
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Msg("broadcast marshal failed")
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !c.trySend(data) {
			// Client can't keep up, disconnect it
			b.log.Warn().Msg("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
