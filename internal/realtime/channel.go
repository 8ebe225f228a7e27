// Package realtime provides the WebSocket subscription channel for live
// entity updates pushed by other devices.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/logging"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
	synccore "github.com/Sugarbait/PhaetonAICRM-sub017/internal/sync"
)

// Envelope wraps all WebSocket messages.
type Envelope struct {
	Type      string                 `json:"type"`
	Table     string                 `json:"table,omitempty"`
	EntityID  string                 `json:"entityId,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
}

const (
	MsgSubscribe     = "subscribe"
	MsgUnsubscribe   = "unsubscribe"
	MsgEntityChanged = "entity.changed"
)

const (
	writeWait        = 10 * time.Second
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
	handshakeTimeout = 10 * time.Second
)

type subscription struct {
	id       uint64
	ref      models.EntityRef
	onChange func(models.Snapshot)
}

// Channel is a client-side WebSocket subscriber. It dials the realtime
// endpoint, dispatches entity-change envelopes to per-entity callbacks
// and reconnects with exponential backoff, replaying subscriptions
// after each reconnect.
type Channel struct {
	url     string
	dialer  *websocket.Dialer
	onState func(connected bool)

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string][]*subscription
	nextID uint64
	closed bool
	done   chan struct{}
}

// NewChannel creates a Channel for the given endpoint. onState, when
// non-nil, is invoked on every connect and disconnect.
func NewChannel(url string, onState func(connected bool)) *Channel {
	return &Channel{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		onState: onState,
		subs:    make(map[string][]*subscription),
		done:    make(chan struct{}),
	}
}

// Connect dials the endpoint and starts the read loop. The loop owns
// reconnection from then on; Connect itself fails only when the first
// dial does.
func (c *Channel) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransientRemote, "realtime dial failed", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return apperrors.New(apperrors.ErrRealtimeClosed, "channel is closed")
	}
	c.conn = conn
	refs := c.subscribedRefsLocked()
	c.mu.Unlock()

	// Subscriptions registered before the dial are announced now.
	for _, ref := range refs {
		c.send(conn, Envelope{
			Type:     MsgSubscribe,
			Table:    ref.Table,
			EntityID: ref.EntityID,
		})
	}

	c.notifyState(true)
	go c.readLoop(conn)
	return nil
}

// subscribedRefsLocked lists one ref per active subscription key. The
// caller holds c.mu.
func (c *Channel) subscribedRefsLocked() []models.EntityRef {
	var refs []models.EntityRef
	for _, subs := range c.subs {
		if len(subs) > 0 {
			refs = append(refs, subs[0].ref)
		}
	}
	return refs
}

// Subscribe registers a callback for one entity's live updates and
// tells the server to start streaming them.
func (c *Channel) Subscribe(ref models.EntityRef, onChange func(models.Snapshot)) (synccore.Unsubscribe, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrRealtimeClosed, "channel is closed")
	}
	c.nextID++
	sub := &subscription{id: c.nextID, ref: ref, onChange: onChange}
	key := ref.Key()
	first := len(c.subs[key]) == 0
	c.subs[key] = append(c.subs[key], sub)
	conn := c.conn
	c.mu.Unlock()

	if first && conn != nil {
		if err := c.send(conn, Envelope{
			Type:     MsgSubscribe,
			Table:    ref.Table,
			EntityID: ref.EntityID,
		}); err != nil {
			logging.Warn("Realtime subscribe message failed",
				map[string]interface{}{"entity": key, "error": err.Error()})
		}
	}

	return func() { c.unsubscribe(key, sub.id) }, nil
}

func (c *Channel) unsubscribe(key string, id uint64) {
	c.mu.Lock()
	subs := c.subs[key]
	for i, s := range subs {
		if s.id == id {
			c.subs[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	last := len(c.subs[key]) == 0
	if last {
		delete(c.subs, key)
	}
	conn := c.conn
	var ref models.EntityRef
	if last && len(subs) > 0 {
		ref = subs[0].ref
	}
	c.mu.Unlock()

	if last && conn != nil && !ref.IsZero() {
		c.send(conn, Envelope{
			Type:     MsgUnsubscribe,
			Table:    ref.Table,
			EntityID: ref.EntityID,
		})
	}
}

// Close shuts the channel down. Registered callbacks are dropped and no
// further reconnects happen.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.subs = make(map[string][]*subscription)
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return nil
}

// readLoop consumes envelopes until the connection breaks, then hands
// off to the reconnect loop.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.notifyState(false)
			if !c.isClosed() {
				logging.Warn("Realtime connection lost, reconnecting",
					map[string]interface{}{"error": err.Error()})
				c.reconnect()
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logging.Warn("Dropping malformed realtime message",
				map[string]interface{}{"error": err.Error()})
			continue
		}
		if env.Type != MsgEntityChanged {
			continue
		}
		c.dispatch(env)
	}
}

// dispatch fans one change envelope out to the entity's subscribers.
func (c *Channel) dispatch(env Envelope) {
	ref := models.EntityRef{Table: env.Table, EntityID: env.EntityID}

	c.mu.Lock()
	subs := append([]*subscription{}, c.subs[ref.Key()]...)
	c.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	for _, sub := range subs {
		snap := models.Snapshot{Ref: ref, Fields: env.Fields}
		sub.onChange(*snap.Clone())
	}
}

// reconnect redials with exponential backoff and replays subscriptions.
func (c *Channel) reconnect() {
	backoff := initialBackoff
	for {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		refs := c.subscribedRefsLocked()
		c.mu.Unlock()

		for _, ref := range refs {
			c.send(conn, Envelope{
				Type:     MsgSubscribe,
				Table:    ref.Table,
				EntityID: ref.EntityID,
			})
		}

		c.notifyState(true)
		logging.Info("Realtime connection restored", nil)
		go c.readLoop(conn)
		return
	}
}

func (c *Channel) send(conn *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) notifyState(connected bool) {
	if c.onState != nil {
		c.onState(connected)
	}
}
