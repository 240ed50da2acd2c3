package supabase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
)

const (
	heartbeatInterval = 30 * time.Second
	reconnectDelay    = 2 * time.Second
	eventBuffer       = 64
)

var ErrRealtimeClosed = errors.New("realtime connection closed")

// Realtime multiplexes postgres_changes channels over one websocket.
// Channels are rejoined after a reconnect.
type Realtime struct {
	url         string
	accessToken string
	log         logrus.FieldLogger
	dialer      *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]*channel
	ref    int
	closed bool
	done   chan struct{}

	writeMu       sync.Mutex
	heartbeatOnce sync.Once
}

func NewRealtime(wsURL, accessToken string, log logrus.FieldLogger) *Realtime {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Realtime{
		url:         wsURL,
		accessToken: accessToken,
		log:         log.WithField("component", "realtime"),
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		subs:        make(map[string]*channel),
		done:        make(chan struct{}),
	}
}

// Connect dials the socket if it is not open yet.
func (r *Realtime) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectLocked(ctx)
}

func (r *Realtime) connectLocked(ctx context.Context) error {
	if r.closed {
		return ErrRealtimeClosed
	}
	if r.conn != nil {
		return nil
	}

	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("realtime dial: %w", err)
	}
	r.conn = conn
	go r.readLoop(conn)
	r.heartbeatOnce.Do(func() { go r.heartbeat() })
	return nil
}

// Subscribe joins a new channel for cfg.
func (r *Realtime) Subscribe(ctx context.Context, cfg backend.SubscribeConfig) (backend.Subscription, error) {
	r.mu.Lock()
	if err := r.connectLocked(ctx); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	ch := &channel{
		rt:     r,
		topic:  "realtime:" + uuid.NewString(),
		cfg:    cfg,
		events: make(chan backend.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	r.subs[ch.topic] = ch
	join := r.joinMessageLocked(ch)
	r.mu.Unlock()

	if err := r.write(join); err != nil {
		ch.Close()
		return nil, fmt.Errorf("join %s: %w", cfg.Table, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			ch.Close()
		case <-ch.done:
		}
	}()
	return ch, nil
}

func (r *Realtime) nextRefLocked() string {
	r.ref++
	return strconv.Itoa(r.ref)
}

func (r *Realtime) joinMessageLocked(ch *channel) map[string]any {
	change := map[string]any{
		"event":  eventName(ch.cfg.Event),
		"schema": "public",
		"table":  ch.cfg.Table,
	}
	if ch.cfg.Filter != nil {
		change["filter"] = ch.cfg.Filter.String()
	}

	ref := r.nextRefLocked()
	ch.joinRef = ref
	payload := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]any{"self": false},
			"presence":         map[string]any{"key": ""},
			"postgres_changes": []any{change},
		},
	}
	if r.accessToken != "" {
		payload["access_token"] = r.accessToken
	}
	return map[string]any{
		"topic":    ch.topic,
		"event":    "phx_join",
		"payload":  payload,
		"ref":      ref,
		"join_ref": ref,
	}
}

func eventName(t backend.EventType) string {
	if t == "" {
		return string(backend.EventAll)
	}
	return string(t)
}

func (r *Realtime) write(msg any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrRealtimeClosed
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (r *Realtime) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			msg := map[string]any{
				"topic":   "phoenix",
				"event":   "heartbeat",
				"payload": map[string]any{},
				"ref":     r.nextRefLocked(),
			}
			r.mu.Unlock()
			if err := r.write(msg); err != nil && !errors.Is(err, ErrRealtimeClosed) {
				r.log.WithError(err).Debug("heartbeat failed")
			}
		}
	}
}

func (r *Realtime) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			r.handleDisconnect(conn, err)
			return
		}
		r.dispatch(msg)
	}
}

func (r *Realtime) handleDisconnect(conn *websocket.Conn, err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	conn.Close()

	r.log.WithError(err).Warn("realtime disconnected, reconnecting")
	for {
		select {
		case <-r.done:
			return
		case <-time.After(reconnectDelay):
		}

		r.mu.Lock()
		err := r.connectLocked(context.Background())
		var joins []map[string]any
		resyncs := make(map[string]string)
		if err == nil {
			for topic, ch := range r.subs {
				joins = append(joins, r.joinMessageLocked(ch))
				resyncs[topic] = ch.cfg.Table
			}
		}
		r.mu.Unlock()

		if errors.Is(err, ErrRealtimeClosed) {
			return
		}
		if err != nil {
			r.log.WithError(err).Warn("realtime reconnect failed")
			continue
		}
		for _, join := range joins {
			if err := r.write(join); err != nil {
				r.log.WithError(err).Warn("rejoin failed")
			}
		}
		// changes made while disconnected are not replayed
		now := time.Now().UTC()
		for topic, table := range resyncs {
			r.deliver(topic, backend.ResyncEvent(table, now))
		}
		r.log.WithField("channels", len(joins)).Info("realtime reconnected")
		return
	}
}

func (r *Realtime) dispatch(msg []byte) {
	fields := gjson.GetManyBytes(msg, "topic", "event", "payload")
	topic, event, payload := fields[0].String(), fields[1].String(), fields[2]

	switch event {
	case "postgres_changes":
		data := payload.Get("data")
		if !data.Exists() {
			return
		}
		r.deliver(topic, eventFromData(data))
	case "INSERT", "UPDATE", "DELETE":
		// pre-1.0 servers send the change as the event itself
		r.deliver(topic, eventFromData(payload))
	case "phx_reply":
		if payload.Get("status").String() == "error" {
			r.log.WithFields(logrus.Fields{"topic": topic, "response": payload.Get("response").Raw}).
				Warn("channel join rejected")
		}
	case "phx_error", "phx_close":
		r.log.WithField("topic", topic).Warn("channel " + event)
	case "system":
		r.log.WithFields(logrus.Fields{"topic": topic, "status": payload.Get("status").String()}).
			Debug(payload.Get("message").String())
	}
}

func (r *Realtime) deliver(topic string, ev backend.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.subs[topic]
	if !ok || !ch.cfg.Matches(ev) {
		return
	}
	select {
	case ch.events <- ev:
	default:
		r.log.WithField("topic", topic).Debug("subscriber buffer full, event dropped")
	}
}

// Close leaves every channel and closes the socket.
func (r *Realtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	conn := r.conn
	r.conn = nil
	subs := r.subs
	r.subs = make(map[string]*channel)
	for _, ch := range subs {
		close(ch.events)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		ch.once.Do(func() { close(ch.done) })
	}
	if conn == nil {
		return nil
	}

	r.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.writeMu.Unlock()
	return conn.Close()
}

// eventFromData reads a change record from payload.data, or from the
// payload itself for older servers.
func eventFromData(data gjson.Result) backend.Event {
	ev := backend.Event{
		Type:      backend.EventType(data.Get("type").String()),
		Table:     data.Get("table").String(),
		Record:    recordMap(data.Get("record")),
		OldRecord: recordMap(data.Get("old_record")),
	}
	if ts, err := time.Parse(time.RFC3339Nano, data.Get("commit_timestamp").String()); err == nil {
		ev.Timestamp = ts.UTC()
	} else {
		ev.Timestamp = time.Now().UTC()
	}
	return ev
}

// recordMap converts a row object. Integer columns become int64 and other
// numbers keep their literal text.
func recordMap(res gjson.Result) map[string]any {
	if !res.IsObject() {
		return nil
	}
	out := make(map[string]any)
	res.ForEach(func(key, v gjson.Result) bool {
		out[key.String()] = fieldValue(v)
		return true
	})
	return out
}

func fieldValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.False, gjson.True:
		return v.Bool()
	case gjson.String:
		return v.Str
	case gjson.Number:
		if i, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return i
		}
		return v.Raw
	}
	return v.Value()
}

// channel is one joined topic.
type channel struct {
	rt      *Realtime
	topic   string
	joinRef string
	cfg     backend.SubscribeConfig
	events  chan backend.Event
	done    chan struct{}
	once    sync.Once
}

func (c *channel) Events() <-chan backend.Event {
	return c.events
}

func (c *channel) Close() error {
	var err error
	c.once.Do(func() {
		r := c.rt
		r.mu.Lock()
		_, live := r.subs[c.topic]
		if live {
			delete(r.subs, c.topic)
			close(c.events)
		}
		leave := map[string]any{
			"topic":    c.topic,
			"event":    "phx_leave",
			"payload":  map[string]any{},
			"ref":      r.nextRefLocked(),
			"join_ref": c.joinRef,
		}
		r.mu.Unlock()
		close(c.done)

		if live {
			if werr := r.write(leave); werr != nil && !errors.Is(werr, ErrRealtimeClosed) {
				err = werr
			}
		}
	})
	return err
}
