package postgres

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
)

// Channel is the NOTIFY channel the row trigger publishes to.
const Channel = "row_changes"

// Listener forwards NOTIFY payloads from the row trigger to a hub.
type Listener struct {
	pq   *pq.Listener
	hub  *backend.Hub
	log  logrus.FieldLogger
	done chan struct{}
	once sync.Once
}

func Listen(dsn string, hub *backend.Hub, log logrus.FieldLogger) (*Listener, error) {
	log = log.WithField("channel", Channel)
	report := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			log.WithError(err).Warn("listener disconnected")
		case pq.ListenerEventReconnected:
			log.Info("listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.WithError(err).Warn("listener reconnect failed")
		}
	}

	pl := pq.NewListener(dsn, 10*time.Second, time.Minute, report)
	if err := pl.Listen(Channel); err != nil {
		pl.Close()
		return nil, fmt.Errorf("listen %s: %w", Channel, err)
	}

	l := &Listener{pq: pl, hub: hub, log: log, done: make(chan struct{})}
	go l.run()
	return l, nil
}

func (l *Listener) run() {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-l.done:
			return
		case n, ok := <-l.pq.Notify:
			if !ok {
				return
			}
			l.handle(n)
		case <-ping.C:
			if err := l.pq.Ping(); err != nil {
				l.log.WithError(err).Debug("listener ping failed")
			}
		}
	}
}

// notifiedTables carry the row trigger.
var notifiedTables = []string{backend.TableProducts, backend.TableOrders, backend.TableOrderItems}

// handle publishes one notification. pq sends nil after a reconnect;
// anything sent while disconnected is gone, so watchers are told to
// re-read instead.
func (l *Listener) handle(n *pq.Notification) {
	if n == nil {
		l.log.Warn("notifications may have been missed, resyncing watchers")
		now := time.Now().UTC()
		for _, table := range notifiedTables {
			l.hub.Publish(backend.ResyncEvent(table, now))
		}
		return
	}
	ev, err := parseNotification(n.Extra)
	if err != nil {
		l.log.WithError(err).Warn("bad notification payload")
		return
	}
	l.hub.Publish(ev)
}

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.pq.Close()
	})
	return err
}

type notification struct {
	Table     string         `json:"table"`
	Type      string         `json:"type"`
	Record    map[string]any `json:"record"`
	OldRecord map[string]any `json:"old_record"`
	Timestamp time.Time      `json:"timestamp"`
}

// parseNotification decodes the trigger payload. Integer columns keep
// their int64 form; other numbers, like numeric prices, become strings.
func parseNotification(payload string) (backend.Event, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()

	var n notification
	if err := dec.Decode(&n); err != nil {
		return backend.Event{}, err
	}
	if n.Table == "" || n.Type == "" {
		return backend.Event{}, fmt.Errorf("payload missing table or type")
	}

	return backend.Event{
		Type:      backend.EventType(n.Type),
		Table:     n.Table,
		Record:    normalise(n.Record),
		OldRecord: normalise(n.OldRecord),
		Timestamp: n.Timestamp.UTC(),
	}, nil
}

func normalise(rec map[string]any) map[string]any {
	if rec == nil {
		return nil
	}
	for k, v := range rec {
		num, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := num.Int64(); err == nil {
			rec[k] = i
		} else {
			rec[k] = num.String()
		}
	}
	return rec
}
