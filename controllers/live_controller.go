package controllers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/notifier"
	"github.com/Zoro-chi/FoodOrderingApp/query"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame types sent on live sockets.
const (
	FrameSnapshot = "snapshot"
	FrameChanged  = "changed"
	FrameError    = "error"
)

// LiveFrame carries a freshly fetched view after the key was invalidated.
type LiveFrame struct {
	Type  string    `json:"type"`
	Key   query.Key `json:"key"`
	Data  any       `json:"data,omitempty"`
	Error string    `json:"error,omitempty"`
}

// LiveController streams order views over websockets. Each socket owns
// one notifier watch for exactly as long as it is open.
type LiveController struct {
	orders   *OrderController
	notifier *notifier.Notifier
	log      logrus.FieldLogger
}

func NewLiveController(orders *OrderController, n *notifier.Notifier, log logrus.FieldLogger) *LiveController {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LiveController{orders: orders, notifier: n, log: log.WithField("component", "live")}
}

// OrderLive follows one order. The first frame is the current order; a
// new frame follows every update of the row.
func (lc *LiveController) OrderLive(c *gin.Context) {
	id, ok := parseID(c, "id", "order")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c, requestTimeout)
	_, err := lc.orders.visibleOrder(ctx, c, id)
	cancel()
	if err != nil {
		respondError(c, err)
		return
	}

	lc.serve(c, query.OrderKey(id),
		func(ctx context.Context) (any, error) { return lc.orders.order(ctx, id) },
		func(ctx context.Context, h notifier.Handler) (*notifier.Watch, error) {
			return lc.notifier.WatchOrder(ctx, id, h)
		})
}

// AdminOrdersLive follows the active order list and refreshes it whenever
// an order is placed.
func (lc *LiveController) AdminOrdersLive(c *gin.Context) {
	lc.serve(c, query.OrdersKey,
		func(ctx context.Context) (any, error) {
			return lc.orders.list(ctx, query.AdminOrdersKey(false), adminFilter(false))
		},
		lc.notifier.WatchOrderInserts)
}

type loadFunc func(ctx context.Context) (any, error)

type watchFunc func(ctx context.Context, h notifier.Handler) (*notifier.Watch, error)

func (lc *LiveController) serve(c *gin.Context, key query.Key, load loadFunc, start watchFunc) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		lc.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	s := &liveSocket{conn: conn}
	log := lc.log.WithField("key", key.String())

	push := func(frameType string, key query.Key) {
		loadCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		frame := LiveFrame{Type: frameType, Key: key}
		data, err := load(loadCtx)
		if err != nil {
			frame.Type, frame.Error = FrameError, err.Error()
		} else {
			frame.Data = data
		}
		if err := s.send(frame); err != nil {
			log.WithError(err).Debug("live frame not sent")
		}
	}

	watch, err := start(ctx, func(_ backend.Event, key query.Key) { push(FrameChanged, key) })
	if err != nil {
		log.WithError(err).Error("live watch failed")
		s.send(LiveFrame{Type: FrameError, Key: key, Error: "subscription failed"})
		s.close(websocket.CloseInternalServerErr, "subscription failed")
		return
	}
	defer watch.Close()
	log.Debug("live socket opened")
	defer log.Debug("live socket closed")

	push(FrameSnapshot, key)

	closed := s.readUntilClosed()
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-watch.Done():
			s.close(websocket.CloseGoingAway, "change feed closed")
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		}
	}
}

// liveSocket serialises writes; gorilla connections allow one writer.
type liveSocket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *liveSocket) send(frame LiveFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return s.conn.WriteJSON(frame)
}

func (s *liveSocket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait))
}

func (s *liveSocket) close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(liveWriteWait))
}

// readUntilClosed discards client frames and closes the returned channel
// when the client goes away.
func (s *liveSocket) readUntilClosed() <-chan struct{} {
	done := make(chan struct{})
	s.conn.SetReadDeadline(time.Now().Add(livePongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}
