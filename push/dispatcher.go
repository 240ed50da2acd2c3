package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Zoro-chi/FoodOrderingApp/models"
)

const DefaultSendTimeout = 10 * time.Second

// Dispatcher sends messages in the background. Callers never wait for
// delivery and never see its errors; failures are logged.
type Dispatcher struct {
	sender  Sender
	log     logrus.FieldLogger
	timeout time.Duration
	wg      sync.WaitGroup

	// OnResult, if set, is called after every send attempt.
	OnResult func(err error)
}

func NewDispatcher(sender Sender, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		sender:  sender,
		log:     log.WithField("component", "push"),
		timeout: DefaultSendTimeout,
	}
}

// Dispatch starts delivering msg and returns immediately. Messages
// without a recipient are dropped.
func (d *Dispatcher) Dispatch(msg Message) {
	if msg.To == "" {
		d.log.Debug("push skipped: no recipient token")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := d.sender.Send(ctx, msg)
		if err != nil {
			d.log.WithError(err).WithField("to", msg.To).Warn("push delivery failed")
		} else {
			d.log.WithField("to", msg.To).Debug("push delivered")
		}
		if d.OnResult != nil {
			d.OnResult(err)
		}
	}()
}

// Wait blocks until every dispatched message has been attempted.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// OrderStatusMessage is the notification sent to an order owner when an
// admin moves the order to a new status.
func OrderStatusMessage(token string, order *models.Order) Message {
	return Message{
		To:    token,
		Title: "Order status updated",
		Body:  fmt.Sprintf("Your order is %s", order.Status),
		Data:  map[string]any{"orderId": order.ID},
		Sound: "default",
	}
}
