package alerts

import (
	"context"
	"fmt"
	"time"

	"hl-grid-bot/internal/status"

	"github.com/alitto/pond"
	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

type Sender interface {
	Send(ctx context.Context, message string) error
}

// Reporter turns status events worth a human's attention into chat
// messages. Sends run on a small worker pool so a slow chat API never
// holds up the event stream; messages are dropped when the pool is full.
type Reporter struct {
	sender Sender
	pool   *pond.WorkerPool
	log    *zap.Logger
}

func NewReporter(sender Sender, workers int, log *zap.Logger) *Reporter {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	pool := pond.New(
		workers,
		64,
		pond.MinWorkers(1),
		pond.IdleTimeout(time.Minute),
		pond.PanicHandler(func(p interface{}) {
			log.Error("alert sender panic", zap.Any("panic", p))
		}),
	)
	return &Reporter{sender: sender, pool: pool, log: log}
}

// Run consumes sub until ctx ends or the subscription closes, then waits
// for queued sends. Events already buffered when ctx ends are still sent,
// so the final stop notice is not lost.
func (r *Reporter) Run(ctx context.Context, sub *status.Subscription) {
	defer r.pool.StopAndWait()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			r.drain(sub)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			r.handle(ev)
		}
	}
}

func (r *Reporter) drain(sub *status.Subscription) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			r.handle(ev)
		default:
			return
		}
	}
}

func (r *Reporter) handle(ev status.Event) {
	if lag, ok := ev.Data.(status.LagUpdate); ok {
		r.log.Warn("alert events missed", zap.Uint64("missed", lag.Missed))
		return
	}
	if msg := Format(ev); msg != "" {
		r.dispatch(msg)
	}
}

func (r *Reporter) dispatch(msg string) {
	submitted := r.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := r.sender.Send(ctx, msg); err != nil {
			r.log.Warn("alert send failed", zap.Error(err))
		}
	})
	if !submitted {
		r.log.Warn("alert dropped, sender queue full")
	}
}

// Format renders the events that alert: startup config, filled and failed
// orders, and errors. Everything else yields "".
func Format(ev status.Event) string {
	switch data := ev.Data.(type) {
	case status.ConfigView:
		return fmt.Sprintf("grid started: %s %s [%g, %g] %d levels, investment %g",
			data.Strategy, data.Symbol, data.LowerPrice, data.UpperPrice, data.Levels, data.TotalInvestment)
	case status.OrderUpdate:
		switch data.Phase {
		case status.OrderFilled:
			return fmt.Sprintf("filled %s %g %s @ %g", data.Side, data.Filled, data.Symbol, data.AvgPrice)
		case status.OrderFailed:
			msg := fmt.Sprintf("order failed %s %g %s @ %g", data.Side, data.Size, data.Symbol, data.Price)
			if data.Reason != "" {
				msg += ": " + data.Reason
			}
			return msg
		}
	case status.ErrorUpdate:
		if data.Fatal {
			return "grid stopped: " + data.Message
		}
		return "grid error: " + data.Message
	}
	return ""
}
