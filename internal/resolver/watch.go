package resolver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/swaplane/swaplane-backend/internal/order"
	"github.com/swaplane/swaplane-backend/internal/store"
)

// Watch subscribes to the order event channel and starts an execution for
// every order that becomes active. It blocks until ctx is cancelled.
func (o *Orchestrator) Watch(ctx context.Context, cache *store.Cache) {
	pubsub := cache.Subscribe(ctx, store.ChannelOrderEvents)
	if pubsub != nil {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-ch:
				if msg != nil {
					o.handleEvent(ctx, []byte(msg.Payload))
				}
			}
		}
	}

	local := cache.SubscribeLocal(ctx, store.ChannelOrderEvents)
	if local == nil {
		o.logger.Warnw("No pubsub available; resolver only settles resumed orders")
		<-ctx.Done()
		return
	}
	defer local.Close()
	ch := local.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg != nil {
				o.handleEvent(ctx, []byte(msg.Payload))
			}
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, payload []byte) {
	var evt store.OrderEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		o.logger.Warnw("Unparseable order event", "error", err)
		return
	}
	if evt.Status != order.StatusActive {
		return
	}

	if _, err := o.Execute(ctx, evt.OrderHash); err != nil {
		if errors.Is(err, ErrOrderBusy) {
			return
		}
		o.logger.Warnw("Failed to start execution", "orderHash", evt.OrderHash, "error", err)
	}
}
