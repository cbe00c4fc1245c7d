package broker

import (
	"context"

	"go.uber.org/zap"
	"nanopubsub.com/internal/brokermetrics"
	"nanopubsub.com/internal/protocol"
	"nanopubsub.com/pkg/logger"
	"nanopubsub.com/pkg/safe"
)

// dispatchLoop 消费 local 队列，在本 goroutine 里依次调用回调
func (b *Broker) dispatchLoop(ctx context.Context) {
	logger.Info(ctx, "dispatcher started", zap.String("queue", b.local.Name()))
	defer logger.Info(ctx, "dispatcher exited")

	for {
		msg, ok := b.local.Pop()
		if !ok {
			return
		}
		brokermetrics.QueueDepth.WithLabelValues(b.local.Name()).Set(float64(b.local.Len()))
		if !msg.IsPublish() {
			continue
		}
		b.deliverLocal(ctx, msg)
	}
}

// deliverLocal 回调出错或 panic 只记日志，继续下一个订阅者
func (b *Broker) deliverLocal(ctx context.Context, msg protocol.Message) {
	subs := b.reg.LocalSubscribers(msg.Topic)
	brokermetrics.FanoutSize.WithLabelValues("local").Observe(float64(len(subs)))

	for _, id := range subs {
		if id == msg.ClientID {
			continue
		}
		h, ok := b.reg.HandlerOf(id)
		if !ok {
			continue
		}

		err := safe.Call(func() error { return h.OnMessage(msg.Topic, msg.Payload) })
		brokermetrics.ObserveHandler(err)
		if err != nil {
			logger.Error(ctx, "local handler failed",
				zap.String("subscriber", id),
				zap.String("topic", msg.Topic),
				zap.Error(err))
		}
	}
}
