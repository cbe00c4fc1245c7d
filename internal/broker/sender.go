package broker

import (
	"context"
	"net/netip"

	"go.uber.org/zap"
	"nanopubsub.com/internal/brokermetrics"
	"nanopubsub.com/internal/protocol"
	"nanopubsub.com/pkg/breaker"
	"nanopubsub.com/pkg/logger"
	"nanopubsub.com/pkg/xerr"
)

// sendLoop 消费 outgoing 队列，队列关闭且取空后退出
func (b *Broker) sendLoop(ctx context.Context) {
	logger.Info(ctx, "sender started", zap.String("queue", b.outgoing.Name()))
	defer logger.Info(ctx, "sender exited")

	for {
		msg, ok := b.outgoing.Pop()
		if !ok {
			return
		}
		brokermetrics.QueueDepth.WithLabelValues(b.outgoing.Name()).Set(float64(b.outgoing.Len()))
		if !msg.IsPublish() {
			continue
		}
		b.fanoutRemote(ctx, msg)
	}
}

// fanoutRemote 把一条 publish 发给 topic 的所有远端订阅者（发送者本人除外）。
// 每个订阅者单独发送，一个失败不影响其他。
func (b *Broker) fanoutRemote(ctx context.Context, msg protocol.Message) {
	subs := b.reg.RemoteSubscribers(msg.Topic)
	brokermetrics.FanoutSize.WithLabelValues("remote").Observe(float64(len(subs)))
	if len(subs) == 0 {
		return
	}

	frame := protocol.Encode(msg)
	for _, id := range subs {
		if id == msg.ClientID {
			continue
		}
		addr, ok := b.reg.AddressOf(id)
		if !ok {
			brokermetrics.SendSkippedTotal.WithLabelValues("no_address").Inc()
			logger.Warn(ctx, "remote subscriber has no address", zap.String("subscriber", id))
			continue
		}
		dest := b.destination(addr)

		if err := b.sendTo(frame, dest); err != nil {
			logger.Warn(ctx, "send to subscriber failed",
				zap.String("subscriber", id),
				zap.Stringer("dest", dest),
				zap.String("topic", msg.Topic),
				zap.Error(err))
		}
	}
}

// destination 订阅者 IP + 客户端端口；ClientPort 为 0 时用订阅时的源端口
func (b *Broker) destination(addr netip.AddrPort) netip.AddrPort {
	if b.cfg.Sender.ClientPort > 0 {
		return netip.AddrPortFrom(addr.Addr(), uint16(b.cfg.Sender.ClientPort))
	}
	return addr
}

func (b *Broker) sendTo(frame []byte, dest netip.AddrPort) error {
	write := func() error {
		n, err := b.writer.WriteToUDPAddrPort(frame, dest)
		brokermetrics.ObserveSend(n, err)
		if err != nil {
			return xerr.Wrap(xerr.Transport, err)
		}
		return nil
	}
	if b.breakers == nil {
		return write()
	}

	err := b.breakers.Do(dest.String(), write)
	if breaker.IsOpen(err) {
		brokermetrics.SendSkippedTotal.WithLabelValues("breaker_open").Inc()
	}
	return err
}
