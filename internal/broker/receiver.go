package broker

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"go.uber.org/zap"
	"nanopubsub.com/internal/brokermetrics"
	"nanopubsub.com/internal/protocol"
	"nanopubsub.com/pkg/logger"
)

// receiveLoop 读入站 socket 直到 socket 被关闭。
// 单个 datagram 出错只丢弃这一个，不影响后续接收。
func (b *Broker) receiveLoop(ctx context.Context) {
	buf := make([]byte, b.cfg.ReadBuffer)
	logger.Info(ctx, "receiver started", zap.Stringer("addr", b.Addr()))
	defer logger.Info(ctx, "receiver exited")

	for b.running() {
		n, from, err := b.inConn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !b.running() {
				return
			}
			brokermetrics.ReceiveErrorsTotal.Inc()
			logger.Warn(ctx, "receive failed", zap.Error(err))
			continue
		}

		// 解码出来的字符串是拷贝，buf 可以复用
		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			brokermetrics.DecodeErrorsTotal.Inc()
			logger.Warn(ctx, "⚠️ drop malformed datagram",
				zap.Stringer("from", from),
				zap.Int("size", n),
				zap.Error(err))
			continue
		}
		brokermetrics.FramesInTotal.WithLabelValues(string(msg.Kind)).Inc()
		b.handleFrame(logger.WithClient(ctx, msg.ClientID), msg, from)
	}
}

func (b *Broker) handleFrame(ctx context.Context, msg protocol.Message, from netip.AddrPort) {
	switch msg.Kind {
	case protocol.KindPublish:
		logger.Debug(ctx, "remote publish", zap.String("topic", msg.Topic), zap.Int("payload", len(msg.Payload)))
		if b.enqueue(msg) {
			brokermetrics.PublishTotal.WithLabelValues("remote").Inc()
		}

	case protocol.KindSubscribe:
		// IPv4 客户端在双栈 socket 上会以 ::ffff:a.b.c.d 出现，统一成 4 字节地址
		addr := netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		if b.reg.SubscribeRemote(msg.ClientID, msg.Topic, addr) {
			logger.Info(ctx, "new remote client", zap.Stringer("addr", addr))
		}
		logger.Debug(ctx, "remote subscribe", zap.String("topic", msg.Topic))
		brokermetrics.SubOpsTotal.WithLabelValues("remote", "sub").Inc()
		b.observeRegistry()

	case protocol.KindUnsubscribe:
		removed := b.reg.UnsubscribeRemote(msg.ClientID, msg.Topic)
		logger.Debug(ctx, "remote unsubscribe", zap.String("topic", msg.Topic), zap.Bool("removed", removed))
		brokermetrics.SubOpsTotal.WithLabelValues("remote", "unsub").Inc()
		b.observeRegistry()
	}
}
