package broker

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"nanopubsub.com/internal/brokermetrics"
	"nanopubsub.com/internal/protocol"
	"nanopubsub.com/pkg/logger"
)

// SubscribeTopic 进程内订阅。同一个 localID 第一次订阅时登记的 handler 会一直沿用，
// 之后传入的 handler 被忽略。
// h 为 nil 返回 ErrNilHandler；localID、topic 为空或含 '#' 返回 ErrProtocolViolation。
func (b *Broker) SubscribeTopic(localID, topic string, h Handler) error {
	if b.closed() {
		return ErrClosed
	}
	if h == nil {
		return ErrNilHandler
	}
	if err := protocol.NewSubscribe(localID, topic).Validate(); err != nil {
		return err
	}

	b.reg.SubscribeLocal(localID, topic, h)
	brokermetrics.SubOpsTotal.WithLabelValues("local", "sub").Inc()
	b.observeRegistry()
	logger.Debug(logger.WithClient(context.Background(), localID), "local subscribe", zap.String("topic", topic))
	return nil
}

// UnsubscribeTopic 删除 localID 在 topic 上的第一条订阅；没有订阅时什么都不做。
// handler 参数只为和 SubscribeTopic 对称，不参与匹配。
func (b *Broker) UnsubscribeTopic(localID, topic string, _ Handler) error {
	if b.closed() {
		return ErrClosed
	}
	if err := protocol.NewUnsubscribe(localID, topic).Validate(); err != nil {
		return err
	}

	removed := b.reg.UnsubscribeLocal(localID, topic)
	brokermetrics.SubOpsTotal.WithLabelValues("local", "unsub").Inc()
	b.observeRegistry()
	logger.Debug(logger.WithClient(context.Background(), localID), "local unsubscribe",
		zap.String("topic", topic), zap.Bool("removed", removed))
	return nil
}

// Publish 以 localID 的身份发布消息。消息走和网络消息一样的编码-解码路径，
// 然后同时进入网络扇出和本地投递两个队列；localID 自己的回调不会收到。
func (b *Broker) Publish(localID, topic, payload string) error {
	if b.closed() {
		return ErrClosed
	}
	m := protocol.NewPublish(localID, topic, payload)
	if err := m.Validate(); err != nil {
		return err
	}

	msg, err := protocol.Decode(protocol.Encode(m))
	if err != nil {
		// Validate 通过后不应该发生
		return errors.Join(ErrProtocolViolation, err)
	}
	if !b.enqueue(msg) {
		return ErrClosed
	}
	brokermetrics.PublishTotal.WithLabelValues("local").Inc()
	return nil
}
