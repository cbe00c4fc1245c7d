// Package protocol 是 broker 的报文编解码。
//
// 帧格式（分隔符 '#'，首尾都有分隔符）：
//
//	#msg#<clientId>#<topic>#<payload>#
//	#sub#<clientId>#<topic>#
//	#unsub#<clientId>#<topic>#
//
// 协议没有转义，clientId / topic / payload 都不能包含 '#'。
package protocol

import (
	"fmt"
	"strings"

	"nanopubsub.com/pkg/xerr"
)

const (
	Delimiter = '#'

	// MaxFrameSize 一个 datagram 里能放的最大帧长度
	MaxFrameSize = 1024
)

type Kind string

const (
	KindPublish     Kind = "msg"
	KindSubscribe   Kind = "sub"
	KindUnsubscribe Kind = "unsub"
)

var (
	ErrMalformed         = xerr.New(xerr.Malformed, "protocol: malformed frame")
	ErrProtocolViolation = xerr.New(xerr.ProtocolViolation, "protocol: invalid field")
)

// Message 是解析后的内部消息，构造之后不再修改。
// Payload 只对 KindPublish 有意义。
type Message struct {
	Kind     Kind
	ClientID string
	Topic    string
	Payload  string
}

func NewPublish(clientID, topic, payload string) Message {
	return Message{Kind: KindPublish, ClientID: clientID, Topic: topic, Payload: payload}
}

func NewSubscribe(clientID, topic string) Message {
	return Message{Kind: KindSubscribe, ClientID: clientID, Topic: topic}
}

func NewUnsubscribe(clientID, topic string) Message {
	return Message{Kind: KindUnsubscribe, ClientID: clientID, Topic: topic}
}

func (m Message) IsPublish() bool { return m.Kind == KindPublish }

func (m Message) String() string { return string(Encode(m)) }

// Encode 只做字段拼接，不会失败
func Encode(m Message) []byte {
	n := 4 + len(m.Kind) + len(m.ClientID) + len(m.Topic)
	if m.Kind == KindPublish {
		n += 1 + len(m.Payload)
	}
	b := make([]byte, 0, n)

	b = append(b, Delimiter)
	b = append(b, string(m.Kind)...)
	b = append(b, Delimiter)
	b = append(b, m.ClientID...)
	b = append(b, Delimiter)
	b = append(b, m.Topic...)
	b = append(b, Delimiter)
	if m.Kind == KindPublish {
		b = append(b, m.Payload...)
		b = append(b, Delimiter)
	}
	return b
}

// Decode 按 '#' 切分并丢弃空 token，然后按位置取 kind、clientId、topic、payload。
// payload 里的 '#' 会让 payload 在第一个分隔符处被截断。
func Decode(frame []byte) (Message, error) {
	tokens := strings.FieldsFunc(string(frame), func(r rune) bool { return r == Delimiter })

	if len(tokens) < 3 {
		return Message{}, fmt.Errorf("%w: %d tokens", ErrMalformed, len(tokens))
	}

	m := Message{
		Kind:     Kind(tokens[0]),
		ClientID: tokens[1],
		Topic:    tokens[2],
	}
	switch m.Kind {
	case KindPublish:
		if len(tokens) < 4 {
			return Message{}, fmt.Errorf("%w: publish without payload", ErrMalformed)
		}
		m.Payload = tokens[3]
	case KindSubscribe, KindUnsubscribe:
	default:
		return Message{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, tokens[0])
	}
	return m, nil
}

// ValidateField 检查单个字段能否安全放进帧里：非空且不含分隔符
func ValidateField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrProtocolViolation, name)
	}
	if strings.IndexByte(value, Delimiter) >= 0 {
		return fmt.Errorf("%w: %s contains %q", ErrProtocolViolation, name, Delimiter)
	}
	return nil
}

// Validate 检查整条消息，通过后保证 Decode(Encode(m)) == m 且帧长度不超过 MaxFrameSize
func (m Message) Validate() error {
	if err := ValidateField("client id", m.ClientID); err != nil {
		return err
	}
	if err := ValidateField("topic", m.Topic); err != nil {
		return err
	}
	switch m.Kind {
	case KindPublish:
		if err := ValidateField("payload", m.Payload); err != nil {
			return err
		}
	case KindSubscribe, KindUnsubscribe:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrProtocolViolation, string(m.Kind))
	}
	if n := len(Encode(m)); n > MaxFrameSize {
		return fmt.Errorf("%w: frame is %d bytes, max %d", ErrProtocolViolation, n, MaxFrameSize)
	}
	return nil
}
