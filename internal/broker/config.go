package broker

import (
	"time"

	"nanopubsub.com/internal/protocol"
	"nanopubsub.com/pkg/breaker"
)

// DefaultPort broker 收包端口，也是客户端收扇出消息的端口
const DefaultPort = 11011

type Config struct {
	// Host 为空时监听所有地址
	Host string `mapstructure:"host"`
	// Port 为 0 时由系统分配（测试用）
	Port int `mapstructure:"port"`
	// ReadBuffer 单个 datagram 的读缓冲，超出部分会被截断
	ReadBuffer int `mapstructure:"read_buffer"`

	Sender   SenderConfig   `mapstructure:"sender"`
	Registry RegistryConfig `mapstructure:"registry"`
}

type SenderConfig struct {
	// BindAddr 发送 socket 的本地地址，默认 ":0"
	BindAddr string `mapstructure:"bind_addr"`
	// ClientPort 扇出消息发往订阅者 IP 的这个端口；0 表示回发到订阅时观察到的源端口
	ClientPort int           `mapstructure:"client_port"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	breaker.Rule `mapstructure:",squash"`
}

type RegistryConfig struct {
	Dedupe bool `mapstructure:"dedupe"`
}

func DefaultConfig() Config {
	return Config{
		Port:       DefaultPort,
		ReadBuffer: protocol.MaxFrameSize,
		Sender: SenderConfig{
			BindAddr:   ":0",
			ClientPort: DefaultPort,
			Breaker: BreakerConfig{
				Rule: breaker.Rule{
					MaxRequests:             1,
					Interval:                30 * time.Second,
					Timeout:                 5 * time.Second,
					TripConsecutiveFailures: 5,
				},
			},
		},
	}
}

// Defaults 给 viper 用的默认值，key 带 "broker." 前缀
func Defaults() map[string]interface{} {
	d := DefaultConfig()
	m := make(map[string]interface{}, 12)
	m["broker.host"] = d.Host
	m["broker.port"] = d.Port
	m["broker.read_buffer"] = d.ReadBuffer
	m["broker.sender.bind_addr"] = d.Sender.BindAddr
	m["broker.sender.client_port"] = d.Sender.ClientPort
	m["broker.sender.breaker.enabled"] = d.Sender.Breaker.Enabled
	m["broker.sender.breaker.max_requests"] = d.Sender.Breaker.MaxRequests
	m["broker.sender.breaker.interval"] = d.Sender.Breaker.Interval
	m["broker.sender.breaker.timeout"] = d.Sender.Breaker.Timeout
	m["broker.sender.breaker.trip_consecutive_failures"] = d.Sender.Breaker.TripConsecutiveFailures
	m["broker.registry.dedupe"] = d.Registry.Dedupe
	return m
}
