package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"nanopubsub.com/pkg/logger"
)

type Rule struct {
	// Half-Open 状态允许通过的探测请求数（0 时库会当作 1）
	MaxRequests uint32 `mapstructure:"max_requests"`

	// Closed 状态计数窗口
	Interval time.Duration `mapstructure:"interval"`

	// Open 状态持续时间，到期进入 Half-Open
	Timeout time.Duration `mapstructure:"timeout"`

	// 连续失败多少次熔断
	TripConsecutiveFailures uint32 `mapstructure:"trip_consecutive_failures"`
}

// Manager 按 key（这里是目的地址）懒创建熔断器。
// 一个目的地熔断只影响它自己，不影响同一次扇出里的其他订阅者。
type Manager struct {
	mu   sync.RWMutex
	m    map[string]*gobreaker.CircuitBreaker[struct{}]
	rule Rule

	// OnStateChange 可选，在创建熔断器之前设置
	OnStateChange func(key, from, to string)
}

func NewManager(rule Rule) *Manager {
	if rule.MaxRequests == 0 {
		rule.MaxRequests = 1
	}
	if rule.Timeout <= 0 {
		rule.Timeout = 5 * time.Second
	}
	if rule.Interval <= 0 {
		rule.Interval = 30 * time.Second
	}
	if rule.TripConsecutiveFailures == 0 {
		rule.TripConsecutiveFailures = 5
	}

	return &Manager{
		m:    make(map[string]*gobreaker.CircuitBreaker[struct{}], 64),
		rule: rule,
	}
}

func (m *Manager) Get(key string) *gobreaker.CircuitBreaker[struct{}] {
	// 快路径：读锁
	m.mu.RLock()
	cb := m.m[key]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	// 慢路径：创建
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb = m.m[key]; cb != nil {
		return cb
	}

	rule := m.rule
	st := gobreaker.Settings{
		Name:        key,
		MaxRequests: rule.MaxRequests,
		Interval:    rule.Interval,
		Timeout:     rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= rule.TripConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "breaker state changed",
				zap.String("dest", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if m.OnStateChange != nil {
				m.OnStateChange(name, from.String(), to.String())
			}
		},
	}

	cb = gobreaker.NewCircuitBreaker[struct{}](st)
	m.m[key] = cb
	return cb
}

// Do 通过 key 对应的熔断器执行 fn；熔断打开时直接返回 ErrOpen 类错误，不执行 fn
func (m *Manager) Do(key string, fn func() error) error {
	_, err := m.Get(key).Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// IsOpen 判断错误是不是熔断器拒绝（而不是 fn 本身的错误）
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
