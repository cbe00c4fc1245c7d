// Package broker 是 UDP 发布/订阅 broker 的运行时。
//
// 三个 worker：
//
//	receiver   读入站 socket，订阅/退订直接改 registry，publish 同时放进两个队列
//	sender     取 outgoing 队列，按 topic 扇出给远端订阅者（跳过发送者本人）
//	dispatcher 取 local 队列，同步调用本进程内订阅者的回调（跳过发送者本人）
//
// 同一个 publish 在两个队列里是两份独立的值，网络投递和本地投递之间没有先后保证。
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nanopubsub.com/internal/brokermetrics"
	"nanopubsub.com/internal/protocol"
	"nanopubsub.com/internal/queue"
	"nanopubsub.com/internal/registry"
	"nanopubsub.com/pkg/breaker"
	"nanopubsub.com/pkg/logger"
	"nanopubsub.com/pkg/safe"
	"nanopubsub.com/pkg/xerr"
)

type (
	Handler     = registry.Handler
	HandlerFunc = registry.HandlerFunc
)

var (
	ErrClosed            = xerr.New(xerr.Closed, "broker: closed")
	ErrTransport         = xerr.New(xerr.Transport, "broker: transport")
	ErrNilHandler        = xerr.New(xerr.InvalidArgument, "broker: handler is nil")
	ErrProtocolViolation = protocol.ErrProtocolViolation
)

type state int32

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateStopped:
		return "stopped"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// packetWriter 发送 socket 的最小接口，测试里可以替换
type packetWriter interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

type Broker struct {
	cfg Config
	id  string

	reg      *registry.Registry
	outgoing *queue.Queue[protocol.Message]
	local    *queue.Queue[protocol.Message]

	inConn   *net.UDPConn
	outConn  *net.UDPConn
	writer   packetWriter
	breakers *breaker.Manager // 未开启时为 nil

	st        atomic.Int32
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New 绑定入站和出站 socket。绑定失败直接返回错误，broker 不可用。
// 创建后需要调用 Start 启动 worker。
func New(cfg Config) (*Broker, error) {
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = protocol.MaxFrameSize
	}
	if cfg.Sender.BindAddr == "" {
		cfg.Sender.BindAddr = ":0"
	}

	inAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, xerr.Wrap(xerr.Transport, fmt.Errorf("resolve inbound address: %w", err))
	}
	inConn, err := net.ListenUDP("udp", inAddr)
	if err != nil {
		return nil, xerr.Wrap(xerr.Transport, fmt.Errorf("bind inbound socket %s: %w", inAddr, err))
	}

	outAddr, err := net.ResolveUDPAddr("udp", cfg.Sender.BindAddr)
	if err != nil {
		_ = inConn.Close()
		return nil, xerr.Wrap(xerr.Transport, fmt.Errorf("resolve outbound address: %w", err))
	}
	outConn, err := net.ListenUDP("udp", outAddr)
	if err != nil {
		_ = inConn.Close()
		return nil, xerr.Wrap(xerr.Transport, fmt.Errorf("bind outbound socket %s: %w", outAddr, err))
	}

	b := &Broker{
		cfg:      cfg,
		id:       uuid.NewString(),
		reg:      registry.New(registry.Options{Dedupe: cfg.Registry.Dedupe}),
		outgoing: queue.New[protocol.Message]("netOutgoingQueue"),
		local:    queue.New[protocol.Message]("localCallQueue"),
		inConn:   inConn,
		outConn:  outConn,
		writer:   outConn,
		done:     make(chan struct{}),
	}
	if cfg.Sender.Breaker.Enabled {
		b.breakers = breaker.NewManager(cfg.Sender.Breaker.Rule)
		b.breakers.OnStateChange = func(_, _, to string) {
			brokermetrics.BreakerTransitionsTotal.WithLabelValues(to).Inc()
		}
	}

	logger.Info(context.Background(), "broker sockets bound",
		zap.String("broker_id", b.id),
		zap.Stringer("inbound", inConn.LocalAddr()),
		zap.Stringer("outbound", outConn.LocalAddr()))
	return b, nil
}

// Start 启动三个 worker。ctx 取消等同于调用 Close。重复调用无效果
func (b *Broker) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		if !b.st.CompareAndSwap(int32(stateIdle), int32(stateRunning)) {
			return
		}
		logger.Info(ctx, "broker starting", zap.String("broker_id", b.id), zap.Stringer("addr", b.Addr()))

		b.wg.Add(3)
		safe.Go(ctx, "receiver", func(ctx context.Context) {
			defer b.wg.Done()
			b.receiveLoop(ctx)
		})
		safe.Go(ctx, "sender", func(ctx context.Context) {
			defer b.wg.Done()
			b.sendLoop(ctx)
		})
		safe.Go(ctx, "dispatcher", func(ctx context.Context) {
			defer b.wg.Done()
			b.dispatchLoop(ctx)
		})

		go func() {
			select {
			case <-ctx.Done():
				_ = b.Close()
			case <-b.done:
			}
		}()
	})
}

// Close 停止所有 worker 并释放 socket。可以重复调用。
// 队列里已有的消息会被处理完，之后的 Publish 返回 ErrClosed。
func (b *Broker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		prev := state(b.st.Swap(int32(stateStopped)))
		close(b.done)

		b.outgoing.Close()
		b.local.Close()
		// 关闭入站 socket 让阻塞中的 ReadFrom 返回
		err = b.inConn.Close()
		b.wg.Wait()

		if e := b.outConn.Close(); e != nil && err == nil {
			err = e
		}
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		logger.Info(context.Background(), "broker stopped",
			zap.String("broker_id", b.id), zap.Stringer("prev_state", prev))
	})
	return err
}

func (b *Broker) running() bool { return state(b.st.Load()) == stateRunning }

func (b *Broker) closed() bool { return state(b.st.Load()) == stateStopped }

// ID 每个 broker 实例启动时生成的 uuid
func (b *Broker) ID() string { return b.id }

// Addr 入站 socket 的实际地址（Port 为 0 时有用）
func (b *Broker) Addr() netip.AddrPort {
	ap := b.inConn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func (b *Broker) Registry() *registry.Registry { return b.reg }

// enqueue 把同一个 publish 放进两个队列（值拷贝，两份互不共享）。
// 队列已关闭时返回 false
func (b *Broker) enqueue(m protocol.Message) bool {
	if !b.outgoing.Push(m) {
		return false
	}
	b.local.Push(m)
	brokermetrics.QueueDepth.WithLabelValues(b.outgoing.Name()).Set(float64(b.outgoing.Len()))
	brokermetrics.QueueDepth.WithLabelValues(b.local.Name()).Set(float64(b.local.Len()))
	return true
}

func (b *Broker) observeRegistry() {
	brokermetrics.ObserveRegistry(b.reg.Stats())
}
