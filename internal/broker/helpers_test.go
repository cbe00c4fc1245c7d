package broker

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// newTestBroker 监听 127.0.0.1 随机端口，扇出回发到订阅时的源端口
func newTestBroker(t *testing.T, mutate ...func(*Config)) *Broker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Sender.BindAddr = "127.0.0.1:0"
	cfg.Sender.ClientPort = 0
	for _, fn := range mutate {
		fn(&cfg)
	}

	b, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func startTestBroker(t *testing.T, mutate ...func(*Config)) *Broker {
	t.Helper()
	b := newTestBroker(t, mutate...)
	b.Start(context.Background())
	return b
}

// received 记录回调收到的消息
type received struct {
	mu   sync.Mutex
	msgs []string
	ch   chan string
}

func newReceived() *received {
	return &received{ch: make(chan string, 64)}
}

func (r *received) OnMessage(topic, payload string) error {
	s := topic + "/" + payload
	r.mu.Lock()
	r.msgs = append(r.msgs, s)
	r.mu.Unlock()
	r.ch <- s
	return nil
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *received) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for local delivery")
		return ""
	}
}

// udpClient 模拟一个远端客户端
type udpClient struct {
	t      *testing.T
	conn   *net.UDPConn
	broker *net.UDPAddr
}

func newUDPClient(t *testing.T, b *Broker) *udpClient {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &udpClient{t: t, conn: conn, broker: net.UDPAddrFromAddrPort(b.Addr())}
}

func (c *udpClient) send(frame string) {
	c.t.Helper()
	_, err := c.conn.WriteToUDP([]byte(frame), c.broker)
	require.NoError(c.t, err)
}

// read 在 d 内读一个 datagram；超时返回 ok=false
func (c *udpClient) read(d time.Duration) (string, bool) {
	buf := make([]byte, 2048)
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	n, _, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return "", false
	}
	return string(buf[:n]), true
}

// fakeWriter 记录发送目的地，对 fail 里的地址返回错误
type fakeWriter struct {
	mu    sync.Mutex
	fail  map[netip.AddrPort]bool
	sent  []netip.AddrPort
	calls map[netip.AddrPort]int
}

func newFakeWriter(fail ...netip.AddrPort) *fakeWriter {
	w := &fakeWriter{fail: map[netip.AddrPort]bool{}, calls: map[netip.AddrPort]int{}}
	for _, a := range fail {
		w.fail[a] = true
	}
	return w
}

func (w *fakeWriter) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[addr]++
	if w.fail[addr] {
		return 0, &net.OpError{Op: "write", Net: "udp", Err: net.UnknownNetworkError("unreachable")}
	}
	w.sent = append(w.sent, addr)
	return len(b), nil
}

func (w *fakeWriter) sentTo() []netip.AddrPort {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]netip.AddrPort(nil), w.sent...)
}

func (w *fakeWriter) callsTo(a netip.AddrPort) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[a]
}
