package broker

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nanopubsub.com/internal/brokermetrics"
)

func waitRemoteSubs(t *testing.T, b *Broker, topic string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(b.Registry().RemoteSubscribers(topic)) == n
	}, waitFor, 5*time.Millisecond)
}

func TestRemoteSubscribe_LocalPublishReachesClient(t *testing.T) {
	b := startTestBroker(t)
	c := newUDPClient(t, b)

	c.send("#sub#r1#news#")
	waitRemoteSubs(t, b, "news", 1)

	addr, ok := b.Registry().AddressOf("r1")
	require.True(t, ok)
	assert.Equal(t, c.conn.LocalAddr().(*net.UDPAddr).Port, int(addr.Port()))

	require.NoError(t, b.Publish("local1", "news", "hello"))
	frame, ok := c.read(waitFor)
	require.True(t, ok)
	assert.Equal(t, "#msg#local1#news#hello#", frame)
}

func TestRemotePublish_FansOutExceptOrigin(t *testing.T) {
	b := startTestBroker(t)
	r1, r2 := newUDPClient(t, b), newUDPClient(t, b)
	local := newReceived()
	require.NoError(t, b.SubscribeTopic("L", "news", local))

	r1.send("#sub#r1#news#")
	r2.send("#sub#r2#news#")
	waitRemoteSubs(t, b, "news", 2)

	r1.send("#msg#r1#news#hi#")

	assert.Equal(t, "news/hi", local.next(t))
	frame, ok := r2.read(waitFor)
	require.True(t, ok)
	assert.Equal(t, "#msg#r1#news#hi#", frame)

	_, ok = r1.read(200 * time.Millisecond)
	assert.False(t, ok, "origin must not receive its own publish")
}

func TestRemotePublish_LocalOriginIDSkipped(t *testing.T) {
	b := startTestBroker(t)
	r := newUDPClient(t, b)
	same, other := newReceived(), newReceived()
	require.NoError(t, b.SubscribeTopic("shared", "t", same))
	require.NoError(t, b.SubscribeTopic("other", "t", other))

	// 远端和本地用了同一个 id：同名的本地订阅者也被当成发送者跳过
	r.send("#msg#shared#t#x#")
	assert.Equal(t, "t/x", other.next(t))
	assert.Zero(t, same.count())
}

func TestReceiver_MalformedDoesNotStopLoop(t *testing.T) {
	b := startTestBroker(t)
	c := newUDPClient(t, b)
	before := testutil.ToFloat64(brokermetrics.DecodeErrorsTotal)

	c.send("garbage")
	c.send("#msg#x#")
	c.send("#ping#x#t#")
	c.send("#sub#r1#news#")
	waitRemoteSubs(t, b, "news", 1)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(brokermetrics.DecodeErrorsTotal)-before >= 3
	}, waitFor, 5*time.Millisecond)
	assert.Empty(t, b.Registry().RemoteSubscribers("t"))
}

func TestRemoteUnsubscribe(t *testing.T) {
	b := startTestBroker(t)
	c := newUDPClient(t, b)

	c.send("#sub#r1#news#")
	c.send("#sub#r1#news#")
	waitRemoteSubs(t, b, "news", 2)

	c.send("#unsub#r1#news#")
	waitRemoteSubs(t, b, "news", 1)

	// 不存在的订阅：无事发生
	c.send("#unsub#ghost#news#")
	c.send("#unsub#r1#nowhere#")
	c.send("#unsub#r1#news#")
	waitRemoteSubs(t, b, "news", 0)

	// 地址不会被清理
	_, ok := b.Registry().AddressOf("r1")
	assert.True(t, ok)
}

func TestRemoteSubscribe_AddressFirstWriteWins(t *testing.T) {
	b := startTestBroker(t)
	first, second := newUDPClient(t, b), newUDPClient(t, b)

	first.send("#sub#r1#a#")
	waitRemoteSubs(t, b, "a", 1)
	second.send("#sub#r1#b#")
	waitRemoteSubs(t, b, "b", 1)

	require.NoError(t, b.Publish("P", "b", "x"))
	frame, ok := first.read(waitFor)
	require.True(t, ok)
	assert.Equal(t, "#msg#P#b#x#", frame)

	_, ok = second.read(200 * time.Millisecond)
	assert.False(t, ok)
}
