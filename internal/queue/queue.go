package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"nanopubsub.com/pkg/logger"
)

// Queue 无界 FIFO：Push 从不阻塞，Pop 阻塞直到有消息或者队列被关闭。
// 没有容量上限也没有背压，生产者过快时内存会一直涨。
type Queue[T any] struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	closed bool
}

func New[T any](name string) *Queue[T] {
	q := &Queue[T]{name: name}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue[T]) Name() string { return q.name }

// Push 追加到队尾。队列关闭后消息被丢弃，返回 false
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	n := len(q.items) - q.head
	q.mu.Unlock()

	// 锁外唤醒一个消费者
	q.cond.Signal()

	if logger.Enabled(zapcore.DebugLevel) {
		logger.Debug(context.Background(), "queue push", zap.String("queue", q.name), zap.Int("len", n))
	}
	return true
}

// Pop 取出队头。队列关闭且已经取空时返回 ok=false
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	for q.head == len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head == len(q.items) {
		q.mu.Unlock()
		return v, false
	}

	v = q.items[q.head]
	var zero T
	q.items[q.head] = zero // 让 GC 回收
	q.head++
	// 取空时复用底层数组；积压过半时整体前移
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > len(q.items)/2 && q.head >= 64 {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	n := len(q.items) - q.head
	q.mu.Unlock()

	if logger.Enabled(zapcore.DebugLevel) {
		logger.Debug(context.Background(), "queue pop", zap.String("queue", q.name), zap.Int("len", n))
	}
	return v, true
}

// Close 唤醒所有阻塞的 Pop。已经入队的消息仍然可以被取走
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
