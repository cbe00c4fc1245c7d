package registry

import (
	"net/netip"
	"slices"
	"sync"
)

// Handler 本地订阅者的回调
type Handler interface {
	OnMessage(topic, payload string) error
}

// HandlerFunc 让普通函数实现 Handler
type HandlerFunc func(topic, payload string) error

func (f HandlerFunc) OnMessage(topic, payload string) error { return f(topic, payload) }

type Options struct {
	// Dedupe 为 true 时重复订阅不再追加；默认保留重复，每个重复项都会收到一份
	Dedupe bool
}

type Stats struct {
	RemoteTopics  int
	LocalTopics   int
	RemoteClients int
	LocalClients  int
}

// Registry 记录 topic -> 订阅者，以及订阅者的地址 / 回调。
//
// 一把锁保护全部 map，每个公开方法的读-改-写都在同一个临界区里完成。
// topic 和地址/回调只增不删：订阅者集合可以变空，但不会被清理。
// 地址第一次写入后不再刷新（客户端换了地址也不会更正）。
type Registry struct {
	opts Options

	mu           sync.RWMutex
	remoteTopics map[string][]string       // topic -> remote client ids（按订阅顺序）
	addresses    map[string]netip.AddrPort // remote client id -> 地址
	localTopics  map[string][]string       // topic -> local client ids
	handlers     map[string]Handler        // local client id -> 回调
}

func New(opts Options) *Registry {
	return &Registry{
		opts:         opts,
		remoteTopics: make(map[string][]string, 64),
		addresses:    make(map[string]netip.AddrPort, 64),
		localTopics:  make(map[string][]string, 64),
		handlers:     make(map[string]Handler, 16),
	}
}

// SubscribeRemote 地址先到先得；clientID 追加到 topic 的订阅列表。
// 返回 true 表示这是一个新的 remote client。
func (r *Registry) SubscribeRemote(clientID, topic string, addr netip.AddrPort) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.addresses[clientID]
	if !known {
		r.addresses[clientID] = addr
	}
	r.remoteTopics[topic] = r.appendSub(r.remoteTopics[topic], clientID)
	return !known
}

// UnsubscribeRemote 只删除第一个匹配项；topic 或 clientID 不存在时什么都不做
func (r *Registry) UnsubscribeRemote(clientID, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, removed := removeFirst(r.remoteTopics[topic], clientID)
	if removed {
		r.remoteTopics[topic] = subs
	}
	return removed
}

// SubscribeLocal 回调先到先得，之后同一个 clientID 的订阅沿用已注册的回调
func (r *Registry) SubscribeLocal(clientID, topic string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[clientID]; !ok {
		r.handlers[clientID] = h
	}
	r.localTopics[topic] = r.appendSub(r.localTopics[topic], clientID)
}

func (r *Registry) UnsubscribeLocal(clientID, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, removed := removeFirst(r.localTopics[topic], clientID)
	if removed {
		r.localTopics[topic] = subs
	}
	return removed
}

// RemoteSubscribers 返回副本，topic 不存在时返回空
func (r *Registry) RemoteSubscribers(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.remoteTopics[topic])
}

func (r *Registry) LocalSubscribers(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.localTopics[topic])
}

func (r *Registry) AddressOf(clientID string) (netip.AddrPort, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.addresses[clientID]
	return addr, ok
}

func (r *Registry) HandlerOf(clientID string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[clientID]
	return h, ok
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		RemoteTopics:  len(r.remoteTopics),
		LocalTopics:   len(r.localTopics),
		RemoteClients: len(r.addresses),
		LocalClients:  len(r.handlers),
	}
}

// 调用方持有写锁
func (r *Registry) appendSub(subs []string, clientID string) []string {
	if r.opts.Dedupe && slices.Contains(subs, clientID) {
		return subs
	}
	return append(subs, clientID)
}

func removeFirst(subs []string, clientID string) ([]string, bool) {
	i := slices.Index(subs, clientID)
	if i < 0 {
		return subs, false
	}
	return slices.Delete(subs, i, i+1), true
}
