package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"nanopubsub.com/pkg/logger"
	"nanopubsub.com/pkg/register"
)

const DefaultTTL = 10

type EtcdRegister struct {
	client        *clientv3.Client
	basePath      string // 比如 "/nanopubsub/brokers"
	ttl           int64  // 租约秒数
	keepaliveChan <-chan *clientv3.LeaseKeepAliveResponse
	leaseID       clientv3.LeaseID
}

func NewEtcdRegister(c *clientv3.Client, basePath string, ttl int64) *EtcdRegister {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &EtcdRegister{
		client:   c,
		basePath: strings.TrimRight(basePath, "/"),
		ttl:      ttl,
	}
}

// Key 实例在 etcd 里的 key：<basePath>/<name>/<id>
func Key(basePath string, ins *register.Instance) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(basePath, "/"), ins.Name, ins.ID)
}

func (e *EtcdRegister) getKey(ins *register.Instance) string {
	return Key(e.basePath, ins)
}

// Register 带租约写入实例信息，并在后台续约直到 ctx 结束
func (e *EtcdRegister) Register(ctx context.Context, ins *register.Instance) error {
	grantRes, err := e.client.Grant(ctx, e.ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	e.leaseID = grantRes.ID

	val, err := json.Marshal(ins)
	if err != nil {
		return err
	}
	key := e.getKey(ins)
	if _, err = e.client.Put(ctx, key, string(val), clientv3.WithLease(e.leaseID)); err != nil {
		return fmt.Errorf("put instance: %w", err)
	}

	keepaliveChan, err := e.client.KeepAlive(ctx, e.leaseID)
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	e.keepaliveChan = keepaliveChan
	go e.keepalive(ctx, key)

	logger.Info(ctx, "broker registered", zap.String("key", key), zap.Int64("lease", int64(e.leaseID)))
	return nil
}

func (e *EtcdRegister) UnRegister(ctx context.Context, ins *register.Instance) error {
	if _, err := e.client.Delete(ctx, e.getKey(ins)); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if _, err := e.client.Revoke(ctx, e.leaseID); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}
	return nil
}

func (e *EtcdRegister) keepalive(ctx context.Context, key string) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-e.keepaliveChan:
			if !ok {
				// 租约丢了，实例会在 ttl 后从 etcd 消失
				logger.Warn(ctx, "etcd keepalive channel closed", zap.String("key", key))
				return
			}
		}
	}
}
