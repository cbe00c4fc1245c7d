package register

import "context"

// Instance 注册到注册中心的 broker 实例
type Instance struct {
	ID       string            `json:"id"`       // 每次启动生成的 uuid
	Name     string            `json:"name"`     // 服务名称 eg:"nanobroker"
	Addr     string            `json:"addr"`     // 收包地址 ip:port
	Network  string            `json:"network"`  // "udp"
	MetaData map[string]string `json:"metadata"` // 一些其他信息
}

type Register interface {
	Register(ctx context.Context, ins *Instance) error
	UnRegister(ctx context.Context, ins *Instance) error
}
