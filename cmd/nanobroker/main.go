package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"nanopubsub.com/internal/broker"
	"nanopubsub.com/pkg/bootstrap"
	"nanopubsub.com/pkg/config"
	"nanopubsub.com/pkg/logger"
)

const serviceName = "nanobroker"

type Config struct {
	Name    string            `mapstructure:"name"`
	Log     LogConfig         `mapstructure:"log"`
	Broker  broker.Config     `mapstructure:"broker"`
	Metrics ServerConfig      `mapstructure:"metrics"`
	Pprof   ServerConfig      `mapstructure:"pprof"`
	Etcd    bootstrap.EtcdCfg `mapstructure:"etcd"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// File 为空写 logs/<name>.log，"-" 只写 stdout
	File string `mapstructure:"file"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func defaults() map[string]interface{} {
	m := broker.Defaults()
	m["name"] = serviceName
	m["log.level"] = "info"
	m["log.file"] = ""
	m["metrics.addr"] = ":9464"
	m["pprof.addr"] = ""
	m["etcd.service_prefix"] = "/nanopubsub/brokers"
	m["etcd.ttl"] = 10
	return m
}

// loadConfig 解析命令行并加载配置：命令行 > 环境变量 > 配置文件 > 默认值
func loadConfig(args []string, onChange func(*Config)) (*Config, error) {
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	fs.IntP("port", "p", broker.DefaultPort, "UDP port the broker listens on")
	name := fs.StringP("config", "c", serviceName, "config name, looked up as ./config/<name>.yaml or ./<name>.yaml")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{}
	opts := []config.Option{
		config.WithDefaults(defaults()),
		config.Optional(),
	}
	// 只有显式传了 -p 才覆盖配置文件
	if f := fs.Lookup("port"); f.Changed {
		opts = append(opts, config.WithFlag("broker.port", f))
	}
	if onChange != nil {
		opts = append(opts, config.WithWatch(func() { onChange(cfg) }))
	}

	if _, err := config.Load(*name, cfg, opts...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	// ========= 0) 全局上下文 & 优雅退出 =========
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========= 1) 配置 =========
	// 热更新只对日志级别生效，端口等需要重启
	cfg, err := loadConfig(os.Args[1:], func(c *Config) {
		logger.SetLevel(c.Log.Level)
		logger.Info(ctx, "log level reloaded", zap.String("level", c.Log.Level))
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	// ========= 2) 日志 =========
	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	defer logger.Sync()
	logger.Info(ctx, "服务开始启动", zap.Int("port", cfg.Broker.Port))

	// ========= 3) broker + metrics/pprof + etcd =========
	err = bootstrap.Run(ctx, bootstrap.Options{
		ServiceName: cfg.Name,
		BuildService: func(ctx context.Context) (bootstrap.Service, string, error) {
			b, err := broker.New(cfg.Broker)
			if err != nil {
				return nil, "", err
			}
			return b, b.Addr().String(), nil
		},
		EtcdConfig:  &cfg.Etcd,
		MetricsAddr: cfg.Metrics.Addr,
		PprofAddr:   cfg.Pprof.Addr,
	})
	if err != nil {
		logger.Fatal(ctx, "broker exited with error", zap.Error(err))
	}
}
