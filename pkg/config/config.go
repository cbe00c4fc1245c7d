package config

import (
	"context"
	"errors"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"nanopubsub.com/pkg/logger"
)

type options struct {
	defaults map[string]interface{}
	flags    map[string]*pflag.Flag
	paths    []string
	optional bool
	onChange func()
}

type Option func(*options)

// WithDefaults 注册默认值，key 使用 viper 的点号路径，例如 "broker.port"
func WithDefaults(d map[string]interface{}) Option {
	return func(o *options) {
		for k, v := range d {
			o.defaults[k] = v
		}
	}
}

// WithFlag 把命令行参数绑定到配置 key，命令行优先级最高
func WithFlag(key string, f *pflag.Flag) Option {
	return func(o *options) {
		if f != nil {
			o.flags[key] = f
		}
	}
}

// WithPaths 覆盖默认搜索路径 ./config 和 .
func WithPaths(paths ...string) Option {
	return func(o *options) { o.paths = paths }
}

// Optional 找不到配置文件时只用默认值 + 环境变量
func Optional() Option {
	return func(o *options) { o.optional = true }
}

// WithWatch 监听文件变更，热更新到 out 之后回调 fn
func WithWatch(fn func()) Option {
	return func(o *options) { o.onChange = fn }
}

// Load 约定：config/{service}.yaml
// 环境变量覆盖，例如 NANOBROKER_BROKER_PORT 覆盖 broker.port
func Load(service string, out interface{}, opts ...Option) (*viper.Viper, error) {
	o := &options{
		defaults: make(map[string]interface{}),
		flags:    make(map[string]*pflag.Flag),
		paths:    []string{"./config", "."},
	}
	for _, opt := range opts {
		opt(o)
	}

	ctx := context.Background()
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range o.paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(strings.ToUpper(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range o.defaults {
		v.SetDefault(k, val)
	}
	for key, f := range o.flags {
		if err := v.BindPFlag(key, f); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !o.optional || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	logger.Info(ctx, "config loaded",
		zap.String("service", service),
		zap.String("file", v.ConfigFileUsed()))

	if o.onChange != nil && v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			logger.Info(ctx, "config file changed", zap.String("file", e.Name))

			if err := v.Unmarshal(out); err != nil {
				logger.Error(ctx, "reload config error", zap.Error(err))
				return
			}
			o.onChange()
		})
		v.WatchConfig()
	}

	return v, nil
}
