package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nanopubsub.com/pkg/logger"
	"nanopubsub.com/pkg/register"
	"nanopubsub.com/pkg/register/etcd"
)

// EtcdCfg holds service discovery config.
type EtcdCfg struct {
	Endpoints     []string `mapstructure:"endpoints"`
	ServicePrefix string   `mapstructure:"service_prefix"`
	TTL           int64    `mapstructure:"ttl"`
}

// Service 主组件：已经绑定好端口、可以关闭
type Service interface {
	Start(ctx context.Context)
	Close() error
}

// Options controls the bootstrap process; provide hooks for service-specific bits.
type Options struct {
	ServiceName string

	// Required: 构建主组件，返回组件和它的对外地址（注册到 etcd 用）
	BuildService func(ctx context.Context) (Service, string, error)

	// Optional: return Etcd config; if nil or no endpoints, skip registration
	EtcdConfig *EtcdCfg

	// Listen addresses; empty means disabled
	MetricsAddr string
	PprofAddr   string

	ShutdownTimeout time.Duration
}

// Run 启动主组件和旁路 HTTP 服务，阻塞到 ctx 取消或某个服务出错，然后按相反顺序关闭。
func Run(ctx context.Context, opt Options) error {
	if opt.ServiceName == "" || opt.BuildService == nil {
		return fmt.Errorf("bootstrap: missing required options")
	}
	if opt.ShutdownTimeout <= 0 {
		opt.ShutdownTimeout = 5 * time.Second
	}

	svc, addr, err := opt.BuildService(ctx)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	var (
		reg register.Register
		ins *register.Instance
	)
	if ec := opt.EtcdConfig; ec != nil && len(ec.Endpoints) > 0 {
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   ec.Endpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			_ = svc.Close()
			return fmt.Errorf("connect etcd: %w", err)
		}
		defer cli.Close()

		reg = etcd.NewEtcdRegister(cli, ec.ServicePrefix, ec.TTL)
		ins = &register.Instance{
			ID:      instanceID(svc),
			Name:    opt.ServiceName,
			Addr:    addr,
			Network: "udp",
			MetaData: map[string]string{
				"version": "v1",
			},
		}
		if err := reg.Register(ctx, ins); err != nil {
			_ = svc.Close()
			return fmt.Errorf("register etcd: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if opt.PprofAddr != "" {
		g.Go(func() error { return serveHTTP(gctx, "pprof", opt.PprofAddr, pprofMux(), opt.ShutdownTimeout) })
	}
	if opt.MetricsAddr != "" {
		g.Go(func() error { return serveHTTP(gctx, "metrics", opt.MetricsAddr, MetricsMux(), opt.ShutdownTimeout) })
	}

	svc.Start(gctx)
	logger.Info(ctx, "🚀 service started", zap.String("service", opt.ServiceName), zap.String("addr", addr))

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "shutdown signal received")

		if reg != nil {
			c, cancel := context.WithTimeout(context.Background(), opt.ShutdownTimeout)
			if err := reg.UnRegister(c, ins); err != nil {
				logger.Warn(ctx, "unregister failed", zap.Error(err))
			}
			cancel()
		}
		return svc.Close()
	})

	err = g.Wait()
	logger.Info(ctx, "service stopped", zap.String("service", opt.ServiceName))
	return err
}

// instanceID 组件自带 ID 时沿用，否则生成一个
func instanceID(svc Service) string {
	if s, ok := svc.(interface{ ID() string }); ok && s.ID() != "" {
		return s.ID()
	}
	return uuid.NewString()
}

// MetricsMux 暴露 /metrics
func MetricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func pprofMux() http.Handler {
	runtime.SetMutexProfileFraction(10)
	runtime.SetBlockProfileRate(10000)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func serveHTTP(ctx context.Context, name, addr string, h http.Handler, timeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 3 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, name+" listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		c, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = srv.Shutdown(c)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	}
}
