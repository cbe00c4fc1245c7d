package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"nanopubsub.com/pkg/logger"
	"nanopubsub.com/pkg/xerr"
)

// Go 安全启动协程，name 会出现在 panic 日志里
func Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.WithWorker(ctx, name)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if logger.Log != nil {
					logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
						zap.Any("panic", r),
						zap.String("stack", stack),
					)
				} else {
					fmt.Printf("🚨 GOROUTINE PANIC [%s]: %v\nStack: %s\n", name, r, stack)
				}
			}
		}()

		fn(ctx)
	}()
}

// Call 同步执行回调；回调返回的错误和 panic 都转成 Handler 错误码
func Call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerr.Wrap(xerr.Handler, fmt.Errorf("panic: %v", r))
		}
	}()

	if e := fn(); e != nil {
		return xerr.Wrap(xerr.Handler, e)
	}
	return nil
}
