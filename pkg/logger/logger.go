package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

// Context 里携带的日志字段
const (
	clientIDKey ctxKey = "client_id"
	workerKey   ctxKey = "worker"
)

// 全局 Logger 实例
var Log *zap.Logger

// level 可以在运行时修改（配置热更新）
var level = zap.NewAtomicLevelAt(zap.InfoLevel)

// Init 初始化日志组件
// serviceName: 服务名称 (例如 "nanobroker")
// lvl: 日志级别 (debug, info, warn, error)
func Init(serviceName string, lvl string) {
	InitWithFile(serviceName, lvl, "")
}

// InitWithFile 初始化日志组件，支持指定日志文件路径
// logFile 为空时使用 logs/{serviceName}.log，为 "-" 时只输出到控制台
func InitWithFile(serviceName string, lvl string, logFile string) {
	SetLevel(lvl)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	writeSyncers := []zapcore.WriteSyncer{
		zapcore.AddSync(os.Stdout),
	}

	if logFile == "" {
		logFile = filepath.Join("logs", serviceName+".log")
	}
	if logFile != "-" {
		// 目录或文件打不开时只输出到控制台，不中断启动
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
			file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				writeSyncers = append(writeSyncers, zapcore.AddSync(file))
			}
		}
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(writeSyncers...),
		level,
	)

	// AddCallerSkip(1)：跳过本包的封装函数
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", serviceName))
}

// Nop 安装一个不输出的 logger，测试里用
func Nop() {
	Log = zap.NewNop()
}

// SetLevel 修改日志级别，非法值按 info 处理
func SetLevel(lvl string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		l = zap.InfoLevel
	}
	level.SetLevel(l)
}

// Level 返回当前日志级别
func Level() zapcore.Level {
	return level.Level()
}

// WithClient 把 client id 放进 ctx，后续日志自动带上 client_id 字段
func WithClient(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// WithWorker 把 worker 名称放进 ctx
func WithWorker(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workerKey, name)
}

// ---------------------------------------------------------
// 带 Context 的日志方法
// ---------------------------------------------------------

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	if Log == nil {
		return
	}
	Log.Info(msg, extract(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	if Log == nil {
		return
	}
	Log.Error(msg, extract(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	if Log == nil {
		return
	}
	Log.Warn(msg, extract(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	if Log == nil {
		return
	}
	Log.Debug(msg, extract(ctx, fields)...)
}

// Fatal 打印 Fatal 级别日志 (会调用 os.Exit)
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	if Log == nil {
		Init("nanobroker", "info")
	}
	Log.Fatal(msg, extract(ctx, fields)...)
}

// Enabled 判断级别是否开启，热路径上避免构造字段
func Enabled(l zapcore.Level) bool {
	return Log != nil && Log.Core().Enabled(l)
}

func extract(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if w, ok := ctx.Value(workerKey).(string); ok && w != "" {
		fields = append(fields, zap.String("worker", w))
	}
	if id, ok := ctx.Value(clientIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("client_id", id))
	}
	return fields
}

// Sync 刷新缓冲区 (main 函数 defer 调用)
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
