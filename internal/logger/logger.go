// Package logger 提供基于 log/slog 的全局结构化日志。
//
// 业务代码沿用 "[component] message" 的前缀习惯，额外字段以 key/value 形式附加。
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	Configure(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// ParseLevel 解析 LOG_LEVEL 风格的级别字符串，无法识别时返回 Info。
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Configure 替换全局 logger，format 支持 text(默认) 与 json。
func Configure(level, format string) {
	SetOutput(os.Stderr, level, format)
}

// SetOutput 与 Configure 相同，但允许指定输出目标，主要用于测试。
func SetOutput(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	defaultLogger.Store(slog.New(handler))
}

// L 返回当前的全局 logger。
func L() *slog.Logger {
	return defaultLogger.Load()
}

// With 返回携带固定字段的子 logger。
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

func Debug(msg string, args ...any) { L().Debug(msg, args...) }

func Info(msg string, args ...any) { L().Info(msg, args...) }

func Warn(msg string, args ...any) { L().Warn(msg, args...) }

func Error(msg string, args ...any) { L().Error(msg, args...) }

// ErrorContext 记录错误日志并携带 context，便于后续接入请求链路追踪。
func ErrorContext(ctx context.Context, msg string, args ...any) {
	L().ErrorContext(ctx, msg, args...)
}
