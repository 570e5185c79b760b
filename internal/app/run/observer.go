package run

import (
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/stockdex/internal/domain"
)

// Observer 把“批量抓取的进度”从执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）
// - 实现必须并发安全：OnItemDone 可能来自多个 goroutine
type Observer interface {
	OnStart(total int)
	OnItemDone(idx, total int, it domain.FetchItem, dur time.Duration)
}

// LogObserver 把进度写入 zap 日志（CLI 默认使用，日志走 stderr）。
type LogObserver struct {
	Log *zap.Logger
}

func (o LogObserver) OnStart(total int) {
	o.Log.Info("fetch started", zap.Int("total", total))
}

func (o LogObserver) OnItemDone(idx, total int, it domain.FetchItem, dur time.Duration) {
	fields := []zap.Field{
		zap.Int("idx", idx),
		zap.Int("total", total),
		zap.String("url", it.URL),
		zap.String("status", it.Status),
		zap.Int("status_code", it.StatusCode),
		zap.Bool("cached", it.Cached),
		zap.Duration("took", dur),
	}
	if it.Status == domain.StatusOK {
		o.Log.Info("fetch done", fields...)
		return
	}
	o.Log.Warn("fetch done", append(fields, zap.String("error_code", it.ErrorCode), zap.String("error", it.ErrorMsg))...)
}
