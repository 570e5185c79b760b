package fetcher

import (
	"fmt"
	"strings"
	"time"
)

// DefaultBackoff 是限流后的固定等待时间。
// 传输层本身也有重试，这里刻意取得较长。
const DefaultBackoff = 10 * time.Second

// Backoff 给出第 attempt 次（从 1 开始）限流之后的等待时长。
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff 每次等待相同时长。
type FixedBackoff struct {
	Interval time.Duration
}

func (b FixedBackoff) Delay(int) time.Duration {
	if b.Interval < 0 {
		return 0
	}
	return b.Interval
}

// ExponentialBackoff 等待 Base * 2^(attempt-1)，Max>0 时截断到 Max。
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		if d <= 0 { // 溢出
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

const (
	StrategyFixed       = "fixed"
	StrategyExponential = "exponential"
)

// NewBackoff 按策略名构造 Backoff；strategy 为空等价于 fixed。
func NewBackoff(strategy string, base, max time.Duration) (Backoff, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", StrategyFixed:
		return FixedBackoff{Interval: base}, nil
	case StrategyExponential:
		return ExponentialBackoff{Base: base, Max: max}, nil
	default:
		return nil, fmt.Errorf("未知 backoff 策略：%q（只能是 fixed 或 exponential）", strategy)
	}
}
