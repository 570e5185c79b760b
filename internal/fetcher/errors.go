package fetcher

import (
	"errors"
	"fmt"
)

// NoDataError 表示站点明确拒绝了请求（状态码既不是 200 也不是 429）。
// 这是唯一的致命错误：不重试、不缓存，通常意味着证券代码不存在。
type NoDataError struct {
	URL        string
	StatusCode int
}

func (e *NoDataError) Error() string {
	if e == nil {
		return "no data"
	}
	return fmt.Sprintf("加载页面失败（status code: %d），请检查证券代码是否存在：%s", e.StatusCode, e.URL)
}

// RateLimitError 表示限流重试次数已用尽。
// 只在 Strict 模式下返回；兼容模式下调用方拿到的是降级后的 Response 且 err=nil。
type RateLimitError struct {
	URL        string
	Attempts   int
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return "rate limited"
	}
	return fmt.Sprintf("限流重试已用尽（%d 次尝试，最后 status code: %d）：%s", e.Attempts, e.StatusCode, e.URL)
}

func IsNoData(err error) bool {
	var e *NoDataError
	return errors.As(err, &e)
}

func IsRateLimited(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}
