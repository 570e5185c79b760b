package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/stockdex/internal/infra/cache"
	"github.com/John-Robertt/stockdex/internal/infra/httpx"
)

const (
	// DefaultMaxRetries 是 Get 使用的限流重试预算（含首次尝试）。
	DefaultMaxRetries = 5

	// ChallengeMarker 是反爬验证页（Cloudflare 等）的标题。
	// 部分站点不返回 429，而是以 200 返回这个页面，要求稍后再试。
	ChallengeMarker = "<title>Just a moment...</title>"
)

// Response 是一次抓取的结果快照（body 已完整读入）。
// 缓存中的 Response 会被多个调用方共享，必须视为只读。
type Response struct {
	StatusCode int
	Body       []byte
	URL        string // 跟随重定向后的最终 URL
	Header     http.Header
}

// RateLimited 报告该响应是否为限流响应（429 或验证页）。
// 兼容模式下重试耗尽会原样返回这种响应，调用方需要自行判断。
func (r *Response) RateLimited() bool {
	if r == nil {
		return false
	}
	return r.StatusCode == http.StatusTooManyRequests || bytes.Contains(r.Body, []byte(ChallengeMarker))
}

// Options 配置 Fetcher；零值字段使用默认值。
type Options struct {
	// Client 为空时使用 httpx.NewClient 的默认配置。
	Client *http.Client
	// Cache 允许多个 Fetcher 共享同一份缓存；为空时每个 Fetcher 独占一个 Unbounded 缓存。
	Cache *cache.Store[*Response]
	// Backoff 为空时使用 FixedBackoff{DefaultBackoff}。
	Backoff Backoff
	// MaxRetries<=0 时使用 DefaultMaxRetries。
	MaxRetries int
	// Strict=true 时重试耗尽返回 *RateLimitError（同时仍返回最后一次响应）。
	Strict bool
	Logger *zap.Logger

	// Sleep 用于限流退避；为空时使用可被 ctx 取消的 timer。测试可注入以避免真实等待。
	Sleep func(ctx context.Context, d time.Duration) error
}

// Fetcher 负责页面获取：缓存命中直接返回，否则请求并按限流策略重试。
//
// 约束：
// - 缓存键是最终 URL（重定向之后），查询键是调用方传入的 URL，二者完全一致才命中
// - 缓存中的 URL 在其生命周期内不会再次请求
// - 只有 200 且非验证页的响应会写入缓存
type Fetcher struct {
	client     *http.Client
	cache      *cache.Store[*Response]
	backoff    Backoff
	maxRetries int
	strict     bool
	log        *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(opts Options) (*Fetcher, error) {
	client := opts.Client
	if client == nil {
		c, err := httpx.NewClient(httpx.Options{})
		if err != nil {
			return nil, err
		}
		client = c
	}
	store := opts.Cache
	if store == nil {
		store = cache.New[*Response](nil)
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = FixedBackoff{Interval: DefaultBackoff}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Fetcher{
		client:     client,
		cache:      store,
		backoff:    backoff,
		maxRetries: maxRetries,
		strict:     opts.Strict,
		log:        log,
		sleep:      sleep,
	}, nil
}

// Cache 暴露底层缓存（用于重置或统计）。
func (f *Fetcher) Cache() *cache.Store[*Response] { return f.cache }

// Get 等价于 GetWithRetries(ctx, rawURL, f 的默认重试预算)。
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	return f.GetWithRetries(ctx, rawURL, f.maxRetries)
}

// GetWithRetries 获取 rawURL。
//
// 返回值：
// - 状态码不是 200/429：*NoDataError
// - 限流（429 或验证页）：最多尝试 max(1, maxRetries) 次，每次之间按 Backoff 等待
// - 重试耗尽：返回最后一次的限流响应；Strict 模式下同时返回 *RateLimitError
// - 传输层错误与 ctx 取消：原样包装返回
func (f *Fetcher) GetWithRetries(ctx context.Context, rawURL string, maxRetries int) (*Response, error) {
	if resp, ok := f.cache.Get(rawURL); ok {
		f.log.Debug("cache hit", zap.String("url", rawURL))
		return resp, nil
	}
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	attempts := maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var last *Response
	for n := 1; n <= attempts; n++ {
		resp, err := f.do(ctx, rawURL)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &NoDataError{URL: rawURL, StatusCode: resp.StatusCode}
		}

		if !resp.RateLimited() {
			f.cache.Put(resp.URL, resp)
			return resp, nil
		}

		last = resp
		remaining := attempts - n
		if remaining <= 0 {
			break
		}
		d := f.backoff.Delay(n)
		f.log.Warn("rate limit reached",
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
			zap.Int("remaining", remaining),
			zap.Duration("retry_after", d),
		)
		if err := f.sleep(ctx, d); err != nil {
			return nil, err
		}
	}

	f.log.Warn("rate limit retries exhausted",
		zap.String("url", rawURL),
		zap.Int("attempts", attempts),
		zap.Int("status", last.StatusCode),
	)
	if f.strict {
		return last, &RateLimitError{URL: rawURL, Attempts: attempts, StatusCode: last.StatusCode}
	}
	return last, nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败 %s: %w", rawURL, err)
	}

	resolved := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		resolved = resp.Request.URL.String()
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Body:       b,
		URL:        resolved,
		Header:     resp.Header.Clone(),
	}, nil
}

func validateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return errors.New("url 不能为空")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("url 无效：%w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url 必须是 http/https：%q", rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("url 缺少 host：%q", rawURL)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
