package run

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/stockdex/internal/config"
	"github.com/John-Robertt/stockdex/internal/domain"
	"github.com/John-Robertt/stockdex/internal/fetcher"
	"github.com/John-Robertt/stockdex/internal/infra/cache"
	"github.com/John-Robertt/stockdex/internal/infra/httpx"
	"github.com/John-Robertt/stockdex/internal/search"
)

// NewFetcher 按最终配置组装 client、缓存与退避策略。
func NewFetcher(eff config.EffectiveConfig, log *zap.Logger) (*fetcher.Fetcher, error) {
	client, err := httpx.NewClient(httpx.Options{
		Timeout:   eff.Timeout,
		RetryMax:  eff.TransportRetries,
		UserAgent: eff.UserAgent,
		ProxyURL:  eff.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("proxy.url 无效：%w", err)
	}
	backoff, err := fetcher.NewBackoff(eff.BackoffStrategy, eff.Backoff, eff.MaxBackoff)
	if err != nil {
		return nil, err
	}
	return fetcher.New(fetcher.Options{
		Client:     client,
		Cache:      cache.New[*fetcher.Response](cache.LRU(eff.CacheMaxEntries)),
		Backoff:    backoff,
		MaxRetries: eff.MaxRetries,
		Strict:     eff.Strict,
		Logger:     log,
	})
}

// Fetch 并发抓取多个 URL，共享同一个 Fetcher（及其缓存）。
// 单条失败只体现在对应 item 上，不影响其他 URL；ctx 取消时未开始的 URL 记为失败。
func Fetch(ctx context.Context, f *fetcher.Fetcher, urls []string, concurrency int, obs Observer) domain.FetchReport {
	rr, _ := FetchPages(ctx, f, urls, concurrency, obs)
	return rr
}

// FetchPages 与 Fetch 相同，另外返回 status=ok 条目的页面正文（key 为 item.URL）。
//
// 约束：正文在本批次内由调用方持有，不依赖 Fetcher 缓存（缓存可能已按 LRU 淘汰）。
func FetchPages(ctx context.Context, f *fetcher.Fetcher, urls []string, concurrency int, obs Observer) (domain.FetchReport, map[string][]byte) {
	rr := domain.FetchReport{
		StartedAt: time.Now().UTC(),
		Items:     make([]domain.FetchItem, 0, len(urls)),
	}
	pages := make(map[string][]byte, len(urls))

	urls = dedupe(urls)
	if obs != nil {
		obs.OnStart(len(urls))
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, u := range urls {
		u := u
		g.Go(func() error {
			started := time.Now()
			var (
				it   domain.FetchItem
				body []byte
			)
			if err := gctx.Err(); err != nil {
				it = failedItem(u, err)
			} else {
				it, body = fetchOne(gctx, f, u)
			}

			mu.Lock()
			rr.Items = append(rr.Items, it)
			if it.Status == domain.StatusOK {
				pages[it.URL] = body
			}
			done++
			idx := done
			mu.Unlock()

			if obs != nil {
				obs.OnItemDone(idx, len(urls), it, time.Since(started))
			}
			// 单条失败不中断整批。
			return nil
		})
	}
	_ = g.Wait()

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr, pages
}

func fetchOne(ctx context.Context, f *fetcher.Fetcher, u string) (domain.FetchItem, []byte) {
	_, cached := f.Cache().Get(u)
	resp, err := f.Get(ctx, u)
	if err != nil && resp == nil {
		return failedItem(u, err), nil
	}

	it := domain.FetchItem{
		URL:         u,
		ResolvedURL: resp.URL,
		StatusCode:  resp.StatusCode,
		Bytes:       len(resp.Body),
		Cached:      cached,
		Status:      domain.StatusOK,
	}
	if resp.RateLimited() {
		it.Status = domain.StatusRateLimited
		it.ErrorCode = domain.ErrCodeRateLimited
		if err != nil {
			it.ErrorMsg = err.Error()
		} else {
			it.ErrorMsg = "限流重试已用尽，返回的是限流/验证页响应"
		}
	}
	return it, resp.Body
}

func failedItem(u string, err error) domain.FetchItem {
	return domain.FetchItem{
		URL:       u,
		Status:    domain.StatusFailed,
		ErrorCode: ErrorCode(err),
		ErrorMsg:  err.Error(),
	}
}

// Find 抓取页面并做文本锚定查找。
func Find(ctx context.Context, f *fetcher.Fetcher, u string, q search.Query, withHTML bool) domain.FindResult {
	res := domain.FindResult{
		URL:  u,
		Tag:  q.Tag,
		Text: q.Text,
		Skip: q.Skip,
	}
	if strings.TrimSpace(q.Tag) == "" {
		res.ErrorCode = domain.ErrCodeInvalidArgs
		res.ErrorMsg = "tag 不能为空"
		return res
	}

	resp, err := f.Get(ctx, u)
	if err != nil && resp == nil {
		res.ErrorCode = ErrorCode(err)
		res.ErrorMsg = err.Error()
		return res
	}
	res.ResolvedURL = resp.URL
	if resp.RateLimited() {
		res.ErrorCode = domain.ErrCodeRateLimited
		res.ErrorMsg = "限流重试已用尽，无法获取页面内容"
		return res
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		res.ErrorCode = domain.ErrCodeParseFailed
		res.ErrorMsg = err.Error()
		return res
	}

	sel, ok, err := search.FindE(doc.Selection, q)
	if err != nil {
		res.ErrorCode = domain.ErrCodeInvalidArgs
		res.ErrorMsg = err.Error()
		return res
	}
	if !ok {
		res.ErrorCode = domain.ErrCodeNotFound
		res.ErrorMsg = fmt.Sprintf("未找到包含 %q 的 <%s>", q.Text, q.Tag)
		return res
	}

	res.Found = true
	res.MatchText = strings.TrimSpace(sel.Text())
	if withHTML {
		h, err := goquery.OuterHtml(sel)
		if err == nil {
			res.MatchHTML = h
		}
	}
	return res
}

// ErrorCode 把 error 映射为对外稳定的 error_code。
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case fetcher.IsNoData(err):
		return domain.ErrCodeNoData
	case fetcher.IsRateLimited(err):
		return domain.ErrCodeRateLimited
	case config.Code(err) == config.ErrCodeNotFound:
		return domain.ErrCodeConfigNotFound
	case config.Code(err) != "":
		return domain.ErrCodeConfigInvalid
	default:
		return domain.ErrCodeFetchFailed
	}
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
