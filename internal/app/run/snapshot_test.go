package run

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/John-Robertt/stockdex/internal/domain"
	"github.com/John-Robertt/stockdex/internal/infra/fsx"
)

func TestSaveSnapshots_WritesOKPagesAndReport(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)

	f, err := NewFetcher(testConfig(), nil)
	if err != nil {
		t.Fatalf("构造 Fetcher 失败：%v", err)
	}
	ok := srv.URL + "/quote/AAPL/cash-flow"
	missing := srv.URL + "/quote/NOPE"

	rr, pages := FetchPages(context.Background(), f, []string{ok, missing}, 2, nil)
	before := hits.Load()

	dir := filepath.Join(t.TempDir(), "out")
	if err := SaveSnapshots(dir, &rr, pages); err != nil {
		t.Fatalf("SaveSnapshots 失败：%v", err)
	}
	if hits.Load() != before {
		t.Fatalf("保存快照不应发请求")
	}

	var okItem domain.FetchItem
	for _, it := range rr.Items {
		switch it.URL {
		case ok:
			okItem = it
		case missing:
			if it.Snapshot != "" {
				t.Fatalf("失败条目不应有快照：%+v", it)
			}
		}
	}
	if okItem.Snapshot != fsx.SnapshotName(ok) {
		t.Fatalf("快照文件名不符合预期：%q", okItem.Snapshot)
	}
	b, err := os.ReadFile(filepath.Join(dir, okItem.Snapshot))
	if err != nil {
		t.Fatalf("读取快照失败：%v", err)
	}
	if string(b) != cashFlowHTML {
		t.Fatalf("快照内容不一致：%q", string(b))
	}

	rb, err := os.ReadFile(filepath.Join(dir, ReportFileName))
	if err != nil {
		t.Fatalf("读取 report.json 失败：%v", err)
	}
	var got domain.FetchReport
	if err := json.Unmarshal(rb, &got); err != nil {
		t.Fatalf("report.json 不是合法 JSON：%v", err)
	}
	if got.Summary.OK != 1 || got.Summary.Failed != 1 {
		t.Fatalf("report.json summary 不符合预期：%+v", got.Summary)
	}
}

func TestSaveSnapshots_NameCollisionGetsSuffix(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)

	f, err := NewFetcher(testConfig(), nil)
	if err != nil {
		t.Fatalf("构造 Fetcher 失败：%v", err)
	}
	// 两个不同 URL 经清洗后得到同一文件名。
	a := srv.URL + "/quote/AAPL/cash-flow"
	b := srv.URL + "/quote/AAPL/cash-flow?"
	rr, pages := FetchPages(context.Background(), f, []string{a, b}, 1, nil)

	dir := t.TempDir()
	if err := SaveSnapshots(dir, &rr, pages); err != nil {
		t.Fatalf("SaveSnapshots 失败：%v", err)
	}
	names := map[string]bool{}
	for _, it := range rr.Items {
		if it.Snapshot == "" {
			continue
		}
		names[it.Snapshot] = true
	}
	if len(names) != 2 {
		t.Fatalf("同名快照应追加序号，实际：%v items=%+v", names, rr.Items)
	}
}

func TestSaveSnapshots_BatchLargerThanCache(t *testing.T) {
	mux := http.NewServeMux()
	for _, p := range []string{"/a", "/b", "/c"} {
		body := "<html><body>" + p + "</body></html>"
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	eff := testConfig()
	eff.CacheMaxEntries = 1
	f, err := NewFetcher(eff, nil)
	if err != nil {
		t.Fatalf("构造 Fetcher 失败：%v", err)
	}

	urls := []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"}
	rr, pages := FetchPages(context.Background(), f, urls, 1, nil)
	if f.Cache().Len() != 1 {
		t.Fatalf("期望 LRU 只保留 1 条，实际 %d", f.Cache().Len())
	}

	dir := t.TempDir()
	if err := SaveSnapshots(dir, &rr, pages); err != nil {
		t.Fatalf("SaveSnapshots 失败：%v", err)
	}
	for _, it := range rr.Items {
		if it.Snapshot == "" {
			t.Fatalf("已被缓存淘汰的页面也必须写出快照：%+v", it)
		}
		b, err := os.ReadFile(filepath.Join(dir, it.Snapshot))
		if err != nil {
			t.Fatalf("读取快照失败：%v", err)
		}
		if len(b) != it.Bytes {
			t.Fatalf("快照长度不一致：%s bytes=%d file=%d", it.URL, it.Bytes, len(b))
		}
	}
}

func TestSaveSnapshots_MissingBodyIsError(t *testing.T) {
	rr := domain.FetchReport{Items: []domain.FetchItem{
		{URL: "https://example.test/a", ResolvedURL: "https://example.test/a", Status: domain.StatusOK},
	}}
	if err := SaveSnapshots(t.TempDir(), &rr, nil); err == nil {
		t.Fatalf("status=ok 却缺少正文时期望报错，但得到 nil")
	}
}
