package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusOK          = "ok"
	StatusRateLimited = "rate_limited"
	StatusFailed      = "failed"
)

const (
	ErrCodeNoData         = "no_data"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeFetchFailed    = "fetch_failed"
	ErrCodeParseFailed    = "parse_failed"
	ErrCodeNotFound       = "not_found"
	ErrCodeInvalidArgs    = "invalid_args"
	ErrCodeConfigNotFound = "config_not_found"
	ErrCodeConfigInvalid  = "config_invalid"
)

// FetchReport 是 `stockdex fetch` 对外稳定输出（stdout JSON）的结构。
type FetchReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary FetchSummary `json:"summary"`
	Items   []FetchItem  `json:"items"`
}

type FetchSummary struct {
	OK          int `json:"ok"`
	RateLimited int `json:"rate_limited"`
	Failed      int `json:"failed"`
}

type FetchItem struct {
	URL         string `json:"url"`
	ResolvedURL string `json:"resolved_url"`
	StatusCode  int    `json:"status_code"`
	Bytes       int    `json:"bytes"`
	Cached      bool   `json:"cached"`
	// Snapshot 是 --out 目录下保存的页面文件名（仅 status=ok 且启用快照时非空）。
	Snapshot string `json:"snapshot,omitempty"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 url 字典序；url=="" 的合成条目排在最后
// 3) summary 由 items 计算得出
func (r *FetchReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].URL
		b := r.Items[j].URL
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	var s FetchSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusOK:
			s.OK++
		case StatusRateLimited:
			s.RateLimited++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r FetchReport) MarshalJSON() ([]byte, error) {
	type Alias FetchReport
	return json.Marshal(Alias(r))
}

// FindResult 是 `stockdex find` 的输出。
type FindResult struct {
	URL         string `json:"url"`
	ResolvedURL string `json:"resolved_url"`

	Tag  string `json:"tag"`
	Text string `json:"text"`
	Skip int    `json:"skip"`

	Found bool `json:"found"`
	// MatchText 是命中元素的全文本（含后代）。
	MatchText string `json:"match_text,omitempty"`
	// MatchHTML 只有在 --html 时输出。
	MatchHTML string `json:"match_html,omitempty"`

	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}
