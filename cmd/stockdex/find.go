package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/stockdex/internal/app/run"
	"github.com/John-Robertt/stockdex/internal/domain"
	"github.com/John-Robertt/stockdex/internal/search"
)

func newFindCmd(gf *globalFlags) *cobra.Command {
	var (
		q        search.Query
		attrs    []string
		withHTML bool
	)
	cmd := &cobra.Command{
		Use:   "find URL",
		Short: "抓取页面并按可见文本定位元素",
		Long: `find 在页面中寻找第一个文本包含 --text 的 <tag> 元素。

--attr 可重复，形如 class=row；--skip N 表示返回命中元素之后
（文档顺序）第 N 个同名元素，越过文档末尾视为未找到。

示例：
  stockdex find https://finance.yahoo.com/quote/AAPL/cash-flow --tag div --text "Free Cash Flow"
  stockdex find URL --tag tr --text "Revenue" --skip 1 --html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseAttrs(attrs)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			if q.Skip < 0 {
				return &exitError{code: 2, err: fmt.Errorf("--skip 不能为负数：%d", q.Skip)}
			}
			q.Attrs = m

			eff, log, err := loadConfig(cmd, gf, nil)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			f, err := run.NewFetcher(eff, log)
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			res := run.Find(cmd.Context(), f, args[0], q, withHTML)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			switch {
			case res.Found:
				return nil
			case res.ErrorCode == domain.ErrCodeInvalidArgs:
				return &exitError{code: 2}
			default:
				return &exitError{code: 1}
			}
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&q.Tag, "tag", "", "元素名（区分大小写），例如 div、tr")
	fl.StringVar(&q.Text, "text", "", "元素全文本需包含的片段（区分大小写）")
	fl.StringArrayVar(&attrs, "attr", nil, "属性过滤 key=value，可重复")
	fl.IntVar(&q.Skip, "skip", 0, "命中后再向后跳过的同名元素个数")
	fl.StringVar(&q.Scope, "scope", "", "只在匹配该 CSS 选择器的子树内查找")
	fl.BoolVar(&withHTML, "html", false, "输出命中元素的 HTML")
	_ = cmd.MarkFlagRequired("tag")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func parseAttrs(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("--attr 需要 key=value 形式，实际是 %q", kv)
		}
		m[k] = v
	}
	return m, nil
}
