package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/stockdex/internal/app/run"
	"github.com/John-Robertt/stockdex/internal/config"
)

func newFetchCmd(gf *globalFlags) *cobra.Command {
	var (
		concurrency int
		outDir      string
	)
	cmd := &cobra.Command{
		Use:   "fetch URL...",
		Short: "抓取一个或多个页面并输出抓取报告",
		Long: `fetch 使用同一个 Fetcher（共享连接与缓存）抓取所有 URL。

状态码既不是 200 也不是 429 的页面记为 no_data（通常是证券代码不存在）；
429 或验证页在重试耗尽后记为 rate_limited。

示例：
  stockdex fetch https://finance.yahoo.com/quote/AAPL/cash-flow
  stockdex fetch --concurrency 2 --max-retries 3 URL1 URL2
  stockdex fetch --out ./snapshots URL1 URL2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eff, log, err := loadConfig(cmd, gf, func(cli *config.CLIArgs) {
				cli.Concurrency = concurrency
				cli.ConcurrencySet = cmd.Flags().Changed("concurrency")
			})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			f, err := run.NewFetcher(eff, log)
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			rr, pages := run.FetchPages(cmd.Context(), f, args, eff.Concurrency, run.LogObserver{Log: log})
			if outDir != "" {
				if err := run.SaveSnapshots(outDir, &rr, pages); err != nil {
					return &exitError{code: 1, err: err}
				}
				log.Info("snapshots saved", zap.String("dir", outDir))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rr); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "完成：ok=%d rate_limited=%d failed=%d\n",
				rr.Summary.OK, rr.Summary.RateLimited, rr.Summary.Failed,
			)
			if rr.Summary.Failed > 0 || rr.Summary.RateLimited > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", config.DefaultConcurrency, "并发抓取数（1-16）")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "把成功页面与 report.json 保存到该目录")
	return cmd
}
