package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/John-Robertt/stockdex/internal/config"
)

// exitError 携带进程退出码：1=有失败条目/未找到，2=参数或配置错误。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	code := 1
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	if ee == nil || ee.err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	stop()
	os.Exit(code)
}

// globalFlags 是所有子命令共享的参数。
type globalFlags struct {
	configPath string
	verbose    bool
	strict     bool
	maxRetries int
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "stockdex",
		Short: "抓取财经页面并按可见文本定位数据",
		Long: `stockdex 抓取证券相关的财经页面（带限流退避与进程内缓存），
并在 HTML 中按可见文本定位元素（例如 "Total Revenue" 所在的行）。

stdout 只输出一个 JSON 结果；日志走 stderr。

配置（可选）：
  ./stockdex.yaml   或 --config 指定
  ./.env 与 STOCKDEX_* 环境变量
优先级：命令行参数 > 环境变量 > 配置文件 > 内置默认`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&gf.configPath, "config", "c", "", "配置文件路径（默认 ./stockdex.yaml，可不存在）")
	pf.BoolVarP(&gf.verbose, "verbose", "v", false, "输出 debug 日志")
	pf.BoolVar(&gf.strict, "strict", false, "限流重试耗尽时视为错误（默认返回降级响应）")
	pf.IntVar(&gf.maxRetries, "max-retries", 0, "限流重试预算（含首次尝试）")
	pf.DurationVar(&gf.timeout, "timeout", 0, "单次请求超时，例如 15s")

	cmd.AddCommand(newFetchCmd(gf))
	cmd.AddCommand(newFindCmd(gf))
	return cmd
}

// loadConfig 合并配置并构造 logger；失败时返回退出码 2。
func loadConfig(cmd *cobra.Command, gf *globalFlags, extra func(*config.CLIArgs)) (config.EffectiveConfig, *zap.Logger, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.EffectiveConfig{}, nil, &exitError{code: 1, err: fmt.Errorf("读取当前目录失败：%w", err)}
	}

	f := cmd.Flags()
	cli := config.CLIArgs{
		ConfigPath:    gf.configPath,
		Timeout:       gf.timeout,
		TimeoutSet:    f.Changed("timeout"),
		MaxRetries:    gf.maxRetries,
		MaxRetriesSet: f.Changed("max-retries"),
		Strict:        gf.strict,
		StrictSet:     f.Changed("strict"),
	}
	if extra != nil {
		extra(&cli)
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		return config.EffectiveConfig{}, nil, &exitError{code: 2, err: err}
	}
	return eff, newLogger(cmd.ErrOrStderr(), gf.verbose), nil
}

func newLogger(w io.Writer, verbose bool) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	level := zapcore.InfoLevel
	if verbose {
		encCfg = zap.NewDevelopmentEncoderConfig()
		level = zapcore.DebugLevel
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}
