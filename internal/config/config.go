package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/stockdex/internal/fetcher"
	"github.com/John-Robertt/stockdex/internal/infra/httpx"
)

const (
	// ErrCodeNotFound 表示 --config 显式指定的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件/环境变量无法解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	// DefaultFileName 是 cwd 下自动发现的配置文件名（可选）。
	DefaultFileName = "stockdex.yaml"
	// DefaultConcurrency 是 fetch 批量抓取的并发数。
	DefaultConcurrency = 4
	// EnvPrefix 是环境变量前缀，例如 STOCKDEX_TIMEOUT=15s。
	EnvPrefix = "STOCKDEX_"
)

// CLIArgs 保留“是否显式指定”的信息，保证 --strict=false 也能覆盖配置文件。
type CLIArgs struct {
	ConfigPath string

	Timeout    time.Duration
	TimeoutSet bool

	MaxRetries    int
	MaxRetriesSet bool

	Strict    bool
	StrictSet bool

	Concurrency    int
	ConcurrencySet bool
}

// FileConfig 对应 stockdex.yaml。
//
// 0 有意义的字段用指针区分“未写”与“显式写 0”（例如 backoff: 0s 表示不等待）。
type FileConfig struct {
	Timeout          time.Duration  `yaml:"timeout"`
	TransportRetries *int           `yaml:"transport_retries"`
	MaxRetries       *int           `yaml:"max_retries"`
	Backoff          *time.Duration `yaml:"backoff"`
	BackoffStrategy  string         `yaml:"backoff_strategy"`
	MaxBackoff       time.Duration  `yaml:"max_backoff"`
	Strict           *bool          `yaml:"strict"`
	UserAgent        string         `yaml:"user_agent"`
	Proxy            *ProxyConfig   `yaml:"proxy"`
	CacheMaxEntries  *int           `yaml:"cache_max_entries"`
	Concurrency      *int           `yaml:"concurrency"`
}

type ProxyConfig struct {
	URL string `yaml:"url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置。
type EffectiveConfig struct {
	Timeout          time.Duration
	TransportRetries int
	MaxRetries       int

	Backoff         time.Duration
	BackoffStrategy string
	MaxBackoff      time.Duration

	Strict    bool
	UserAgent string // 为空表示由 httpx 从 UA 池挑选
	ProxyURL  string

	// CacheMaxEntries=0 表示不淘汰（进程生命周期）。
	CacheMaxEntries int
	Concurrency     int
}

// Defaults 返回内置默认值。
func Defaults() EffectiveConfig {
	return EffectiveConfig{
		Timeout:          httpx.DefaultTimeout,
		TransportRetries: httpx.DefaultRetryMax,
		MaxRetries:       fetcher.DefaultMaxRetries,
		Backoff:          fetcher.DefaultBackoff,
		BackoffStrategy:  fetcher.StrategyFixed,
		Concurrency:      DefaultConcurrency,
	}
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：%q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：%q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取配置文件与环境变量，并与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试 <cwd>/stockdex.yaml（可选）
// 3) <cwd>/.env（可选）提供 STOCKDEX_* 默认值；进程环境变量优先于 .env
//
// 覆盖优先级：CLI > 环境变量 > 配置文件 > 内置默认
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	return load(cwd, cli, os.LookupEnv)
}

func load(cwd string, cli CLIArgs, lookup func(string) (string, bool)) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, DefaultFileName)
	required := false
	if p := strings.TrimSpace(cli.ConfigPath); p != "" {
		cfgPath = absCleanFrom(cwdAbs, p)
		required = true
	}

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if required && !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}

	eff := Defaults()
	if err := applyFile(&eff, fc); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	envPath := filepath.Join(cwdAbs, ".env")
	dotenv, err := readDotEnv(envPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: envPath, Err: err}
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(&eff, env); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: "env", Err: err}
	}

	applyCLI(&eff, cli)

	if err := normalize(&eff); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	return eff, nil
}

func applyFile(eff *EffectiveConfig, fc FileConfig) error {
	if fc.Timeout != 0 {
		eff.Timeout = fc.Timeout
	}
	if fc.TransportRetries != nil {
		eff.TransportRetries = *fc.TransportRetries
	}
	if fc.MaxRetries != nil {
		eff.MaxRetries = *fc.MaxRetries
	}
	if fc.Backoff != nil {
		eff.Backoff = *fc.Backoff
	}
	if s := strings.TrimSpace(fc.BackoffStrategy); s != "" {
		eff.BackoffStrategy = s
	}
	if fc.MaxBackoff != 0 {
		eff.MaxBackoff = fc.MaxBackoff
	}
	if fc.Strict != nil {
		eff.Strict = *fc.Strict
	}
	if ua := strings.TrimSpace(fc.UserAgent); ua != "" {
		eff.UserAgent = ua
	}
	if fc.Proxy != nil {
		eff.ProxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if fc.CacheMaxEntries != nil {
		eff.CacheMaxEntries = *fc.CacheMaxEntries
	}
	if fc.Concurrency != nil {
		eff.Concurrency = *fc.Concurrency
	}
	return nil
}

func applyEnv(eff *EffectiveConfig, env func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := env(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTIMEOUT：%w", EnvPrefix, err)
		}
		eff.Timeout = d
	}
	if v, ok := get("TRANSPORT_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sTRANSPORT_RETRIES：%w", EnvPrefix, err)
		}
		eff.TransportRetries = n
	}
	if v, ok := get("MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_RETRIES：%w", EnvPrefix, err)
		}
		eff.MaxRetries = n
	}
	if v, ok := get("BACKOFF"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sBACKOFF：%w", EnvPrefix, err)
		}
		eff.Backoff = d
	}
	if v, ok := get("BACKOFF_STRATEGY"); ok {
		eff.BackoffStrategy = v
	}
	if v, ok := get("STRICT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSTRICT：%w", EnvPrefix, err)
		}
		eff.Strict = b
	}
	if v, ok := get("USER_AGENT"); ok {
		eff.UserAgent = v
	}
	if v, ok := get("PROXY_URL"); ok {
		eff.ProxyURL = v
	}
	return nil
}

func applyCLI(eff *EffectiveConfig, cli CLIArgs) {
	if cli.TimeoutSet {
		eff.Timeout = cli.Timeout
	}
	if cli.MaxRetriesSet {
		eff.MaxRetries = cli.MaxRetries
	}
	if cli.StrictSet {
		eff.Strict = cli.Strict
	}
	if cli.ConcurrencySet {
		eff.Concurrency = cli.Concurrency
	}
}

func normalize(eff *EffectiveConfig) error {
	if eff.Timeout <= 0 {
		return fmt.Errorf("timeout 必须为正数，实际 %v", eff.Timeout)
	}
	if eff.TransportRetries < 0 {
		eff.TransportRetries = 0
	}
	// max_retries 的含义是“总尝试次数”，<1 时按 1 次处理。
	if eff.MaxRetries < 1 {
		eff.MaxRetries = 1
	}
	if eff.Backoff < 0 {
		return fmt.Errorf("backoff 不能为负数，实际 %v", eff.Backoff)
	}
	if _, err := fetcher.NewBackoff(eff.BackoffStrategy, eff.Backoff, eff.MaxBackoff); err != nil {
		return err
	}
	eff.BackoffStrategy = strings.ToLower(strings.TrimSpace(eff.BackoffStrategy))
	if eff.CacheMaxEntries < 0 {
		eff.CacheMaxEntries = 0
	}
	// 范围 [1, 16]；超出截断。
	if eff.Concurrency < 1 {
		eff.Concurrency = 1
	}
	if eff.Concurrency > 16 {
		eff.Concurrency = 16
	}
	if eff.ProxyURL != "" {
		u, err := url.Parse(eff.ProxyURL)
		if err != nil {
			return fmt.Errorf("proxy.url 无效：%w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy.url 无效：%q", eff.ProxyURL)
		}
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}

// readDotEnv 只读取 .env 内容，不写回进程环境。
func readDotEnv(path string) (map[string]string, error) {
	m, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return m, nil
}
