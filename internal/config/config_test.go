package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func mapEnv(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_DefaultsWithoutFiles(t *testing.T) {
	cwd := t.TempDir()

	eff, err := load(cwd, CLIArgs{}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := Defaults()
	if eff.Timeout != want.Timeout || eff.MaxRetries != 5 || eff.Backoff != 10*time.Second {
		t.Fatalf("默认值不符合预期：%+v", eff)
	}
	if eff.BackoffStrategy != "fixed" || eff.Strict {
		t.Fatalf("默认策略应为 fixed 且非 strict：%+v", eff)
	}
	if eff.CacheMaxEntries != 0 {
		t.Fatalf("默认缓存应不淘汰，实际 %d", eff.CacheMaxEntries)
	}
}

func TestLoad_ExplicitConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := load(cwd, CLIArgs{ConfigPath: "missing.yaml"}, noEnv)
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoad_FileValues(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, DefaultFileName), []byte(`
timeout: 15s
transport_retries: 0
max_retries: 3
backoff: 2s
backoff_strategy: exponential
max_backoff: 30s
strict: true
user_agent: "Mozilla/5.0 test"
proxy:
  url: http://127.0.0.1:8080
cache_max_entries: 64
concurrency: 2
`))

	eff, err := load(cwd, CLIArgs{}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Timeout != 15*time.Second || eff.TransportRetries != 0 || eff.MaxRetries != 3 {
		t.Fatalf("数值字段不符合预期：%+v", eff)
	}
	if eff.Backoff != 2*time.Second || eff.BackoffStrategy != "exponential" || eff.MaxBackoff != 30*time.Second {
		t.Fatalf("backoff 字段不符合预期：%+v", eff)
	}
	if !eff.Strict || eff.UserAgent != "Mozilla/5.0 test" || eff.ProxyURL != "http://127.0.0.1:8080" {
		t.Fatalf("字符串/布尔字段不符合预期：%+v", eff)
	}
	if eff.CacheMaxEntries != 64 || eff.Concurrency != 2 {
		t.Fatalf("cache/concurrency 不符合预期：%+v", eff)
	}
}

func TestLoad_MergeOrder(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, DefaultFileName), []byte("max_retries: 3\nstrict: true\ntimeout: 20s\n"))
	writeFile(t, filepath.Join(cwd, ".env"), []byte("STOCKDEX_MAX_RETRIES=4\nSTOCKDEX_TIMEOUT=30s\n"))

	// .env 覆盖配置文件。
	eff, err := load(cwd, CLIArgs{}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.MaxRetries != 4 || eff.Timeout != 30*time.Second {
		t.Fatalf("期望 .env 覆盖文件：%+v", eff)
	}

	// 进程环境变量覆盖 .env。
	eff, err = load(cwd, CLIArgs{}, mapEnv(map[string]string{"STOCKDEX_MAX_RETRIES": "6"}))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.MaxRetries != 6 {
		t.Fatalf("期望环境变量覆盖 .env，实际 %d", eff.MaxRetries)
	}

	// CLI 覆盖一切，--strict=false 也要生效。
	eff, err = load(cwd, CLIArgs{MaxRetries: 2, MaxRetriesSet: true, StrictSet: true}, mapEnv(map[string]string{"STOCKDEX_MAX_RETRIES": "6"}))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.MaxRetries != 2 || eff.Strict {
		t.Fatalf("期望 CLI 覆盖：%+v", eff)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, DefaultFileName), []byte("timeout: [\n"))

	_, err := load(cwd, CLIArgs{}, noEnv)
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	cwd := t.TempDir()

	_, err := load(cwd, CLIArgs{}, mapEnv(map[string]string{"STOCKDEX_STRICT": "maybe"}))
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoad_UnknownBackoffStrategy(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, DefaultFileName), []byte("backoff_strategy: linear\n"))

	_, err := load(cwd, CLIArgs{}, noEnv)
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoad_InvalidProxyURL(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, DefaultFileName), []byte("proxy:\n  url: \"http://[::1\"\n"))

	_, err := load(cwd, CLIArgs{}, noEnv)
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoad_FileExplicitZeroOverridesDefaults(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, DefaultFileName), []byte(`
max_retries: 0
backoff: 0s
cache_max_entries: 0
concurrency: 0
`))
	eff, err := load(cwd, CLIArgs{}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	// 0 经规范化：max_retries 至少 1 次、并发至少 1、缓存 0 表示不淘汰。
	if eff.MaxRetries != 1 || eff.Concurrency != 1 || eff.CacheMaxEntries != 0 {
		t.Fatalf("显式 0 应覆盖默认值：%+v", eff)
	}
	if eff.Backoff != 0 {
		t.Fatalf("backoff: 0s 应覆盖默认 10s，实际 %v", eff.Backoff)
	}
}

func TestLoad_ClampsRanges(t *testing.T) {
	cwd := t.TempDir()

	eff, err := load(cwd, CLIArgs{Concurrency: 100, ConcurrencySet: true, MaxRetries: 0, MaxRetriesSet: true}, noEnv)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Concurrency != 16 {
		t.Fatalf("期望并发截断为 16，实际 %d", eff.Concurrency)
	}
	if eff.MaxRetries != 1 {
		t.Fatalf("期望 max_retries 至少为 1，实际 %d", eff.MaxRetries)
	}
}

func TestLoadEffective_ReadsProcessEnv(t *testing.T) {
	cwd := t.TempDir()
	t.Setenv("STOCKDEX_BACKOFF", "1s")

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Backoff != time.Second {
		t.Fatalf("期望 backoff=1s，实际 %v", eff.Backoff)
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败 %q：%v", path, err)
	}
}
