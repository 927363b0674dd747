package types

import (
	"strings"
	"time"
)

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
	JSON  bool   `ini:"json"`
}

// PoolConf 包含代理池（刷新器与分发器）的全部行为参数。
type PoolConf struct {
	PoolSize              int    `ini:"pool_size"`
	IPCheckURL            string `ini:"ip_check_url"`
	ProxyListSources      string `ini:"proxy_list_sources"` // 逗号分隔的源名称
	ValidateTimeoutMillis int    `ini:"validate_timeout_ms"`
	ScrapeTimeoutSeconds  int    `ini:"scrape_timeout_seconds"`
	RefreshSleepMillis    int    `ini:"refresh_sleep_ms"`
	ValidateWorkers       int    `ini:"validate_workers"`
	RequestTimeoutSeconds int    `ini:"request_timeout_seconds"`
	DenyTTLSeconds        int    `ini:"deny_ttl_seconds"` // 0 表示永不过期
	ScrapePerMinute       int    `ini:"scrape_per_minute"`
	InsecureSkipVerify    bool   `ini:"insecure_skip_verify"`
}

// WebConf 包含状态 API 的配置
type WebConf struct {
	WebPort              int    `ini:"web_port"`
	WebUser              string `ini:"web_user"`
	WebPassword          string `ini:"web_password"`
	StatsIntervalSeconds int    `ini:"stats_interval_seconds"`
}

// Config 是 rotator 的统一配置结构体
type Config struct {
	LogConf  `ini:"log"`
	PoolConf `ini:"pool"`
	WebConf  `ini:"web"`
}

// DefaultConfig 返回在没有配置文件时使用的默认值。
func DefaultConfig() *Config {
	return &Config{
		LogConf: LogConf{Level: "info"},
		PoolConf: PoolConf{
			PoolSize:              20,
			IPCheckURL:            "https://api64.ipify.org?format=json",
			ProxyListSources:      "free-proxy-list.net",
			ValidateTimeoutMillis: 1000,
			ScrapeTimeoutSeconds:  15,
			RefreshSleepMillis:    2000,
			ValidateWorkers:       32,
			RequestTimeoutSeconds: 10,
		},
		WebConf: WebConf{
			StatsIntervalSeconds: 5,
		},
	}
}

func (c PoolConf) ValidateTimeout() time.Duration {
	return time.Duration(c.ValidateTimeoutMillis) * time.Millisecond
}

func (c PoolConf) ScrapeTimeout() time.Duration {
	return time.Duration(c.ScrapeTimeoutSeconds) * time.Second
}

func (c PoolConf) RefreshSleep() time.Duration {
	return time.Duration(c.RefreshSleepMillis) * time.Millisecond
}

func (c PoolConf) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c PoolConf) DenyTTL() time.Duration {
	return time.Duration(c.DenyTTLSeconds) * time.Second
}

// Sources 将 proxy_list_sources 拆分为去除空白后的名称列表。
func (c PoolConf) Sources() []string {
	var out []string
	for _, s := range strings.Split(c.ProxyListSources, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c WebConf) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSeconds) * time.Second
}
