package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort  string
	MetricsPort string // 空文字列の場合はメトリクスサーバーを起動しない

	// CORS
	AllowedOrigins []string

	// Upstream
	UpstreamFeedURL   string
	UpstreamSearchURL string
	UpstreamTimeout   time.Duration
	UpstreamMaxBody   int64

	// Cache
	FeedCacheTTL   time.Duration
	SearchCacheTTL time.Duration
	ClientCacheTTL time.Duration

	// Rate Limit
	RateLimitCap        int
	RateLimitWindow     time.Duration
	ClientIPHeader      string
	RateLimitFallbackID string

	// Proxy
	ProxyRelays []string

	// Refresh
	RefreshMaxConcurrent int
	UpstreamRate         float64 // アップストリームへの毎秒リクエスト上限
	FilterShortForm      bool    // ショート動画を集約結果から除外する

	// Storage
	DataPath string
}

// Load は環境変数からConfigを読み込む。
// すべての項目にデフォルト値があるためエラーを返さないが、
// serveモードではALLOWED_ORIGINSの設定を起動時に別途検証する。
func Load() *Config {
	cfg := &Config{}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "")
	cfg.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS")

	cfg.UpstreamFeedURL = getEnvString("UPSTREAM_FEED_URL", "https://www.youtube.com/feeds/videos.xml")
	cfg.UpstreamSearchURL = getEnvString("UPSTREAM_SEARCH_URL", "https://www.youtube.com/results")
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.UpstreamMaxBody = getEnvInt64("UPSTREAM_MAX_BODY", 5242880)

	cfg.FeedCacheTTL = getEnvDuration("FEED_CACHE_TTL", 15*time.Minute)
	cfg.SearchCacheTTL = getEnvDuration("SEARCH_CACHE_TTL", 5*time.Minute)
	cfg.ClientCacheTTL = getEnvDuration("CLIENT_CACHE_TTL", 1*time.Hour)

	cfg.RateLimitCap = getEnvInt("RATE_LIMIT_CAP", 30)
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second)
	cfg.ClientIPHeader = getEnvString("CLIENT_IP_HEADER", "CF-Connecting-IP")
	cfg.RateLimitFallbackID = getEnvString("RATE_LIMIT_FALLBACK_ID", "anonymous")

	cfg.ProxyRelays = getEnvStringSlice("PROXY_RELAYS")

	cfg.RefreshMaxConcurrent = getEnvInt("REFRESH_MAX_CONCURRENT", 10)
	cfg.UpstreamRate = getEnvFloat("UPSTREAM_RATE", 4)
	cfg.FilterShortForm = getEnvBool("FILTER_SHORT_FORM", true)

	cfg.DataPath = getEnvString("DATA_PATH", "yt-feed.db")

	return cfg
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvStringSlice はカンマ区切りの環境変数を分割して返す。
// 空要素は除去する。未設定の場合は空スライスを返す。
func getEnvStringSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
