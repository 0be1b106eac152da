package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/fjcloud/yt-feed/internal/model"
	"github.com/fjcloud/yt-feed/internal/ratelimit"
)

// RateLimitMetrics はレート制限拒否の計測インターフェース。
type RateLimitMetrics interface {
	RecordRateLimited()
}

// NewRateLimitMiddleware はクライアント識別子ごとのレート制限ミドルウェアを返す。
//
// 識別子は信頼できる接続元IPヘッダー（identityHeader）から抽出し、
// ヘッダーが無い場合はfallbackIdentityを使用する。
// 拒否時は429とRetry-Afterヘッダーを返す。
// metricsはnilを許容する。
func NewRateLimitMiddleware(
	limiter *ratelimit.Limiter,
	identityHeader string,
	fallbackIdentity string,
	metrics RateLimitMetrics,
) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := r.Header.Get(identityHeader)
			if identity == "" {
				identity = fallbackIdentity
			}

			if !limiter.Allow(identity) {
				retryAfter := retryAfterSeconds(limiter.RetryAfter(identity))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				slog.Warn("rate limit exceeded",
					slog.String("identity", identity),
				)
				if metrics != nil {
					metrics.RecordRateLimited()
				}

				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds はRetry-Afterヘッダー用の秒数を算出する。最小1秒。
func retryAfterSeconds(d time.Duration) int {
	sec := int(math.Ceil(d.Seconds()))
	if sec < 1 {
		sec = 1
	}
	return sec
}
