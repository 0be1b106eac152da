package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fjcloud/yt-feed/internal/middleware"
	"github.com/fjcloud/yt-feed/internal/ratelimit"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Handler        *Handler
	AllowedOrigins []string
	Limiter        *ratelimit.Limiter
	IdentityHeader string
	FallbackID     string
	Metrics        middleware.RateLimitMetrics
	Logger         *slog.Logger
}

// NewRouter はゲートウェイのルーティングとミドルウェアチェーンを構成する。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → CORS → SecurityHeaders → Logging → (RateLimit)
//
// プリフライトはCORSミドルウェアで完結するため、レート制限の枠を消費しない。
// ヘルスチェックもレート制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.AllowedOrigins))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRateLimitMiddleware(
			deps.Limiter, deps.IdentityHeader, deps.FallbackID, deps.Metrics))
		r.Get("/", deps.Handler.Handle)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
