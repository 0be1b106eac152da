// Package middleware はゲートウェイのHTTPミドルウェアを提供する。
package middleware

import (
	"net/http"

	"github.com/fjcloud/yt-feed/internal/model"
)

// corsMaxAge はプリフライト結果のキャッシュ秒数。
const corsMaxAge = "86400"

// NewCORSMiddleware はオリジン許可リストに基づくCORSミドルウェアを返す。
//
// Originヘッダーが許可リストに含まれる場合はそのオリジンをエコーする。
// Originヘッダーが無い場合は同一プロセス・非ブラウザ呼び出しとして許可し、
// リスト先頭のオリジンをヘッダーに設定する。
// 許可外のオリジンは403で拒否し、キャッシュやレート制限には一切触れない。
// OPTIONSプリフライトリクエストには副作用なしで204を返す。
func NewCORSMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			resolved := resolveOrigin(origin, allowedOrigins)

			// OPTIONSプリフライトには解決済みオリジンで204を返す
			if r.Method == http.MethodOptions {
				setCORSHeaders(w, resolved)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// Originヘッダーがあり、許可リストに無い場合は拒否
			if origin != "" && !originAllowed(origin, allowedOrigins) {
				WriteErrorResponse(w, http.StatusForbidden, model.NewOriginRejectedError(origin))
				return
			}

			setCORSHeaders(w, resolved)
			next.ServeHTTP(w, r)
		})
	}
}

// resolveOrigin はレスポンスヘッダーに設定するオリジンを決定する。
// 許可されたオリジンはそのまま、それ以外はリスト先頭を使用する。
func resolveOrigin(origin string, allowedOrigins []string) string {
	if origin != "" && originAllowed(origin, allowedOrigins) {
		return origin
	}
	if len(allowedOrigins) > 0 {
		return allowedOrigins[0]
	}
	return ""
}

func originAllowed(origin string, allowedOrigins []string) bool {
	for _, o := range allowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func setCORSHeaders(w http.ResponseWriter, origin string) {
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", corsMaxAge)
}
