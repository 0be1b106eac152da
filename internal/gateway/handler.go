package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	stdhtml "html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/fjcloud/yt-feed/internal/cache"
	"github.com/fjcloud/yt-feed/internal/middleware"
	"github.com/fjcloud/yt-feed/internal/model"
	"github.com/fjcloud/yt-feed/internal/searchparse"
	"github.com/fjcloud/yt-feed/internal/upstream"
)

const (
	routeFeed   = "feed"
	routeSearch = "search"

	minQueryLength = 2
	maxQueryLength = 100
)

// Fetcher はアップストリームへのHTTP GETのインターフェース。
type Fetcher interface {
	Get(ctx context.Context, targetURL string) (*upstream.Response, error)
}

// MetricsRecorder はゲートウェイの計測ポイントのインターフェース。
// nilの場合は計測なしで動作する。
type MetricsRecorder interface {
	RecordRequest(route string, status int)
	RecordCacheHit(plane string)
	RecordCacheMiss(plane string)
	RecordUpstreamStatus(status int)
	ObserveUpstreamLatency(seconds float64)
}

// Handler はフィード取得とチャンネル検索を仲介するエッジハンドラー。
// 正規化済みレスポンスのキャッシュとアップストリームの保護を担う。
type Handler struct {
	fetcher   Fetcher
	cache     *cache.ResponseCache
	feedURL   string
	searchURL string
	policy    *bluemonday.Policy
	metrics   MetricsRecorder
	logger    *slog.Logger
}

func NewHandler(
	fetcher Fetcher,
	responseCache *cache.ResponseCache,
	feedURL, searchURL string,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		fetcher:   fetcher,
		cache:     responseCache,
		feedURL:   feedURL,
		searchURL: searchURL,
		policy:    bluemonday.StrictPolicy(),
		metrics:   metrics,
		logger:    logger,
	}
}

// Handle はGET /のディスパッチを行う。
// channelIdパラメータはフィードルート、searchパラメータは検索ルート。
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if channelID := query.Get("channelId"); channelID != "" {
		h.handleFeed(w, r, channelID)
		return
	}
	if searchQuery := query.Get("search"); searchQuery != "" {
		h.handleSearch(w, r, searchQuery)
		return
	}

	h.record("unknown", http.StatusBadRequest)
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
}

func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request, channelID string) {
	if !model.ValidChannelID(channelID) {
		h.record(routeFeed, http.StatusBadRequest)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidChannelIDError(channelID))
		return
	}

	if payload, ok := h.cache.GetFeed(channelID); ok {
		h.recordCache(routeFeed, true)
		h.writeFeedPayload(w, payload)
		h.record(routeFeed, http.StatusOK)
		return
	}
	h.recordCache(routeFeed, false)

	target := h.feedURL + "?channel_id=" + url.QueryEscape(channelID)
	resp, err := h.fetchUpstream(r.Context(), target)
	if err != nil {
		h.logger.Warn("フィードのアップストリーム取得に失敗しました",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		h.record(routeFeed, http.StatusServiceUnavailable)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable,
			model.NewUpstreamUnavailableError("アップストリームに到達できません"))
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 存在しないチャンネルの404を含め、アップストリームのステータスを透過する
		h.record(routeFeed, resp.StatusCode)
		middleware.WriteErrorResponse(w, resp.StatusCode,
			model.NewUpstreamUnavailableError(
				fmt.Sprintf("アップストリームがステータス %d を返しました", resp.StatusCode)))
		return
	}

	if !isAtomFeedPayload(resp.Body) {
		h.logger.Warn("アップストリームの応答がAtomフィードの形式ではありません",
			slog.String("channel_id", channelID),
		)
		h.record(routeFeed, http.StatusBadGateway)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamMalformedError())
		return
	}

	// 検証済みペイロードのみキャッシュへ格納する
	h.cache.SetFeed(channelID, resp.Body)
	h.writeFeedPayload(w, resp.Body)
	h.record(routeFeed, http.StatusOK)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request, rawQuery string) {
	sanitized, apiErr := sanitizeSearchQuery(h.policy, rawQuery)
	if apiErr != nil {
		h.record(routeSearch, http.StatusBadRequest)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	cacheKey := strings.ToLower(sanitized)
	if payload, ok := h.cache.GetSearch(cacheKey); ok {
		h.recordCache(routeSearch, true)
		h.writeSearchPayload(w, payload)
		h.record(routeSearch, http.StatusOK)
		return
	}
	h.recordCache(routeSearch, false)

	target := h.searchURL + "?search_query=" + url.QueryEscape(sanitized)
	resp, err := h.fetchUpstream(r.Context(), target)
	if err != nil {
		h.logger.Warn("検索のアップストリーム取得に失敗しました",
			slog.String("query", cacheKey),
			slog.String("error", err.Error()),
		)
		h.record(routeSearch, http.StatusServiceUnavailable)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable,
			model.NewUpstreamUnavailableError("アップストリームに到達できません"))
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.record(routeSearch, resp.StatusCode)
		middleware.WriteErrorResponse(w, resp.StatusCode,
			model.NewUpstreamUnavailableError(
				fmt.Sprintf("アップストリームがステータス %d を返しました", resp.StatusCode)))
		return
	}

	channels, err := searchparse.Parse(resp.Body)
	if err != nil {
		h.logger.Warn("検索結果のパースに失敗しました",
			slog.String("query", cacheKey),
			slog.String("error", err.Error()),
		)
		h.record(routeSearch, http.StatusBadGateway)
		middleware.WriteErrorResponse(w, http.StatusBadGateway,
			model.NewSearchParseFailedError("検索結果の構造を解釈できません"))
		return
	}

	payload, err := json.Marshal(channels)
	if err != nil {
		h.record(routeSearch, http.StatusInternalServerError)
		middleware.WriteInternalServerError(w)
		return
	}

	h.cache.SetSearch(cacheKey, payload)
	h.writeSearchPayload(w, payload)
	h.record(routeSearch, http.StatusOK)
}

// fetchUpstream はアップストリームGETを計測付きで実行する。
func (h *Handler) fetchUpstream(ctx context.Context, target string) (*upstream.Response, error) {
	start := time.Now()
	resp, err := h.fetcher.Get(ctx, target)
	if h.metrics != nil {
		h.metrics.ObserveUpstreamLatency(time.Since(start).Seconds())
		if err == nil {
			h.metrics.RecordUpstreamStatus(resp.StatusCode)
		}
	}
	return resp, err
}

func (h *Handler) writeFeedPayload(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.Header().Set("Cache-Control", cacheControlValue(h.cache.FeedTTL()))
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (h *Handler) writeSearchPayload(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", cacheControlValue(h.cache.SearchTTL()))
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (h *Handler) record(route string, status int) {
	if h.metrics != nil {
		h.metrics.RecordRequest(route, status)
	}
}

func (h *Handler) recordCache(plane string, hit bool) {
	if h.metrics == nil {
		return
	}
	if hit {
		h.metrics.RecordCacheHit(plane)
	} else {
		h.metrics.RecordCacheMiss(plane)
	}
}

func cacheControlValue(ttl time.Duration) string {
	return fmt.Sprintf("public, max-age=%d", int(ttl.Seconds()))
}

// isAtomFeedPayload はレスポンスがAtomフィードの外形を持つか検証する。
// アップストリームが返すエラーページやブロックページを下流に流さないための関門。
func isAtomFeedPayload(body []byte) bool {
	return bytes.Contains(body, []byte("<feed")) && bytes.Contains(body, []byte("</feed>"))
}

// sanitizeSearchQuery は検索語を検証し無害化する。
// HTMLタグの除去後にエンティティを展開し、残った山括弧を落とす。
func sanitizeSearchQuery(policy *bluemonday.Policy, raw string) (string, *model.APIError) {
	// 長さの境界はバイト数ではなく文字数で判定する
	trimmed := strings.TrimSpace(raw)
	if utf8.RuneCountInString(trimmed) < minQueryLength {
		return "", model.NewInvalidQueryError("検索語が短すぎます")
	}
	if utf8.RuneCountInString(trimmed) > maxQueryLength {
		return "", model.NewInvalidQueryError("検索語が長すぎます")
	}

	sanitized := policy.Sanitize(trimmed)
	sanitized = stdhtml.UnescapeString(sanitized)
	sanitized = strings.NewReplacer("<", "", ">", "").Replace(sanitized)
	sanitized = strings.TrimSpace(sanitized)
	if utf8.RuneCountInString(sanitized) < minQueryLength {
		return "", model.NewInvalidQueryError("無害化後の検索語が短すぎます")
	}
	return sanitized, nil
}
