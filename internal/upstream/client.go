// Package upstream はアップストリーム（YouTube）へのHTTPアクセスを提供する。
// ブラウザ相当のリクエストヘッダー、SSRF防止付きクライアント、
// リレー経由のフェイルオーバーを含む。
package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// browserUserAgent はスクレイプ対象に送るブラウザ相当のUser-Agent。
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Response はアップストリームからの正規化済み応答。
type Response struct {
	StatusCode int
	Body       []byte
}

// NewSafeHTTPClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlライブラリにより、プライベートIP、ループバック、リンクローカル、
// メタデータIPへのリクエストがDialerレベルでブロックされる。
func NewSafeHTTPClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	wrapped := safeurl.Client(config)
	return wrapped.Client
}

// Client はブラウザ相当ヘッダー付きでアップストリームを取得するHTTPクライアント。
// httpClientは本番ではNewSafeHTTPClientの生成物を渡し、テストでは素のクライアントを渡す。
type Client struct {
	httpClient *http.Client
	maxBody    int64
	logger     *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, maxBody int64, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Get は指定URLをブラウザ相当ヘッダー付きで取得する。
// ネットワーク障害時はエラーを返し、HTTPステータスの解釈は呼び出し側に委ねる。
// ボディはmaxBodyまでで打ち切って読み込む。
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}

	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("アップストリームへのリクエストに失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}

	c.logger.Info("upstream fetch",
		slog.String("url", rawURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("body_bytes", len(body)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}
