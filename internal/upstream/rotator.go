package upstream

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/url"
)

// Rotator はリレー（プロキシ）経由のフェイルオーバー付きフェッチを提供する。
// 直接アップストリームに到達できないネットワーク環境で使用する。
//
// リレーリストは不変で、呼び出し間で共有するカーソル状態を持たない。
// 開始位置はリクエストURLのハッシュから導出するため、
// 並行呼び出しが互いのローテーションに干渉しない。
type Rotator struct {
	relays []string
	client *Client
	logger *slog.Logger
}

// NewRotator はRotatorの新しいインスタンスを生成する。
// relaysが空の場合、Doはリレーを介さず直接フェッチする。
func NewRotator(relays []string, client *Client, logger *slog.Logger) *Rotator {
	return &Rotator{
		relays: relays,
		client: client,
		logger: logger,
	}
}

// Do はターゲットURLをリレー経由で取得し、2xx応答のボディを返す。
//
// 失敗（非2xxまたはネットワークエラー）ごとに次のリレーへ順送りし、
// 同一リレーを1回の呼び出し内で二度試すことはない。
// 全リレーが失敗した場合は最後の失敗をそのまま返す。
// リレー間の待機は行わない（フェイルオーバーは即時と仮定する）。
func (r *Rotator) Do(ctx context.Context, targetURL string) ([]byte, error) {
	if len(r.relays) == 0 {
		return r.fetch(ctx, targetURL)
	}

	start := startIndex(targetURL, len(r.relays))

	var lastErr error
	for attempt := 0; attempt < len(r.relays); attempt++ {
		relay := r.relays[(start+attempt)%len(r.relays)]
		relayURL := relay + "?url=" + url.QueryEscape(targetURL)

		body, err := r.fetch(ctx, relayURL)
		if err == nil {
			return body, nil
		}

		lastErr = err
		r.logger.Warn("リレー経由のフェッチに失敗したため次のリレーを試します",
			slog.String("relay", relay),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, lastErr
}

// fetch は1回分の取得を行い、非2xxをエラーとして扱う。
func (r *Rotator) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := r.client.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("アップストリームがステータス %d を返しました", resp.StatusCode)
	}
	return resp.Body, nil
}

// startIndex はターゲットURLのFNV-1aハッシュからローテーション開始位置を導出する。
func startIndex(targetURL string, relayCount int) int {
	h := fnv.New32a()
	h.Write([]byte(targetURL))
	return int(h.Sum32() % uint32(relayCount))
}
