// Package cache はゲートウェイの応答キャッシュとクライアント側フィードキャッシュを提供する。
// どちらのエントリも「now - storedAt < ttl の間のみ有効」という不変条件に従い、
// 期限切れエントリは次回読み取り時にミスとして扱われる。
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// defaultResponseCacheSize は応答キャッシュの最大エントリ数。
const defaultResponseCacheSize = 1024

// ResponseCache はゲートウェイの共有応答キャッシュ。
// フィード応答と検索応答でTTLが異なるため、expirable LRUを2面持つ。
// 値は正規化済みペイロードのバイト列。書き込みは冪等（last write wins）。
type ResponseCache struct {
	feeds    *expirable.LRU[string, []byte]
	searches *expirable.LRU[string, []byte]

	feedTTL   time.Duration
	searchTTL time.Duration
}

// NewResponseCache は新しいResponseCacheを生成する。
func NewResponseCache(feedTTL, searchTTL time.Duration) *ResponseCache {
	return &ResponseCache{
		feeds:     expirable.NewLRU[string, []byte](defaultResponseCacheSize, nil, feedTTL),
		searches:  expirable.NewLRU[string, []byte](defaultResponseCacheSize, nil, searchTTL),
		feedTTL:   feedTTL,
		searchTTL: searchTTL,
	}
}

// GetFeed はチャンネルIDのフィード応答を取得する。期限切れはミスとして扱う。
func (c *ResponseCache) GetFeed(channelID string) ([]byte, bool) {
	return c.feeds.Get("feed:" + channelID)
}

// SetFeed はチャンネルIDのフィード応答を保存する。
func (c *ResponseCache) SetFeed(channelID string, payload []byte) {
	c.feeds.Add("feed:"+channelID, payload)
}

// GetSearch は正規化済みクエリの検索応答を取得する。期限切れはミスとして扱う。
func (c *ResponseCache) GetSearch(query string) ([]byte, bool) {
	return c.searches.Get("search:" + query)
}

// SetSearch は正規化済みクエリの検索応答を保存する。
func (c *ResponseCache) SetSearch(query string, payload []byte) {
	c.searches.Add("search:"+query, payload)
}

// FeedTTL はフィード応答のTTLを返す。Cache-Controlヘッダーの算出に使用する。
func (c *ResponseCache) FeedTTL() time.Duration {
	return c.feedTTL
}

// SearchTTL は検索応答のTTLを返す。Cache-Controlヘッダーの算出に使用する。
func (c *ResponseCache) SearchTTL() time.Duration {
	return c.searchTTL
}
