package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fjcloud/yt-feed/internal/model"
)

// FeedCache はプロセスローカルな集約フィードのキャッシュ。
// アクティブなフォローセットをキーとして直近の集約結果を1件だけ保持する。
// フォローセットが変わると旧エントリは自然にミスになるが、
// フォロー変更時はInvalidateで明示的に破棄する。
type FeedCache struct {
	mu       sync.Mutex
	key      string
	feed     *model.AggregatedFeed
	storedAt time.Time
	ttl      time.Duration

	// now はテスト用に差し替え可能な現在時刻関数。
	now func() time.Time
}

// NewFeedCache は新しいFeedCacheを生成する。
func NewFeedCache(ttl time.Duration) *FeedCache {
	return &FeedCache{
		ttl: ttl,
		now: time.Now,
	}
}

// Key はフォローセットの正規化キャッシュキーを生成する。
// チャンネルIDをソートして結合するため、フォロー順に依存しない。
func Key(channels []model.Channel) string {
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// Get はキーに対応する有効なエントリを返す。
// キー不一致または期限切れ（now - storedAt >= ttl）はミスとして扱い、
// 期限切れエントリはその場で破棄する。
func (c *FeedCache) Get(key string) (*model.AggregatedFeed, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.feed == nil || c.key != key {
		return nil, false
	}
	if c.now().Sub(c.storedAt) >= c.ttl {
		c.feed = nil
		c.key = ""
		return nil, false
	}
	return c.feed, true
}

// Set は集約結果を保存する。既存エントリは上書きされる（last write wins）。
func (c *FeedCache) Set(key string, feed *model.AggregatedFeed) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.key = key
	c.feed = feed
	c.storedAt = c.now()
}

// Invalidate は保持しているエントリを明示的に破棄する。
// フォロー・アンフォローの操作後に呼び出される。
func (c *FeedCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.key = ""
	c.feed = nil
}

// StoredAt は現在のエントリの保存時刻を返す。エントリが無い場合はfalse。
// 「最終更新」表示用。
func (c *FeedCache) StoredAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.feed == nil {
		return time.Time{}, false
	}
	return c.storedAt, true
}
