package upstream

import (
	"context"
	"net/url"
)

// FeedSource はチャンネルIDからフィードドキュメントを取得する。
// 集約側のフェッチ経路としてRotator（リレーなしの場合は直接）を使用する。
type FeedSource struct {
	rotator *Rotator
	feedURL string
}

// NewFeedSource はFeedSourceの新しいインスタンスを生成する。
// feedURLはチャンネルフィードのベースURL（channel_idクエリを付与して使用する）。
func NewFeedSource(rotator *Rotator, feedURL string) *FeedSource {
	return &FeedSource{
		rotator: rotator,
		feedURL: feedURL,
	}
}

// FetchChannelFeed は指定チャンネルの生フィードドキュメントを取得する。
func (s *FeedSource) FetchChannelFeed(ctx context.Context, channelID string) ([]byte, error) {
	target := s.feedURL + "?channel_id=" + url.QueryEscape(channelID)
	return s.rotator.Do(ctx, target)
}
