package app

import (
	"context"
	"fmt"
	"time"

	"github.com/fjcloud/yt-feed/internal/aggregate"
	"github.com/fjcloud/yt-feed/internal/cache"
	"github.com/fjcloud/yt-feed/internal/model"
	"github.com/fjcloud/yt-feed/internal/repository"
)

// Client はクライアントモード（refresh/follow/unfollow/watch）の操作をまとめる。
// フォロー一覧の変更は集約フィードのキャッシュを無効化する。
type Client struct {
	follows    repository.FollowRepository
	watched    repository.WatchedRepository
	aggregator *aggregate.Aggregator
	feedCache  *cache.FeedCache
}

// NewClient はClientを生成する。
func NewClient(
	follows repository.FollowRepository,
	watched repository.WatchedRepository,
	aggregator *aggregate.Aggregator,
	feedCache *cache.FeedCache,
) *Client {
	return &Client{
		follows:    follows,
		watched:    watched,
		aggregator: aggregator,
		feedCache:  feedCache,
	}
}

// Follow はチャンネルをフォロー一覧に追加し、フィードキャッシュを無効化する。
func (c *Client) Follow(ctx context.Context, channelID, displayName string) error {
	if !model.ValidChannelID(channelID) {
		return model.NewInvalidChannelIDError(channelID)
	}

	err := c.follows.Add(ctx, model.Channel{
		ID:          channelID,
		DisplayName: displayName,
		FollowedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	c.feedCache.Invalidate()
	return nil
}

// Unfollow はチャンネルをフォロー一覧から削除し、フィードキャッシュを無効化する。
func (c *Client) Unfollow(ctx context.Context, channelID string) error {
	if err := c.follows.Remove(ctx, channelID); err != nil {
		return err
	}

	c.feedCache.Invalidate()
	return nil
}

// Watch は動画を視聴済みとして記録する。既に視聴済みでもエラーにならない。
func (c *Client) Watch(ctx context.Context, videoID string) error {
	return c.watched.MarkWatched(ctx, videoID)
}

// RefreshResult は1回の集約リフレッシュの結果と表示用の付帯情報。
type RefreshResult struct {
	Feed          *model.AggregatedFeed
	ChannelErrors []model.ChannelError
	Watched       map[string]bool
}

// Refresh はフォロー一覧を読み込み、集約フィードと視聴済み集合を返す。
// チャンネル単位の失敗はChannelErrorsに入り、エラー戻り値にはならない。
func (c *Client) Refresh(ctx context.Context, forceBypassCache bool) (*RefreshResult, error) {
	channels, err := c.follows.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("フォロー一覧の取得に失敗: %w", err)
	}

	feed, channelErrors := c.aggregator.Refresh(ctx, channels, forceBypassCache)

	watched, err := c.watched.ListWatched(ctx)
	if err != nil {
		return nil, fmt.Errorf("視聴済み一覧の取得に失敗: %w", err)
	}

	return &RefreshResult{
		Feed:          feed,
		ChannelErrors: channelErrors,
		Watched:       watched,
	}, nil
}
