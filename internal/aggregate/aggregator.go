// Package aggregate はフォロー中チャンネルのフィードを並行取得し、
// 1本の時系列フィードへマージする。
package aggregate

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/fjcloud/yt-feed/internal/cache"
	"github.com/fjcloud/yt-feed/internal/feedparse"
	"github.com/fjcloud/yt-feed/internal/model"
)

// ChannelFetcher は1チャンネル分のフィード本文を取得するインターフェース。
type ChannelFetcher interface {
	FetchChannelFeed(ctx context.Context, channelID string) ([]byte, error)
}

// Aggregator はフォローチャンネルのフィードを集約する。
// 個別チャンネルの失敗はChannelErrorとして報告し、全体は中断しない。
type Aggregator struct {
	fetcher         ChannelFetcher
	parser          *feedparse.Parser
	feedCache       *cache.FeedCache
	pacer           *rate.Limiter
	maxConcurrent   int
	filterShortForm bool
	logger          *slog.Logger
	now             func() time.Time
}

// Options はAggregatorの構成パラメータ。
type Options struct {
	// MaxConcurrent は同時フェッチ数の上限。
	MaxConcurrent int
	// UpstreamRate は1秒あたりのアップストリームリクエスト数の上限。
	UpstreamRate float64
	// FilterShortForm はショート動画を集約結果から除外するかどうか。
	FilterShortForm bool
}

func New(
	fetcher ChannelFetcher,
	parser *feedparse.Parser,
	feedCache *cache.FeedCache,
	opts Options,
	logger *slog.Logger,
) *Aggregator {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	pacer := rate.NewLimiter(rate.Inf, 1)
	if opts.UpstreamRate > 0 {
		pacer = rate.NewLimiter(rate.Limit(opts.UpstreamRate), 1)
	}
	return &Aggregator{
		fetcher:         fetcher,
		parser:          parser,
		feedCache:       feedCache,
		pacer:           pacer,
		maxConcurrent:   maxConcurrent,
		filterShortForm: opts.FilterShortForm,
		logger:          logger,
		now:             time.Now,
	}
}

// Refresh はフォローチャンネルのフィードを取得してマージした結果を返す。
// forceBypassCacheがfalseで有効なキャッシュがあればそれを返す。
// 戻り値のエラー列は部分失敗の報告であり、フィード本体と独立している。
func (a *Aggregator) Refresh(
	ctx context.Context,
	channels []model.Channel,
	forceBypassCache bool,
) (*model.AggregatedFeed, []model.ChannelError) {
	if len(channels) == 0 {
		return &model.AggregatedFeed{Videos: []model.Video{}, RefreshedAt: a.now()}, nil
	}

	cacheKey := cache.Key(channels)
	if !forceBypassCache {
		if cached, ok := a.feedCache.Get(cacheKey); ok {
			a.logger.Info("キャッシュ済みフィードを返します",
				slog.Int("videos", len(cached.Videos)),
			)
			return cached, nil
		}
	}

	runID := uuid.New().String()
	a.logger.Info("フィードのリフレッシュを開始します",
		slog.String("run_id", runID),
		slog.Int("channels", len(channels)),
	)

	// チャンネルごとの結果を入力順のスロットに書き込む
	results := make([][]model.Video, len(channels))
	failures := make([]*model.ChannelError, len(channels))

	sem := make(chan struct{}, a.maxConcurrent)
	done := make(chan int, len(channels))

	for i, ch := range channels {
		go func(idx int, channel model.Channel) {
			defer func() { done <- idx }()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx], failures[idx] = a.fetchChannel(ctx, runID, channel)
		}(i, ch)
	}
	for range channels {
		<-done
	}

	merged := make([]model.Video, 0)
	channelErrors := make([]model.ChannelError, 0)
	for i := range channels {
		if failures[i] != nil {
			channelErrors = append(channelErrors, *failures[i])
			continue
		}
		merged = append(merged, results[i]...)
	}

	// 公開日時の降順。同時刻はチャンネルの入力順を保つ。
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].PublishedAt.After(merged[j].PublishedAt)
	})

	feed := &model.AggregatedFeed{Videos: merged, RefreshedAt: a.now()}

	// 失敗を含むリフレッシュ結果でキャッシュを汚さない。
	// 全チャンネル成功なら空のマージ結果もキャッシュする。
	if len(merged) > 0 || len(channelErrors) == 0 {
		a.feedCache.Set(cacheKey, feed)
	}

	a.logger.Info("フィードのリフレッシュが完了しました",
		slog.String("run_id", runID),
		slog.Int("videos", len(merged)),
		slog.Int("failed_channels", len(channelErrors)),
	)
	return feed, channelErrors
}

func (a *Aggregator) fetchChannel(
	ctx context.Context,
	runID string,
	channel model.Channel,
) ([]model.Video, *model.ChannelError) {
	if err := a.pacer.Wait(ctx); err != nil {
		return nil, &model.ChannelError{
			ChannelID: channel.ID,
			Code:      model.ErrCodeUpstreamUnavailable,
			Message:   "リフレッシュが中断されました",
		}
	}

	raw, err := a.fetcher.FetchChannelFeed(ctx, channel.ID)
	if err != nil {
		a.logger.Warn("チャンネルフィードの取得に失敗しました",
			slog.String("run_id", runID),
			slog.String("channel_id", channel.ID),
			slog.String("error", err.Error()),
		)
		return nil, &model.ChannelError{
			ChannelID: channel.ID,
			Code:      model.ErrCodeUpstreamUnavailable,
			Message:   err.Error(),
		}
	}

	videos, err := a.parser.Parse(raw, a.filterShortForm)
	if err != nil {
		a.logger.Warn("チャンネルフィードのパースに失敗しました",
			slog.String("run_id", runID),
			slog.String("channel_id", channel.ID),
			slog.String("error", err.Error()),
		)
		return nil, &model.ChannelError{
			ChannelID: channel.ID,
			Code:      model.ErrCodeUpstreamMalformed,
			Message:   err.Error(),
		}
	}

	// チャンネルIDの欠けたエントリにはフォロー情報で補完する
	for i := range videos {
		if videos[i].ChannelID == "" {
			videos[i].ChannelID = channel.ID
		}
		if videos[i].ChannelTitle == "" {
			videos[i].ChannelTitle = channel.DisplayName
		}
	}
	return videos, nil
}
