package feedparse

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/fjcloud/yt-feed/internal/model"
)

const (
	thumbnailURLFormat = "https://i.ytimg.com/vi/%s/maxresdefault.jpg"
	watchURLFormat     = "https://www.youtube.com/watch?v=%s"
)

// Parser はYouTubeチャンネルのAtomフィードをmodel.Videoの列に変換する。
// gofeedによるパース後、エントリごとにyt名前空間拡張から動画IDを抽出する。
type Parser struct {
	// Classify はショート動画判定。nilの場合はDefaultShortsClassifierを使用する。
	Classify ShortsClassifier
	logger   *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	return &Parser{
		Classify: DefaultShortsClassifier,
		logger:   logger,
	}
}

// Parse はフィード本文をパースして動画の列を返す。
// filterShortFormがtrueの場合、ショート動画と判定されたエントリを除外する。
// エントリ単位の欠損はゼロ値のフィールドとして扱い、バッチ全体は中断しない。
// フィード全体がパース不能な場合のみエラーを返す。
func (p *Parser) Parse(raw []byte, filterShortForm bool) ([]model.Video, error) {
	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	classify := p.Classify
	if classify == nil {
		classify = DefaultShortsClassifier
	}

	videos := make([]model.Video, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}

		videoID := extractVideoID(item)
		if videoID == "" {
			if p.logger != nil {
				p.logger.Warn("動画IDのないエントリをスキップします",
					slog.String("title", item.Title),
				)
			}
			continue
		}

		video := model.Video{
			VideoID:      videoID,
			Title:        item.Title,
			ThumbnailURL: fmt.Sprintf(thumbnailURLFormat, videoID),
			WatchURL:     fmt.Sprintf(watchURLFormat, videoID),
			ChannelTitle: feed.Title,
			IsShortForm:  classify(item.Title),
		}
		if item.PublishedParsed != nil {
			video.PublishedAt = *item.PublishedParsed
		} else {
			video.PublishedAt = time.Time{}
		}
		if author := item.Author; author != nil && author.Name != "" {
			video.ChannelTitle = author.Name
		}
		video.ChannelID = extractChannelID(item)

		if filterShortForm && video.IsShortForm {
			continue
		}
		videos = append(videos, video)
	}

	return videos, nil
}

// extractVideoID はyt名前空間のvideoId拡張から動画IDを取り出す。
// 拡張が欠けている場合はAtom idの "yt:video:" プレフィックスを剥がす。
func extractVideoID(item *gofeed.Item) string {
	if ext, ok := item.Extensions["yt"]; ok {
		if nodes, ok := ext["videoId"]; ok && len(nodes) > 0 {
			if v := strings.TrimSpace(nodes[0].Value); v != "" {
				return v
			}
		}
	}
	if strings.HasPrefix(item.GUID, "yt:video:") {
		return strings.TrimPrefix(item.GUID, "yt:video:")
	}
	return ""
}

func extractChannelID(item *gofeed.Item) string {
	if ext, ok := item.Extensions["yt"]; ok {
		if nodes, ok := ext["channelId"]; ok && len(nodes) > 0 {
			return strings.TrimSpace(nodes[0].Value)
		}
	}
	return ""
}
