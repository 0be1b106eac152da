package model

import "time"

// Video はチャンネルフィードから取得した1動画を表す。
// FeedParserが生成した後は不変として扱い、視聴済み状態は
// WatchedSetへの問い合わせで解決する（フィールドとして持たない）。
type Video struct {
	VideoID      string
	Title        string
	PublishedAt  time.Time
	ThumbnailURL string
	WatchURL     string
	ChannelID    string
	ChannelTitle string
	IsShortForm  bool
}

// AggregatedFeed は全フォローチャンネルの動画をマージした結果を表す。
// VideosはPublishedAtの降順（同時刻はチャンネルのフェッチ順を維持）で並ぶ。
// リフレッシュごとに全体を作り直し、差分更新は行わない。
type AggregatedFeed struct {
	Videos      []Video
	RefreshedAt time.Time
}

// ChannelError は集約リフレッシュ中の1チャンネル分の失敗を表す。
// 部分失敗は集約全体を中断せず、このエントリとして呼び出し元に報告される。
type ChannelError struct {
	ChannelID string
	Code      string
	Message   string
}
