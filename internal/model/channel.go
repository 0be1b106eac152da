// Package model はドメインモデルを定義する。
package model

import (
	"regexp"
	"time"
)

// channelIDPattern はYouTubeチャンネルIDの形式。UCプレフィックス + 22文字。
var channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{22}$`)

// ValidChannelID はチャンネルIDが正規の形式かどうかを返す。
func ValidChannelID(id string) bool {
	return channelIDPattern.MatchString(id)
}

// Channel はフォロー対象のYouTubeチャンネルを表す。
// IDは外部の安定識別子（UC + 22文字）で、同一性はIDのみで判定する。
type Channel struct {
	ID          string
	DisplayName string
	FollowedAt  time.Time
}

// ChannelSummary はチャンネル検索結果の1件を表す。
// ゲートウェイの検索ルートがサーバーサイドでパースした結果として返す。
type ChannelSummary struct {
	ChannelID       string `json:"channelId"`
	ChannelName     string `json:"channelName"`
	SubscriberCount string `json:"subscriberCount"`
	ThumbnailURL    string `json:"thumbnail,omitempty"`
}
