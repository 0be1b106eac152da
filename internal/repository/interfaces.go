// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/fjcloud/yt-feed/internal/model"
)

// FollowRepository はフォロー中チャンネル一覧の永続化インターフェース。
type FollowRepository interface {
	// Add はチャンネルをフォロー一覧に追加する。
	// 既にフォロー済みの場合はErrCodeAlreadyFollowedのAPIErrorを返す。
	Add(ctx context.Context, channel model.Channel) error

	// Remove は指定チャンネルをフォロー一覧から削除する。
	// 未フォローのチャンネルを指定してもエラーにならない。
	Remove(ctx context.Context, channelID string) error

	// List はフォロー中チャンネルをフォロー日時の昇順で返す。
	List(ctx context.Context) ([]model.Channel, error)
}

// WatchedRepository は視聴済み動画IDの永続化インターフェース。
// 集合は単調増加であり、視聴済みの取り消しは提供しない。
type WatchedRepository interface {
	// MarkWatched は動画を視聴済みとして記録する。既に視聴済みなら何もしない。
	MarkWatched(ctx context.Context, videoID string) error

	// IsWatched は動画が視聴済みかどうかを返す。
	IsWatched(ctx context.Context, videoID string) (bool, error)

	// ListWatched は視聴済み動画IDの集合スナップショットを返す。
	ListWatched(ctx context.Context) (map[string]bool, error)
}
