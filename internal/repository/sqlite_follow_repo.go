package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fjcloud/yt-feed/internal/model"
)

// SqliteFollowRepo はSQLiteを使用したフォロー一覧リポジトリ。
type SqliteFollowRepo struct {
	db *sql.DB
}

// NewSqliteFollowRepo はSqliteFollowRepoを生成する。
func NewSqliteFollowRepo(db *sql.DB) *SqliteFollowRepo {
	return &SqliteFollowRepo{db: db}
}

// Add はチャンネルをフォロー一覧に追加する。
// 既にフォロー済みの場合はErrCodeAlreadyFollowedのAPIErrorを返す。
func (r *SqliteFollowRepo) Add(ctx context.Context, channel model.Channel) error {
	followedAt := channel.FollowedAt
	if followedAt.IsZero() {
		followedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO follows (channel_id, display_name, followed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (channel_id) DO NOTHING`,
		channel.ID, channel.DisplayName, followedAt,
	)
	if err != nil {
		return fmt.Errorf("フォローの追加に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("フォロー追加結果の確認に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.NewAlreadyFollowedError(channel.ID)
	}
	return nil
}

// Remove は指定チャンネルをフォロー一覧から削除する。
// 未フォローのチャンネルを指定してもエラーにならない。
func (r *SqliteFollowRepo) Remove(ctx context.Context, channelID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM follows WHERE channel_id = ?`, channelID,
	)
	if err != nil {
		return fmt.Errorf("フォローの削除に失敗しました: %w", err)
	}
	return nil
}

// List はフォロー中チャンネルをフォロー日時の昇順で返す。
func (r *SqliteFollowRepo) List(ctx context.Context) ([]model.Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT channel_id, display_name, followed_at
		 FROM follows ORDER BY followed_at ASC, channel_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("フォロー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var channels []model.Channel
	for rows.Next() {
		var ch model.Channel
		if err := rows.Scan(&ch.ID, &ch.DisplayName, &ch.FollowedAt); err != nil {
			return nil, fmt.Errorf("フォロー一覧の読み取りに失敗しました: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フォロー一覧の走査に失敗しました: %w", err)
	}

	return channels, nil
}
