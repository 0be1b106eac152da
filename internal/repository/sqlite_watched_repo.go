package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SqliteWatchedRepo はSQLiteを使用した視聴済み集合リポジトリ。
type SqliteWatchedRepo struct {
	db *sql.DB
}

// NewSqliteWatchedRepo はSqliteWatchedRepoを生成する。
func NewSqliteWatchedRepo(db *sql.DB) *SqliteWatchedRepo {
	return &SqliteWatchedRepo{db: db}
}

// MarkWatched は動画を視聴済みとして記録する。既に視聴済みなら何もしない。
func (r *SqliteWatchedRepo) MarkWatched(ctx context.Context, videoID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO watched (video_id, watched_at) VALUES (?, ?)`,
		videoID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("視聴済みの記録に失敗しました: %w", err)
	}
	return nil
}

// IsWatched は動画が視聴済みかどうかを返す。
func (r *SqliteWatchedRepo) IsWatched(ctx context.Context, videoID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT video_id FROM watched WHERE video_id = ?`, videoID,
	).Scan(&id)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("視聴済み状態の取得に失敗しました: %w", err)
	}
	return true, nil
}

// ListWatched は視聴済み動画IDの集合スナップショットを返す。
func (r *SqliteWatchedRepo) ListWatched(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT video_id FROM watched`)
	if err != nil {
		return nil, fmt.Errorf("視聴済み一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	watched := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("視聴済み一覧の読み取りに失敗しました: %w", err)
		}
		watched[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("視聴済み一覧の走査に失敗しました: %w", err)
	}

	return watched, nil
}
