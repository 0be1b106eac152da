// Package ratelimit はスライディングウィンドウ方式のレート制限を提供する。
// トークンバケットではなく、trailing window内のリクエスト時刻リストで判定する。
// バーストは上限までウィンドウ内で許容され、古いタイムスタンプが
// ウィンドウ外に出るにつれてカウントは連続的に減衰する。
package ratelimit

import (
	"log/slog"
	"time"
)

// Store は識別子ごとのリクエストタイムスタンプ列を保持する共有ストアのインターフェース。
// ストア自体は外部・任意の存在であり、到達不能な場合リミッターはfail-openする。
type Store interface {
	// Get は識別子のタイムスタンプ列を取得する。未記録の場合は空スライスを返す。
	Get(key string) ([]time.Time, error)
	// Set はタイムスタンプ列を有効期限付きで保存する。
	Set(key string, timestamps []time.Time, expiry time.Duration) error
}

// Limiter はスライディングウィンドウ方式のレートリミッター。
type Limiter struct {
	store  Store
	cap    int
	window time.Duration
	logger *slog.Logger

	// now はテスト用に差し替え可能な現在時刻関数。
	now func() time.Time
}

// New は新しいLimiterを生成する。
// cap回を超えるリクエストがwindow内に到達した場合に拒否する。
func New(store Store, cap int, window time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		cap:    cap,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Allow は識別子のリクエストを許可するかを判定する。
//
// ウィンドウ内のタイムスタンプ数が上限未満の場合のみ現在時刻を記録してtrueを返す。
// 上限に達している場合は記録せずfalseを返す。
// ストアの読み書きに失敗した場合はサービス全体を落とさないためfail-openでtrueを返す。
func (l *Limiter) Allow(identity string) bool {
	timestamps, err := l.store.Get(identity)
	if err != nil {
		l.logger.Warn("レート制限ストアの読み取りに失敗したため許可します",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
		return true
	}

	now := l.now()
	cutoff := now.Add(-l.window)

	// ウィンドウ外の古いタイムスタンプを除去
	recent := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.cap {
		return false
	}

	recent = append(recent, now)
	if err := l.store.Set(identity, recent, 2*l.window); err != nil {
		l.logger.Warn("レート制限ストアの書き込みに失敗しました",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
	}

	return true
}

// RetryAfter は拒否された識別子が次に許可されるまでの推定時間を返す。
// ウィンドウ内最古のタイムスタンプがウィンドウ外に出るまでの残り時間。
// 記録が無い場合は0を返す。
func (l *Limiter) RetryAfter(identity string) time.Duration {
	timestamps, err := l.store.Get(identity)
	if err != nil || len(timestamps) == 0 {
		return 0
	}

	now := l.now()
	cutoff := now.Add(-l.window)

	var oldest time.Time
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			oldest = ts
			break
		}
	}
	if oldest.IsZero() {
		return 0
	}

	return oldest.Add(l.window).Sub(now)
}
