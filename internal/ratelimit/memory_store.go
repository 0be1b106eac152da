package ratelimit

import (
	"sync"
	"time"
)

// entry はMemoryStore内の1識別子分のレコード。
type entry struct {
	timestamps []time.Time
	expiresAt  time.Time
}

// MemoryStore はプロセス内メモリのStore実装。
// 期限切れエントリはGet時に遅延削除し、バックグラウンドでも定期削除する。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	stopCh  chan struct{}
}

// NewMemoryStore は新しいMemoryStoreを生成する。
// cleanupIntervalが正の場合、バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}

	return s
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *MemoryStore) Stop() {
	close(s.stopCh)
}

// Get は識別子のタイムスタンプ列のコピーを返す。
// 期限切れまたは未記録の場合は空スライスを返す。
func (s *MemoryStore) Get(key string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}

	// 呼び出し側の変更から内部状態を守るためコピーを返す
	out := make([]time.Time, len(e.timestamps))
	copy(out, e.timestamps)
	return out, nil
}

// Set はタイムスタンプ列を有効期限付きで保存する。
func (s *MemoryStore) Set(key string, timestamps []time.Time, expiry time.Duration) error {
	stored := make([]time.Time, len(timestamps))
	copy(stored, timestamps)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &entry{
		timestamps: stored,
		expiresAt:  time.Now().Add(expiry),
	}
	return nil
}

// Len は現在保持しているエントリ数を返す。テストおよびメトリクス用。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は有効期限を過ぎたエントリを削除する。
func (s *MemoryStore) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}
