package kvtest

import (
	"sync"
	"time"
)

// KeyStats はキーごとの読み書き回数
type KeyStats struct {
	Reads  uint64
	Writes uint64
}

// Store はテスト用サーバーが使うインメモリの値とアクセス統計
type Store struct {
	mu    sync.RWMutex
	data  map[string]string
	stats map[string]*KeyStats
	delay time.Duration
}

// NewStore は新しいStoreを作成する
func NewStore() *Store {
	return &Store{
		data:  make(map[string]string),
		stats: make(map[string]*KeyStats),
	}
}

// SetDelay は各操作に入れる遅延を設定する
func (s *Store) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *Store) applyDelay() {
	s.mu.RLock()
	d := s.delay
	s.mu.RUnlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (s *Store) statsFor(key string) *KeyStats {
	st, ok := s.stats[key]
	if !ok {
		st = &KeyStats{}
		s.stats[key] = st
	}
	return st
}

// Get は値を返し、読み込み回数を加算する。未設定のキーは空文字列。
func (s *Store) Get(key string) (string, KeyStats) {
	s.applyDelay()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statsFor(key)
	st.Reads++
	return s.data[key], *st
}

// Set は値を保存し、書き込み回数を加算する
func (s *Store) Set(key, value string) KeyStats {
	s.applyDelay()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	st := s.statsFor(key)
	st.Writes++
	return *st
}

// Stats はキーの統計を返す
func (s *Store) Stats(key string) KeyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.stats[key]; ok {
		return *st
	}
	return KeyStats{}
}

// Totals は全キーの合計を返す
func (s *Store) Totals() KeyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total KeyStats
	for _, st := range s.stats {
		total.Reads += st.Reads
		total.Writes += st.Writes
	}
	return total
}
