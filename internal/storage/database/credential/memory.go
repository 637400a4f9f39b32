package credential

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 憑證存儲的內存實作
// 語義與 MongoStore 一致，供測試與無資料庫的本地開發使用。
// 所有操作在單一互斥鎖下完成，因此天然滿足原子原語的要求。
type MemoryStore struct {
	mu      sync.Mutex
	keys    map[string]*APIKey // id -> key
	digests map[string]string  // secret_digest -> id
	windows map[windowKey]*RateWindow
}

type windowKey struct {
	keyID       string
	kind        WindowKind
	windowStart time.Time
}

// NewMemoryStore 創建內存憑證存儲
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:    make(map[string]*APIKey),
		digests: make(map[string]string),
		windows: make(map[windowKey]*RateWindow),
	}
}

// GetKeyByDigest 以摘要查找密鑰
func (s *MemoryStore) GetKeyByDigest(_ context.Context, digest string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.digests[digest]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return s.copyKeyLocked(id)
}

// GetKeyByID 以管理 ID 查找密鑰
func (s *MemoryStore) GetKeyByID(_ context.Context, id string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyKeyLocked(id)
}

// copyKeyLocked 回傳密鑰的副本，避免呼叫方繞過存儲修改狀態
func (s *MemoryStore) copyKeyLocked(id string) (*APIKey, error) {
	key, ok := s.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	clone := *key
	return &clone, nil
}

// PutKeyIfAbsent 寫入新密鑰
func (s *MemoryStore) PutKeyIfAbsent(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key.ID]; ok {
		return ErrKeyExists
	}
	if _, ok := s.digests[key.SecretDigest]; ok {
		return ErrKeyExists
	}

	clone := *key
	s.keys[key.ID] = &clone
	s.digests[key.SecretDigest] = key.ID
	return nil
}

// ListKeysByOwner 列出擁有者的全部密鑰（創建時間新到舊）
func (s *MemoryStore) ListKeysByOwner(_ context.Context, ownerUserID string) ([]*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []*APIKey
	for _, key := range s.keys {
		if key.OwnerUserID == ownerUserID {
			clone := *key
			keys = append(keys, &clone)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

// TransitionStatus CAS 狀態轉換
func (s *MemoryStore) TransitionStatus(_ context.Context, id string, next Status, expected ...Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return ErrKeyNotFound
	}

	matched := false
	for _, e := range expected {
		if key.Status == e {
			matched = true
			break
		}
	}
	if !matched {
		return ErrStatusConflict
	}

	key.Status = next
	if next == StatusRotating {
		now := time.Now().UTC()
		key.RotatingSince = &now
	}
	return nil
}

// LinkRotation 設置舊密鑰的輪換連結
func (s *MemoryStore) LinkRotation(_ context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[oldID]
	if !ok {
		return ErrKeyNotFound
	}
	key.RotatedToID = newID
	return nil
}

// IncrementWindow 原子的增量且結果 ≤ limit
func (s *MemoryStore) IncrementWindow(
	_ context.Context, keyID string, kind WindowKind, windowStart time.Time, limit int64,
) (int64, error) {
	if limit <= 0 {
		return 0, ErrLimitExceeded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wk := windowKey{keyID: keyID, kind: kind, windowStart: windowStart.UTC()}
	window, ok := s.windows[wk]
	if !ok {
		window = &RateWindow{
			KeyID:       keyID,
			Kind:        kind,
			WindowStart: windowStart.UTC(),
		}
		s.windows[wk] = window
	}

	if window.Count >= limit {
		return 0, ErrLimitExceeded
	}

	window.Count++
	window.UpdatedAt = time.Now().UTC()
	return window.Count, nil
}

// PeekWindow 讀取窗口當前計數
func (s *MemoryStore) PeekWindow(
	_ context.Context, keyID string, kind WindowKind, windowStart time.Time,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wk := windowKey{keyID: keyID, kind: kind, windowStart: windowStart.UTC()}
	if window, ok := s.windows[wk]; ok {
		return window.Count, nil
	}
	return 0, nil
}

// TouchLastUsed 更新 last_used_at
func (s *MemoryStore) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return ErrKeyNotFound
	}
	t := at.UTC()
	key.LastUsedAt = &t
	return nil
}

// MirrorUsage 鏡像展示用計數
func (s *MemoryStore) MirrorUsage(_ context.Context, id string, requestsToday, requestsThisMonth int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return ErrKeyNotFound
	}
	key.Usage.RequestsToday = requestsToday
	key.Usage.RequestsThisMonth = requestsThisMonth
	key.Usage.TotalRequests++
	return nil
}

// ListRotatingBefore 列出寬限期已過的輪換中密鑰
func (s *MemoryStore) ListRotatingBefore(_ context.Context, cutoff time.Time) ([]*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []*APIKey
	for _, key := range s.keys {
		if key.Status == StatusRotating && key.RotatingSince != nil && key.RotatingSince.Before(cutoff) {
			clone := *key
			keys = append(keys, &clone)
		}
	}
	return keys, nil
}
