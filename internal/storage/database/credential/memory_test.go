package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestKey(id, digest string) *APIKey {
	return &APIKey{
		ID:           id,
		SecretDigest: digest,
		KeyPrefix:    "elx_live_abc",
		OwnerUserID:  "user-1",
		OwnerEmail:   "alice@x.com",
		Name:         "test key",
		Status:       StatusActive,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestPutKeyIfAbsent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.PutKeyIfAbsent(ctx, newTestKey("k1", "d1")); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	// ID 碰撞
	if err := store.PutKeyIfAbsent(ctx, newTestKey("k1", "d2")); !errors.Is(err, ErrKeyExists) {
		t.Errorf("duplicate id: got %v, want ErrKeyExists", err)
	}

	// 摘要碰撞
	if err := store.PutKeyIfAbsent(ctx, newTestKey("k2", "d1")); !errors.Is(err, ErrKeyExists) {
		t.Errorf("duplicate digest: got %v, want ErrKeyExists", err)
	}
}

func TestGetKeyByDigest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetKeyByDigest(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("missing digest: got %v, want ErrKeyNotFound", err)
	}

	store.PutKeyIfAbsent(ctx, newTestKey("k1", "d1"))
	key, err := store.GetKeyByDigest(ctx, "d1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if key.ID != "k1" {
		t.Errorf("ID = %q, want k1", key.ID)
	}

	// 回傳的是副本，修改不應影響存儲內的狀態
	key.Status = StatusRevoked
	again, _ := store.GetKeyByDigest(ctx, "d1")
	if again.Status != StatusActive {
		t.Error("store state mutated through returned copy")
	}
}

func TestTransitionStatus(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		initial  Status
		next     Status
		expected []Status
		wantErr  error
	}{
		{"active to rotating", StatusActive, StatusRotating, []Status{StatusActive}, nil},
		{"active to revoked", StatusActive, StatusRevoked, []Status{StatusActive, StatusRotating, StatusSuspended}, nil},
		{"revoked stays revoked", StatusRevoked, StatusRotating, []Status{StatusActive}, ErrStatusConflict},
		{"suspend then reinstate", StatusSuspended, StatusActive, []Status{StatusSuspended}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemoryStore()
			key := newTestKey("k1", "d1")
			key.Status = tc.initial
			store.PutKeyIfAbsent(ctx, key)

			err := store.TransitionStatus(ctx, "k1", tc.next, tc.expected...)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("TransitionStatus() = %v, want %v", err, tc.wantErr)
			}

			got, _ := store.GetKeyByID(ctx, "k1")
			want := tc.next
			if tc.wantErr != nil {
				want = tc.initial
			}
			if got.Status != want {
				t.Errorf("status = %q, want %q", got.Status, want)
			}
		})
	}

	t.Run("missing key", func(t *testing.T) {
		store := NewMemoryStore()
		err := store.TransitionStatus(ctx, "missing", StatusRevoked, StatusActive)
		if !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("got %v, want ErrKeyNotFound", err)
		}
	})
}

func TestTransitionStatusRecordsRotatingSince(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.PutKeyIfAbsent(ctx, newTestKey("k1", "d1"))

	before := time.Now().UTC()
	if err := store.TransitionStatus(ctx, "k1", StatusRotating, StatusActive); err != nil {
		t.Fatal(err)
	}

	key, _ := store.GetKeyByID(ctx, "k1")
	if key.RotatingSince == nil {
		t.Fatal("RotatingSince should be set when entering rotating")
	}
	if key.RotatingSince.Before(before.Add(-time.Second)) {
		t.Errorf("RotatingSince = %v, too early", key.RotatingSince)
	}
}

func TestIncrementWindowCeiling(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Hour)

	// 前 limit 次成功，之後全部拒絕
	const limit = 5
	for i := int64(1); i <= limit; i++ {
		count, err := store.IncrementWindow(ctx, "k1", WindowHour, start, limit)
		if err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
		if count != i {
			t.Errorf("count = %d, want %d", count, i)
		}
	}

	if _, err := store.IncrementWindow(ctx, "k1", WindowHour, start, limit); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("over limit: got %v, want ErrLimitExceeded", err)
	}

	// 拒絕不改變計數
	count, _ := store.PeekWindow(ctx, "k1", WindowHour, start)
	if count != limit {
		t.Errorf("count after rejection = %d, want %d", count, limit)
	}
}

func TestIncrementWindowConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Now().UTC().Truncate(10 * time.Second)

	// N 個並發請求打同一個窗口，成功數必須正好等於限制
	const limit = 20
	const workers = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	rejected := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementWindow(ctx, "k1", WindowBurst, start, limit)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if errors.Is(err, ErrLimitExceeded) {
				rejected++
			}
		}()
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("admitted = %d, want exactly %d", admitted, limit)
	}
	if rejected != workers-limit {
		t.Errorf("rejected = %d, want %d", rejected, workers-limit)
	}
}

func TestIncrementWindowSeparateWindows(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	hourStart := time.Now().UTC().Truncate(time.Hour)
	nextHourStart := hourStart.Add(time.Hour)

	// 同一密鑰，不同窗口起點互不影響（窗口重置語義）
	for i := 0; i < 3; i++ {
		if _, err := store.IncrementWindow(ctx, "k1", WindowHour, hourStart, 3); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.IncrementWindow(ctx, "k1", WindowHour, hourStart, 3); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}

	count, err := store.IncrementWindow(ctx, "k1", WindowHour, nextHourStart, 3)
	if err != nil {
		t.Fatalf("next window should admit: %v", err)
	}
	if count != 1 {
		t.Errorf("next window count = %d, want 1", count)
	}
}

func TestListRotatingBefore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := newTestKey("k-old", "d-old")
	old.Status = StatusRotating
	since := time.Now().UTC().Add(-25 * time.Hour)
	old.RotatingSince = &since
	store.PutKeyIfAbsent(ctx, old)

	fresh := newTestKey("k-fresh", "d-fresh")
	fresh.Status = StatusRotating
	freshSince := time.Now().UTC().Add(-time.Hour)
	fresh.RotatingSince = &freshSince
	store.PutKeyIfAbsent(ctx, fresh)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	keys, err := store.ListRotatingBefore(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0].ID != "k-old" {
		t.Errorf("expected only k-old past grace, got %d keys", len(keys))
	}
}

func BenchmarkIncrementWindow(b *testing.B) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.IncrementWindow(ctx, "k1", WindowHour, start, int64(b.N)+1)
	}
}
