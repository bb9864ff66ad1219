package engine

import "testing"

func TestSliceKVCache_Lifecycle(t *testing.T) {
	cache := NewSliceKVCache(4)
	if cache.Size() != 4 {
		t.Errorf("Expected size 4, got %d", cache.Size())
	}

	for _, tok := range []int{2, 10, 11} {
		if err := cache.Append(tok); err != nil {
			t.Fatalf("Append(%d) failed: %v", tok, err)
		}
	}
	if cache.Len() != 3 {
		t.Errorf("Expected 3 cached tokens, got %d", cache.Len())
	}

	cache.Truncate(1)
	if got := cache.Tokens(); len(got) != 1 || got[0] != 2 {
		t.Errorf("Truncate(1) left %v", got)
	}

	cache.Truncate(5)
	if cache.Len() != 1 {
		t.Errorf("Truncate past the end changed length to %d", cache.Len())
	}

	cache.Reset()
	if cache.Len() != 0 {
		t.Errorf("Reset left %d tokens", cache.Len())
	}
}

func TestSliceKVCache_OutOfBounds(t *testing.T) {
	cache := NewSliceKVCache(2)
	if err := cache.Append(1); err != nil {
		t.Fatal(err)
	}
	if err := cache.Append(2); err != nil {
		t.Fatal(err)
	}
	if err := cache.Append(3); err == nil {
		t.Error("expected out-of-bounds error for a full cache")
	}
}

func TestSliceKVCache_DefaultSize(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{0, 2048},
		{-1, 2048},
		{16, 16},
	}
	for _, tt := range tests {
		if got := NewSliceKVCache(tt.size).Size(); got != tt.want {
			t.Errorf("NewSliceKVCache(%d).Size() = %d, want %d", tt.size, got, tt.want)
		}
	}
}
