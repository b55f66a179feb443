package formula

import (
	"errors"
	"fmt"
	"testing"
)

func TestCacheParseHitsAndMisses(t *testing.T) {
	c := NewCache(8)

	first, err := c.Parse("[A] + 1")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	second, err := c.Parse("[A] + 1")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if first != second {
		t.Error("second Parse() should return the cached tree")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("Stats() = %+v, want 1 hit, 1 miss, size 1", stats)
	}
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	c := NewCache(8)

	if _, err := c.Parse("[A] +"); !errors.Is(err, ErrSyntax) {
		t.Fatalf("Parse() error = %v, want syntax error", err)
	}
	if c.Stats().Size != 0 {
		t.Error("failed parses should not be cached")
	}
}

func TestCacheEvaluateValidatesAgainstValues(t *testing.T) {
	c := NewCache(8)

	got, err := c.Evaluate("[A] * [B]", map[string]float64{"A": 3, "B": 4})
	if err != nil || got != 12 {
		t.Fatalf("Evaluate() = %v, %v; want 12", got, err)
	}

	// The cached tree is reused but still validated against the new map.
	if _, err := c.Evaluate("[A] * [B]", map[string]float64{"A": 3}); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Evaluate() error = %v, want unknown field", err)
	}
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(2)
	for i := 0; i < 5; i++ {
		if _, err := c.Parse(fmt.Sprintf("%d + 1", i)); err != nil {
			t.Fatalf("Parse() failed: %v", err)
		}
	}
	if size := c.Stats().Size; size != 2 {
		t.Errorf("cache size = %d, want 2", size)
	}
}

func TestCacheForgetAndPurge(t *testing.T) {
	c := NewCache(0)

	c.Parse("1 + 1")
	c.Parse("2 + 2")
	c.Forget("1 + 1")
	if size := c.Stats().Size; size != 1 {
		t.Errorf("size after Forget() = %d, want 1", size)
	}

	c.purge()
	stats := c.Stats()
	if stats.Size != 0 || stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("Stats() after purge() = %+v, want zeroes", stats)
	}
}
