package cache

import (
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache() (*TTL[string, int], *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string, int]()
	c.SetClock(clk.now)
	return c, clk
}

func TestGetSetExpiry(t *testing.T) {
	c, clk := newTestCache()
	c.Set("a", 1, time.Minute)
	c.Set("forever", 2, 0)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}

	clk.advance(2 * time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Error("expected a to expire")
	}
	if v, ok := c.Get("forever"); !ok || v != 2 {
		t.Errorf("Get(forever) = %d, %v; want 2, true", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestTouchExtendsLife(t *testing.T) {
	c, clk := newTestCache()
	c.Set("s", 7, time.Minute)

	clk.advance(50 * time.Second)
	if !c.Touch("s", time.Minute) {
		t.Fatal("Touch on live entry returned false")
	}
	clk.advance(50 * time.Second)
	if _, ok := c.Get("s"); !ok {
		t.Fatal("touched entry expired early")
	}

	clk.advance(2 * time.Minute)
	if c.Touch("s", time.Minute) {
		t.Error("Touch on expired entry returned true")
	}
	if c.Touch("missing", time.Minute) {
		t.Error("Touch on missing entry returned true")
	}
}

func TestSweepReturnsExpired(t *testing.T) {
	c, clk := newTestCache()
	c.Set("a", 1, time.Second)
	c.Set("b", 2, time.Second)
	c.Set("c", 3, time.Hour)

	if got := c.Sweep(); len(got) != 0 {
		t.Fatalf("Sweep before expiry = %v, want none", got)
	}

	clk.advance(time.Minute)
	got := c.Sweep()
	sort.Ints(got)
	if diff := cmp.Diff([]int{1, 2}, got); diff != "" {
		t.Errorf("Sweep mismatch (-want +got):\n%s", diff)
	}
	if c.Len() != 1 {
		t.Errorf("Len() after sweep = %d, want 1", c.Len())
	}
}

func TestDeleteReturnsValue(t *testing.T) {
	c, _ := newTestCache()
	c.Set("k", 9, time.Minute)

	v, ok := c.Delete("k")
	if !ok || v != 9 {
		t.Fatalf("Delete(k) = %d, %v; want 9, true", v, ok)
	}
	if _, ok := c.Delete("k"); ok {
		t.Error("second Delete reported a value")
	}
}

func TestNilCache(t *testing.T) {
	var c *TTL[string, int]
	c.Set("a", 1, time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("nil cache returned a hit")
	}
	if c.Len() != 0 || c.Sweep() != nil || c.Touch("a", 0) {
		t.Error("nil cache should be empty")
	}
}
