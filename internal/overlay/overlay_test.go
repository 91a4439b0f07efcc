package overlay

import (
	"testing"
	"time"

	"github.com/fentz26/shipctl/internal/clock"
)

func TestExpiresLazily(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	c := New(15*time.Second, clk)

	e := c.Put("api")
	if !e.ExpiresAt.Equal(time.Unix(15, 0)) {
		t.Errorf("ExpiresAt = %v", e.ExpiresAt)
	}

	clk.Advance(14 * time.Second)
	if _, ok := c.Get("api"); !ok {
		t.Fatal("entry expired early")
	}

	clk.Advance(time.Second)
	if _, ok := c.Get("api"); ok {
		t.Fatal("entry still live at TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed on read, Len = %d", c.Len())
	}
}

func TestPutRestartsTTL(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	c := New(15*time.Second, clk)

	c.Put("api")
	clk.Advance(10 * time.Second)
	c.Put("api")
	clk.Advance(10 * time.Second)

	if _, ok := c.Get("api"); !ok {
		t.Error("re-triggered entry should still be live")
	}
}

func TestSweep(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	c := New(15*time.Second, clk)

	c.Put("api")
	clk.Advance(10 * time.Second)
	c.Put("worker")
	clk.Advance(6 * time.Second)

	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if _, ok := c.Get("worker"); !ok {
		t.Error("live entry swept")
	}

	c.Delete("worker")
	if c.Len() != 0 {
		t.Errorf("Len = %d after Delete", c.Len())
	}
}
