package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFuncOrder(t *testing.T) {
	c := Fake(time.Unix(1000, 0))

	var fired []int
	c.AfterFunc(6*time.Second, func() { fired = append(fired, 6) })
	c.AfterFunc(3*time.Second, func() { fired = append(fired, 3) })
	stopped := c.AfterFunc(4*time.Second, func() { fired = append(fired, 4) })

	if !stopped.Stop() {
		t.Fatal("expected Stop to report an active timer")
	}

	c.Advance(5 * time.Second)
	if len(fired) != 1 || fired[0] != 3 {
		t.Fatalf("after 5s fired = %v, want [3]", fired)
	}

	c.Advance(5 * time.Second)
	if len(fired) != 2 || fired[1] != 6 {
		t.Fatalf("after 10s fired = %v, want [3 6]", fired)
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", c.PendingCount())
	}
}

func TestFakeTicker(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(30 * time.Second)
	defer tk.Stop()

	c.Advance(29 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case <-tk.C:
	default:
		t.Fatal("ticker did not fire at 30s")
	}
}
