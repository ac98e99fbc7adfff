package syncer

import (
	"testing"
	"time"
)

func TestJitterStaysUnderTenPercent(t *testing.T) {
	interval := 10 * time.Minute
	bound := interval / 10
	for i := 0; i < 1000; i++ {
		j := jitter(interval)
		if j < 0 || j >= bound {
			t.Fatalf("jitter = %v, want [0, %v)", j, bound)
		}
	}
}

func TestJitterHandlesTinyIntervals(t *testing.T) {
	if j := jitter(5 * time.Nanosecond); j != 0 {
		t.Fatalf("jitter(5ns) = %v, want 0", j)
	}
	if j := jitter(0); j != 0 {
		t.Fatalf("jitter(0) = %v, want 0", j)
	}
}
