package collect

import (
	"testing"
	"time"
)

func TestCircuitBreakerTripsAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	if !cb.Allow() {
		t.Fatal("new breaker should allow")
	}
	cb.RecordFailure()
	cb.RecordFailure()
	if !cb.Allow() {
		t.Fatal("breaker should stay closed below the failure threshold")
	}
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("breaker should open after max failures")
	}
	if got := cb.State(); got != "OPEN" {
		t.Errorf("state = %q, want OPEN", got)
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 30*time.Millisecond)

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(50 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("breaker should let a probe through after the reset timeout")
	}
	if got := cb.State(); got != "HALF_OPEN" {
		t.Errorf("state = %q, want HALF_OPEN", got)
	}

	cb.RecordSuccess()
	if got := cb.State(); got != "CLOSED" {
		t.Errorf("state after success = %q, want CLOSED", got)
	}
	if !cb.Allow() {
		t.Error("closed breaker should allow")
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 30*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(50 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("probe should be allowed")
	}
	cb.RecordFailure()
	if cb.Allow() {
		t.Error("failed probe should reopen the breaker immediately")
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if !cb.Allow() {
		t.Error("success between failures should reset the consecutive count")
	}
}
