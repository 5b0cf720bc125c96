package signal

import (
	"testing"
	"time"
)

func TestJoinRateLimiterCapsWindow(t *testing.T) {
	rl := NewJoinRateLimiter(3, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !rl.Allow("peer-a") {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}
	if rl.Allow("peer-a") {
		t.Fatal("attempt over the limit should be denied")
	}

	// Another id has its own budget.
	if !rl.Allow("peer-b") {
		t.Fatal("limits must be per id")
	}

	time.Sleep(150 * time.Millisecond)
	if !rl.Allow("peer-a") {
		t.Fatal("expired window should free the budget")
	}
}
