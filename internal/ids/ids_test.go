package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewIsMonotonic(t *testing.T) {
	now := time.Now()
	prev := New(now)
	for i := 0; i < 100; i++ {
		next := New(now)
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
	if _, err := ulid.Parse(prev); err != nil {
		t.Fatalf("not a valid ulid: %v", err)
	}
}
