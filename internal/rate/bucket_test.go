package rate

import (
	"context"
	"testing"
	"time"
)

func TestTakeScenarioFiveThenReject(t *testing.T) {
	var (
		b      Bucket
		exists bool
		res    Result
	)
	want := []int{4, 3, 2, 1, 0}
	for i, remaining := range want {
		b, res = Take(b, exists, 0, 5, 60*time.Second)
		exists = true
		if !res.Allowed || res.Remaining != remaining {
			t.Fatalf("take %d: got %+v, want allowed remaining=%d", i+1, res, remaining)
		}
	}

	b, res = Take(b, exists, 0, 5, 60*time.Second)
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("sixth take should be rejected, got %+v", res)
	}
	if b.Tokens != 0 {
		t.Fatalf("rejected take must not consume, tokens=%d", b.Tokens)
	}
}

func TestTakeRefillsContinuously(t *testing.T) {
	b := Bucket{Tokens: 0, LastRefill: 0}

	// 5 per 60s is one token every 12s.
	_, res := Take(b, true, 11_999, 5, time.Minute)
	if res.Allowed {
		t.Fatal("expected reject before a full token accrued")
	}

	next, res := Take(b, true, 12_000, 5, time.Minute)
	if !res.Allowed || res.Remaining != 0 {
		t.Fatalf("expected one refilled token, got %+v", res)
	}
	if next.LastRefill != 12_000 {
		t.Fatalf("expected refill timestamp to advance by one token period, got %d", next.LastRefill)
	}
}

func TestTakeCarriesPartialProgress(t *testing.T) {
	b := Bucket{Tokens: 0, LastRefill: 0}

	// 18s elapsed: one token added, 6s of progress carried forward.
	b, res := Take(b, true, 18_000, 5, time.Minute)
	if !res.Allowed {
		t.Fatal("expected allow after 18s")
	}
	if b.LastRefill != 12_000 {
		t.Fatalf("expected carried refill timestamp 12000, got %d", b.LastRefill)
	}

	// 6s later the carried progress completes the next token.
	_, res = Take(b, true, 24_000, 5, time.Minute)
	if !res.Allowed {
		t.Fatal("expected carried progress to produce a token")
	}
}

func TestTakeClampsAtLimit(t *testing.T) {
	b := Bucket{Tokens: 1, LastRefill: 0}
	b, res := Take(b, true, int64(time.Hour/time.Millisecond), 3, time.Minute)
	if !res.Allowed || res.Remaining != 2 {
		t.Fatalf("expected clamp to 3 then consume, got %+v", res)
	}
	if b.Tokens != 2 {
		t.Fatalf("expected 2 tokens left, got %d", b.Tokens)
	}
}

func TestTakeClampsStaleBucketToSmallerLimit(t *testing.T) {
	b := Bucket{Tokens: 10, LastRefill: 0}
	_, res := Take(b, true, 0, 2, time.Minute)
	if !res.Allowed || res.Remaining != 1 {
		t.Fatalf("expected clamp to limit 2, got %+v", res)
	}
}

func TestTakeClockGoingBackwardsDoesNotRefill(t *testing.T) {
	b := Bucket{Tokens: 0, LastRefill: 10_000}
	_, res := Take(b, true, 5_000, 5, time.Minute)
	if res.Allowed {
		t.Fatal("negative elapsed time must not refill")
	}
}

func TestTakeNeverExceedsCapacityPlusRefill(t *testing.T) {
	const (
		limit  = 4
		window = 10 * time.Second
	)
	var (
		b       Bucket
		exists  bool
		allowed []int64
	)
	for now := int64(0); now < 60_000; now += 250 {
		var res Result
		b, res = Take(b, exists, now, limit, window)
		exists = true
		if res.Allowed {
			allowed = append(allowed, now)
		}
	}

	// Between any two grants the count is bounded by the burst capacity plus
	// what the refill rate could have produced over the elapsed time.
	windowMs := window.Milliseconds()
	for i := range allowed {
		for j := i; j < len(allowed); j++ {
			count := int64(j - i + 1)
			bound := int64(limit) + (allowed[j]-allowed[i])*limit/windowMs
			if count > bound {
				t.Fatalf("grants %d..%d (%dms..%dms) = %d, bound %d", i, j, allowed[i], allowed[j], count, bound)
			}
		}
	}
}

func TestTakeBurstNeverExceedsLimit(t *testing.T) {
	var (
		b       Bucket
		exists  bool
		granted int
	)
	for i := 0; i < 50; i++ {
		var res Result
		b, res = Take(b, exists, 1_000, 7, time.Minute)
		exists = true
		if res.Allowed {
			granted++
		}
	}
	if granted != 7 {
		t.Fatalf("expected exactly 7 grants at a single instant, got %d", granted)
	}
}

func TestLimiterRejectsInvalidParameters(t *testing.T) {
	l := New(NewMemoryStore(nil), nil)
	if _, err := l.Take(context.Background(), "k", 0, time.Minute); err != ErrInvalidLimit {
		t.Fatalf("expected ErrInvalidLimit for zero limit, got %v", err)
	}
	if _, err := l.Take(context.Background(), "k", 1, 0); err != ErrInvalidLimit {
		t.Fatalf("expected ErrInvalidLimit for zero window, got %v", err)
	}
}
