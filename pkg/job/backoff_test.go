package job

import "testing"

func TestCalculateBackoff_ExponentialGrowth(t *testing.T) {
	cases := []struct {
		attempt  int
		minDelay float64 // seconds, before jitter
	}{
		{1, 30},
		{2, 60},
		{3, 120},
		{4, 240},
	}

	for _, c := range cases {
		d := CalculateBackoff(c.attempt)
		seconds := d.Seconds()
		maxDelay := c.minDelay * 1.1
		if seconds < c.minDelay || seconds > maxDelay {
			t.Errorf("attempt %d: expected delay in [%v, %v]s, got %v", c.attempt, c.minDelay, maxDelay, seconds)
		}
	}
}

func TestCalculateBackoff_CapsAtMax(t *testing.T) {
	d := CalculateBackoff(20)
	if d.Seconds() < 3600 || d.Seconds() > 3600*1.1 {
		t.Errorf("expected delay capped near 3600s with jitter, got %v", d.Seconds())
	}
}

func TestCalculateBackoff_ClampsNonPositiveAttempt(t *testing.T) {
	d := CalculateBackoff(0)
	if d.Seconds() < 30 || d.Seconds() > 33 {
		t.Errorf("expected attempt<1 clamped to attempt=1 backoff, got %v", d.Seconds())
	}
}
