package market

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func minutes(prices ...float64) PriceSeries {
	out := make(PriceSeries, len(prices))
	for i, p := range prices {
		out[i] = Point{Time: t0.Add(time.Duration(i) * time.Minute), Close: p}
	}
	return out
}

func TestValidateRejectsDuplicateTimes(t *testing.T) {
	s := minutes(1, 2, 3)
	if err := s.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	s[2].Time = s[1].Time
	if err := s.Validate(); !errors.Is(err, ErrNotIncreasing) {
		t.Fatalf("expected ErrNotIncreasing, got %v", err)
	}
}

func TestCheckAge(t *testing.T) {
	s := minutes(1, 2, 3)
	newest := t0.Add(2 * time.Minute)
	if err := s.CheckAge(newest.Add(3*time.Minute), 3*time.Minute); err != nil {
		t.Fatalf("expected age at the limit to pass, got %v", err)
	}
	if err := s.CheckAge(newest.Add(3*time.Minute+time.Second), 3*time.Minute); !errors.Is(err, ErrMarketStale) {
		t.Fatalf("expected ErrMarketStale, got %v", err)
	}
	if err := s.CheckAge(newest.Add(time.Hour), 0); err != nil {
		t.Fatalf("expected disabled check, got %v", err)
	}
}

func TestBetweenIsHalfOpen(t *testing.T) {
	s := minutes(1, 2, 3, 4, 5)
	got := s.Between(t0.Add(time.Minute), t0.Add(3*time.Minute))
	if len(got) != 2 || got[0].Close != 2 || got[1].Close != 3 {
		t.Fatalf("unexpected window %+v", got)
	}
	if len(s.Between(time.Time{}, time.Time{})) != 5 {
		t.Fatalf("zero bounds should keep everything")
	}
}

func TestResampleKeepsLastCloseOfBucket(t *testing.T) {
	s := minutes(1, 2, 3, 4, 5, 6, 7)
	got := s.Resample(5 * time.Minute)
	if len(got) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(got))
	}
	if got[0].Close != 5 || !got[0].Time.Equal(t0) {
		t.Fatalf("unexpected first bucket %+v", got[0])
	}
	if got[1].Close != 7 || !got[1].Time.Equal(t0.Add(5*time.Minute)) {
		t.Fatalf("unexpected second bucket %+v", got[1])
	}
}

func TestTail(t *testing.T) {
	s := minutes(1, 2, 3)
	if got := s.Tail(2); len(got) != 2 || got[0].Close != 2 {
		t.Fatalf("unexpected tail %+v", got)
	}
	if got := s.Tail(10); len(got) != 3 {
		t.Fatalf("tail longer than series should return all")
	}
}
