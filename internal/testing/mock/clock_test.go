package mock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}

	before := time.Now()
	clockTime := clock.Now()
	after := time.Now()

	if clockTime.Before(before) || clockTime.After(after) {
		t.Errorf("RealClock.Now() returned time outside expected range")
	}
}

func TestMockClock_Now(t *testing.T) {
	fixedTime := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewMockClock(fixedTime)

	if !clock.Now().Equal(fixedTime) {
		t.Errorf("Expected time %v, got %v", fixedTime, clock.Now())
	}
	if clock.Unix() != fixedTime.Unix() {
		t.Errorf("Expected unix %d, got %d", fixedTime.Unix(), clock.Unix())
	}
}

func TestMockClock_AdvanceAndSet(t *testing.T) {
	startTime := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewMockClock(startTime)

	clock.Advance(1 * time.Hour)
	if expected := startTime.Add(time.Hour); !clock.Now().Equal(expected) {
		t.Errorf("Expected time %v after advance, got %v", expected, clock.Now())
	}

	newTime := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock.Set(newTime)
	if !clock.Now().Equal(newTime) {
		t.Errorf("Expected time %v after set, got %v", newTime, clock.Now())
	}
}

func TestNewMockClock_ZeroUsesNow(t *testing.T) {
	before := time.Now()
	clock := NewMockClock(time.Time{})
	if clock.Now().Before(before) {
		t.Errorf("Expected zero time to be replaced with now")
	}
}
