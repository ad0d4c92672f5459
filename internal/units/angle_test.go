package units

import (
	"math"
	"testing"
)

func TestWrap180(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{90, 90},
		{180, 180},
		{270, -90},
		{355, -5},
		{-90, -90},
		{-180, 180},
		{-270, 90},
	}
	for _, tt := range tests {
		if got := Wrap180(tt.in); got != tt.want {
			t.Errorf("Wrap180(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWrap360(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{90, 90},
		{180, 180},
		{-90, 270},
		{-5, 355},
		{360, 0},
		{365, 5},
	}
	for _, tt := range tests {
		if got := Wrap360(tt.in); got != tt.want {
			t.Errorf("Wrap360(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWrapRanges(t *testing.T) {
	for a := -359.5; a < 720; a += 0.5 {
		if w := Wrap360(a); w < 0 || w >= 360 {
			t.Fatalf("Wrap360(%v) = %v, outside [0, 360)", a, w)
		}
	}
	for a := -359.5; a <= 540; a += 0.5 {
		if w := Wrap180(a); w <= -180 || w > 180 {
			t.Fatalf("Wrap180(%v) = %v, outside (-180, 180]", a, w)
		}
	}
}

func TestDegRadRoundTrip(t *testing.T) {
	if got := DegToRad(180); math.Abs(got-math.Pi) > 1e-12 {
		t.Errorf("DegToRad(180) = %v", got)
	}
	if got := RadToDeg(DegToRad(123.4)); math.Abs(got-123.4) > 1e-9 {
		t.Errorf("round trip = %v", got)
	}
}
