package geo_test

import (
	"math"
	"testing"

	"business-escalation/internal/geo"
)

func TestDistanceKm(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		a, b geo.Point
		want float64
	}{
		"same point": {
			a:    geo.Point{Lat: 51.5, Lng: -0.12},
			b:    geo.Point{Lat: 51.5, Lng: -0.12},
			want: 0,
		},
		"one hundredth of a degree of longitude at the equator": {
			a:    geo.Point{Lat: 0, Lng: 0},
			b:    geo.Point{Lat: 0, Lng: 0.01},
			want: 1.1119492664455873,
		},
		"one degree of latitude": {
			a:    geo.Point{Lat: 0, Lng: 0},
			b:    geo.Point{Lat: 1, Lng: 0},
			want: 111.19492664455873,
		},
		"london to paris": {
			a:    geo.Point{Lat: 51.5074, Lng: -0.1278},
			b:    geo.Point{Lat: 48.8566, Lng: 2.3522},
			want: 343.5560603410416,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := geo.DistanceKm(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("mismatch:\n  got:  %v\n  want: %v", got, tt.want)
			}
		})
	}
}

func TestDistanceKm_Symmetric(t *testing.T) {
	t.Parallel()

	points := []geo.Point{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 0.01},
		{Lat: 51.5074, Lng: -0.1278},
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: 89.9, Lng: 179.9},
		{Lat: -89.9, Lng: -179.9},
	}
	for _, a := range points {
		for _, b := range points {
			if ab, ba := geo.DistanceKm(a, b), geo.DistanceKm(b, a); ab != ba {
				t.Errorf("distance not symmetric for %v and %v: %v != %v", a, b, ab, ba)
			}
		}
	}
}

func TestPoint_Valid(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		p    geo.Point
		want bool
	}{
		"origin":            {p: geo.Point{}, want: true},
		"latitude too big":  {p: geo.Point{Lat: 90.1}, want: false},
		"longitude too low": {p: geo.Point{Lng: -180.5}, want: false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := tt.p.Valid(); got != tt.want {
				t.Errorf("mismatch:\n  got:  %v\n  want: %v", got, tt.want)
			}
		})
	}
}
