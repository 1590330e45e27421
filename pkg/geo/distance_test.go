package geo

import (
	"math"
	"testing"
)

func TestDistanceM(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64 // meters
		tolerance              float64
	}{
		{"same point", 14.6042, 120.9822, 14.6042, 120.9822, 0, 0.001},
		{"one degree latitude", 0, 0, 1, 0, 111195, 100},
		{"manila to quezon city", 14.5995, 120.9842, 14.6760, 121.0437, 10770, 200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DistanceM(tc.lat1, tc.lng1, tc.lat2, tc.lng2)
			if math.Abs(got-tc.want) > tc.tolerance {
				t.Errorf("DistanceM = %.1f, want %.1f ± %.1f", got, tc.want, tc.tolerance)
			}
		})
	}
}

func TestWithinRadius(t *testing.T) {
	// ~111m apart (0.001 degrees of latitude).
	lat, lng := 14.6042, 120.9822
	nearLat := lat + 0.001

	if WithinRadius(nearLat, lng, lat, lng, 100, 0) {
		t.Error("point ~111m away inside 100m radius without accuracy margin")
	}
	if !WithinRadius(nearLat, lng, lat, lng, 100, 20) {
		t.Error("accuracy margin should widen the acceptance radius")
	}
	if !WithinRadius(lat, lng, lat, lng, 1, 0) {
		t.Error("same point outside any radius")
	}
	if WithinRadius(nearLat, lng, lat, lng, 100, -50) {
		t.Error("negative accuracy must not shrink below the raw radius check result")
	}
}
