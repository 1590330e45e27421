// Package geo provides great-circle distance math for GPS verification.
package geo

import "math"

// EarthRadiusM is the mean Earth radius in meters.
const EarthRadiusM = 6371000.0

// DistanceM returns the great-circle distance in meters between two
// latitude/longitude points using the haversine formula.
func DistanceM(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// WithinRadius reports whether the reading at (lat, lng) falls inside the
// target radius, widened by the reading's reported accuracy margin.
func WithinRadius(lat, lng, targetLat, targetLng, radiusM, accuracyM float64) bool {
	if accuracyM < 0 {
		accuracyM = 0
	}
	return DistanceM(lat, lng, targetLat, targetLng) <= radiusM+accuracyM
}
