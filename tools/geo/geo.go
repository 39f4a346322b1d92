package geo

import "math"

// EarthRadiusKm 地球半径（公里）
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between
// two lat/lng points.
func HaversineKm(latA, lngA, latB, lngB float64) float64 {
	la1 := latA * math.Pi / 180
	la2 := latB * math.Pi / 180
	dLat := (latB - latA) * math.Pi / 180
	dLng := (lngB - lngA) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Asin(math.Sqrt(a))

	return EarthRadiusKm * c
}

// WithinRadiusKm reports whether point B lies within radiusKm of point A.
func WithinRadiusKm(latA, lngA, latB, lngB, radiusKm float64) bool {
	return HaversineKm(latA, lngA, latB, lngB) <= radiusKm
}
