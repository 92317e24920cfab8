package geo

import "math"

// HaversineKm returns the great-circle distance between two points in
// kilometers. Good enough as a travel-cost stand-in when no directions
// provider is configured.
func HaversineKm(a, b Point) float64 {
	const earthRadiusM = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c / 1000.0
}

// BuildHaversineMatrix fills a symmetric table of great-circle distances.
func BuildHaversineMatrix(pts []Point) [][]float64 {
	n := len(pts)
	costs := make([][]float64, n)
	for i := range costs {
		costs[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := HaversineKm(pts[i], pts[j])
			costs[i][j] = d
			costs[j][i] = d
		}
	}
	return costs
}
