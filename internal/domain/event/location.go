package event

import "math"

const earthRadiusKM = 6371.0

// DistanceKM returns the great circle distance to other in kilometers
// using the haversine formula.
func (l Location) DistanceKM(other Location) float64 {
	lat1 := l.Latitude * math.Pi / 180
	lon1 := l.Longitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	lon2 := other.Longitude * math.Pi / 180

	dlat := lat2 - lat1
	dlon := lon2 - lon1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKM * c
}

// Key returns a stable identity string for grouping by location.
func (l Location) Key() string {
	return l.Country + "/" + l.City
}
