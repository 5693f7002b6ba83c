package location

import "math"

// Mean Earth radius in meters, consistent with the SQL nearby query.
const earthRadiusMeters = 6371000

// Distance returns the great-circle distance in meters between two
// WGS84 coordinate pairs using the haversine formula.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)

	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Pow(math.Sin(dLng/2), 2)

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
