package location

import "math"

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b Location) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * 1000 * c
}

// Bearing returns the initial bearing from a to b in degrees within [0, 360).
func Bearing(a, b Location) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	deg := math.Mod(toDegrees(math.Atan2(y, x))+360, 360)
	return deg
}

// Interpolate linearly blends the coordinates of a and b. frac is clamped to [0, 1].
func Interpolate(a, b Location, frac float64) Location {
	frac = math.Max(0, math.Min(1, frac))
	return Location{
		Latitude:  a.Latitude + (b.Latitude-a.Latitude)*frac,
		Longitude: a.Longitude + (b.Longitude-a.Longitude)*frac,
		Timestamp: a.Timestamp + int64(float64(b.Timestamp-a.Timestamp)*frac),
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
