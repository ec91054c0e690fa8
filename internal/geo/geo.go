package geo

import "math"

// earthRadiusMeters is the mean Earth radius used for great-circle math.
const earthRadiusMeters = 6371000.0

// DefaultSessionRadiusMeters applies when a session has no explicit radius.
const DefaultSessionRadiusMeters = 100.0

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both components are finite numbers.
func (c Coordinate) Valid() bool {
	return isFinite(c.Latitude) && isFinite(c.Longitude)
}

// DistanceMeters returns the haversine great-circle distance between a and b.
// Malformed input propagates as NaN; callers that need a guard use IsWithinRadius.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// IsWithinRadius reports whether point lies within radiusMeters of center.
// A point exactly on the boundary counts as inside. Non-finite coordinates
// yield false rather than an error.
func IsWithinRadius(center, point Coordinate, radiusMeters float64) bool {
	if !center.Valid() || !point.Valid() {
		return false
	}
	return DistanceMeters(center, point) <= radiusMeters
}

// ValidateLocationForSession is the canonical geofence check used by the
// checker and the boundary watcher. A non-positive radius falls back to
// DefaultSessionRadiusMeters.
func ValidateLocationForSession(sessionLocation, studentLocation Coordinate, radiusMeters float64) bool {
	if radiusMeters <= 0 {
		radiusMeters = DefaultSessionRadiusMeters
	}
	return IsWithinRadius(sessionLocation, studentLocation, radiusMeters)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
