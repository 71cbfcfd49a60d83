package geo

import (
	"math"
	"regexp"
	"strconv"
)

const (
	// EarthRadiusKm is Earth's mean radius in kilometers for Haversine calculation.
	EarthRadiusKm = 6371.0
	// ServiceRadiusKm is the cutoff beyond which a collector is not considered for assignment.
	ServiceRadiusKm = 5.0
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceKm calculates the great-circle distance between two points
// on Earth in kilometers using the Haversine formula.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Distance is DistanceKm for two Points.
func Distance(a, b Point) float64 {
	return DistanceKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

// IsWithinServiceRadius reports whether b is strictly closer than ServiceRadiusKm to a.
func IsWithinServiceRadius(a, b Point) bool {
	return Distance(a, b) < ServiceRadiusKm
}

// Box is a latitude/longitude rectangle.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Contains reports whether p lies inside b, edges included.
func (b Box) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// BoundingBox returns a rectangle containing every point within radiusKm of center.
// Near the poles or across the antimeridian the box spans all longitudes.
func BoundingBox(center Point, radiusKm float64) Box {
	kmPerDegree := EarthRadiusKm * math.Pi / 180
	dLat := radiusKm / kmPerDegree
	b := Box{
		MinLat: math.Max(center.Lat-dLat, -90),
		MaxLat: math.Min(center.Lat+dLat, 90),
		MinLng: -180,
		MaxLng: 180,
	}
	// Longitude degrees shrink toward the poles; size the box at its poleward edge.
	edge := math.Abs(center.Lat) + dLat
	if edge >= 90 {
		return b
	}
	dLng := radiusKm / (kmPerDegree * math.Cos(edge*math.Pi/180))
	if center.Lng-dLng < -180 || center.Lng+dLng > 180 {
		return b
	}
	b.MinLng, b.MaxLng = center.Lng-dLng, center.Lng+dLng
	return b
}

// Map links carry coordinates in a few shapes: ".../@12.97,77.59,15z",
// ".../data=!3d12.97!4d77.59" and "...?q=12.97,77.59".
var mapLinkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`),
	regexp.MustCompile(`!3d(-?\d+\.\d+)!4d(-?\d+\.\d+)`),
	regexp.MustCompile(`q=(-?\d+\.\d+),(-?\d+\.\d+)`),
}

// ParseMapLink extracts coordinates from a shared map link.
func ParseMapLink(link string) (Point, bool) {
	for _, re := range mapLinkPatterns {
		m := re.FindStringSubmatch(link)
		if m == nil {
			continue
		}
		lat, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		lng, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		return Point{Lat: lat, Lng: lng}, true
	}
	return Point{}, false
}
