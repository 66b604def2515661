package pins

// Bounds is a closed latitude/longitude box.
type Bounds struct {
	MinLatitude  float64 `json:"min_latitude"`
	MaxLatitude  float64 `json:"max_latitude"`
	MinLongitude float64 `json:"min_longitude"`
	MaxLongitude float64 `json:"max_longitude"`
}

// Contains reports whether the coordinate lies inside the box, edges included.
func (b Bounds) Contains(latitude, longitude float64) bool {
	return latitude >= b.MinLatitude && latitude <= b.MaxLatitude &&
		longitude >= b.MinLongitude && longitude <= b.MaxLongitude
}

// BoundsFromRegion converts a visible map region (a center and the total
// latitude/longitude span) into the box it covers.
func BoundsFromRegion(centerLatitude, centerLongitude, latitudeDelta, longitudeDelta float64) Bounds {
	return Bounds{
		MinLatitude:  centerLatitude - latitudeDelta/2,
		MaxLatitude:  centerLatitude + latitudeDelta/2,
		MinLongitude: centerLongitude - longitudeDelta/2,
		MaxLongitude: centerLongitude + longitudeDelta/2,
	}
}
