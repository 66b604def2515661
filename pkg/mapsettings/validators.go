package mapsettings

type UpdateRegionPayload struct {
	CenterLatitude  *float64 `json:"center_latitude" validate:"required,latitude"`
	CenterLongitude *float64 `json:"center_longitude" validate:"required,longitude"`
	LatitudeDelta   *float64 `json:"latitude_delta" validate:"required,gt=0,max=180"`
	LongitudeDelta  *float64 `json:"longitude_delta" validate:"required,gt=0,max=360"`
}
