package pins

import "github.com/virtualtourist/tourist/pkg/errcodes"

type CreatePinPayload struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// ListPinsQuery takes either all four bounds or none of them.
type ListPinsQuery struct {
	MinLatitude  *float64 `query:"min_latitude" json:"min_latitude,omitempty" validate:"omitempty,latitude"`
	MaxLatitude  *float64 `query:"max_latitude" json:"max_latitude,omitempty" validate:"omitempty,latitude"`
	MinLongitude *float64 `query:"min_longitude" json:"min_longitude,omitempty" validate:"omitempty,longitude"`
	MaxLongitude *float64 `query:"max_longitude" json:"max_longitude,omitempty" validate:"omitempty,longitude"`
	Limit        int      `query:"limit" json:"limit,omitempty" default:"100" validate:"min=1,max=100"`
}

func (q *ListPinsQuery) Bounds() (*Bounds, error) {
	given := 0
	for _, v := range []*float64{q.MinLatitude, q.MaxLatitude, q.MinLongitude, q.MaxLongitude} {
		if v != nil {
			given++
		}
	}
	switch given {
	case 0:
		return nil, nil
	case 4:
	default:
		return nil, errcodes.ValidationError("Bounds need all of min_latitude, max_latitude, min_longitude and max_longitude.")
	}
	if *q.MinLatitude > *q.MaxLatitude || *q.MinLongitude > *q.MaxLongitude {
		return nil, errcodes.ValidationError("Minimum bounds must not exceed maximum bounds.")
	}
	return &Bounds{
		MinLatitude:  *q.MinLatitude,
		MaxLatitude:  *q.MaxLatitude,
		MinLongitude: *q.MinLongitude,
		MaxLongitude: *q.MaxLongitude,
	}, nil
}
