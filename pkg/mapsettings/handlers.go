package mapsettings

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/virtualtourist/tourist/pkg/errcodes"
)

type handler struct {
	mapSettingsService *Service
}

func (h *handler) retrieve(c echo.Context) error {
	region, err := h.mapSettingsService.RetrieveRegion()
	if err != nil {
		return errors.WithStack(err)
	}
	if region == nil {
		return errcodes.NotFound("Map settings")
	}

	return errors.WithStack(c.JSON(http.StatusOK, region))
}

func (h *handler) update(c echo.Context) error {
	params := UpdateRegionPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	region := &Region{
		CenterLatitude:  *params.CenterLatitude,
		CenterLongitude: *params.CenterLongitude,
		LatitudeDelta:   *params.LatitudeDelta,
		LongitudeDelta:  *params.LongitudeDelta,
	}
	if err := h.mapSettingsService.SaveRegion(region); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, region))
}
