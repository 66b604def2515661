package pins

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/virtualtourist/tourist/pkg/errcodes"
)

// RegionBounds supplies the default bounds for a pin listing when the request
// doesn't carry any. It returns nil when there is no default.
type RegionBounds func() (*Bounds, error)

type handler struct {
	pinService    *Service
	defaultBounds RegionBounds
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	params := CreatePinPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	pin, err := h.pinService.CreatePin(ctx, *params.Latitude, *params.Longitude)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, pin))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Pin")
	}

	pin, err := h.pinService.RetrievePin(ctx, RetrievePinOptions{
		ID: &id,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, pin))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListPinsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	bounds, err := params.Bounds()
	if err != nil {
		return errors.WithStack(err)
	}
	if bounds == nil && h.defaultBounds != nil {
		b, err := h.defaultBounds()
		if err != nil {
			return errors.WithStack(err)
		}
		bounds = b
	}

	pins, total, err := h.pinService.ListPinsWithTotal(ctx, ListPinsOptions{
		Bounds: bounds,
		Limit:  &params.Limit,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	response := map[string]any{
		"pins":  pins,
		"total": total,
	}

	return errors.WithStack(c.JSON(http.StatusOK, response))
}

func (h *handler) deletePin(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Pin")
	}

	if err := h.pinService.DeletePin(ctx, id); err != nil {
		return errors.WithStack(err)
	}

	return c.NoContent(http.StatusNoContent)
}
