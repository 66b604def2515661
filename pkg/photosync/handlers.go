package photosync

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/virtualtourist/tourist/pkg/errcodes"
)

type handler struct {
	synchronizer *Synchronizer
}

func (h *handler) loadPhotos(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Pin")
	}

	res, err := h.synchronizer.LoadPhotos(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(h.respond(c, res))
}

func (h *handler) refresh(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Pin")
	}

	res, err := h.synchronizer.NewCollection(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(h.respond(c, res))
}

func (h *handler) state(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Pin")
	}

	state, err := h.synchronizer.CurrentState(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, map[string]any{"state": state}))
}

func (h *handler) image(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Photo")
	}

	photo, err := h.synchronizer.FetchImage(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	contentType := "application/octet-stream"
	if photo.ContentType != nil {
		contentType = *photo.ContentType
	}

	return errors.WithStack(c.Blob(http.StatusOK, contentType, photo.ImageData))
}

// respond writes the result. A failed fetch becomes an *errcodes.Error whose
// payload also carries the state the pin is still in.
func (h *handler) respond(c echo.Context, res *Result) error {
	if res.OK() {
		return c.JSON(http.StatusOK, res)
	}

	failure := &errcodes.Error{
		HTTPCode: http.StatusBadGateway,
		Message:  res.Message(),
		Code:     "fetch_failed",
	}
	var e *errcodes.Error
	if errors.As(res.Err, &e) {
		failure.HTTPCode = e.HTTPCode
		failure.Code = e.Code
	}
	failure.Details = map[string]interface{}{
		"state": res.State,
		"pin":   res.Pin,
	}
	return failure
}
