package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/uptrace/bun"
	"github.com/virtualtourist/tourist/pkg/binder"
	"github.com/virtualtourist/tourist/pkg/config"
	"github.com/virtualtourist/tourist/pkg/errcodes"
	"github.com/virtualtourist/tourist/pkg/events"
	"github.com/virtualtourist/tourist/pkg/mapsettings"
	"github.com/virtualtourist/tourist/pkg/photos"
	"github.com/virtualtourist/tourist/pkg/photosync"
	"github.com/virtualtourist/tourist/pkg/pins"
)

func New(cfg *config.Config, db *bun.DB, remote photosync.RemoteClient, hub *events.Hub) (*http.Server, error) {
	e, err := newEcho(cfg, db, remote, hub)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func newEcho(cfg *config.Config, db *bun.DB, remote photosync.RemoteClient, hub *events.Hub) (*echo.Echo, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	mapSettingsService := mapsettings.NewService(cfg.MapSettingsFilePath)
	mapsettings.RegisterRoutes(e, mapSettingsService)

	// Pin listings without a box default to the last saved map region.
	pins.RegisterRoutes(e, db, func() (*pins.Bounds, error) {
		region, err := mapSettingsService.RetrieveRegion()
		if err != nil || region == nil {
			return nil, err
		}
		bounds := region.Bounds()
		return &bounds, nil
	})

	photos.RegisterRoutes(e, db)

	synchronizer := photosync.New(db, remote, hub, photosync.Options{
		ImageCacheTTL: cfg.ImageCacheTTL,
	})
	photosync.RegisterRoutes(e, synchronizer)

	events.RegisterRoutes(e, hub)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	return e, nil
}

func notFoundHandler(c echo.Context) error {
	c.SetPath("/:path")
	return errcodes.NotFound("Page")
}
