package mapsettings

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, mapSettingsService *Service) {
	h := &handler{mapSettingsService: mapSettingsService}

	g := e.Group("/map-settings")
	g.GET("", h.retrieve)
	g.PUT("", h.update)
}
