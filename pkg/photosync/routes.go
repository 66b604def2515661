package photosync

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, synchronizer *Synchronizer) {
	h := &handler{synchronizer}

	p := e.Group("/pins/:id/photos")
	p.GET("", h.loadPhotos)
	p.GET("/state", h.state)
	p.POST("/refresh", h.refresh)

	e.GET("/photos/:id/image", h.image)
}
