package photos

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

func RegisterRoutes(e *echo.Echo, db *bun.DB) *Service {
	photoService := NewService(db)

	h := &handler{photoService}

	g := e.Group("/photos")
	g.GET("/:id", h.retrieve)
	g.DELETE("/:id", h.deletePhoto)

	return photoService
}
