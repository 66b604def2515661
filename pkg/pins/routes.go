package pins

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutes registers pin routes. defaultBounds may be nil.
func RegisterRoutes(e *echo.Echo, db *bun.DB, defaultBounds RegionBounds) *Service {
	pinService := NewService(db)

	h := &handler{
		pinService:    pinService,
		defaultBounds: defaultBounds,
	}

	g := e.Group("/pins")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.retrieve)
	g.DELETE("/:id", h.deletePin)

	return pinService
}
