package events

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, h *Hub) {
	eh := &handler{h}

	e.GET("/events", eh.stream)
}
