package events

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	echologger "github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

type handler struct {
	hub *Hub
}

type streamQuery struct {
	Topic string `query:"topic" mod:"trim" default:"photos.*"`
}

// stream writes each published message as a server-sent event until the
// client goes away.
func (h *handler) stream(c echo.Context) error {
	ctx := c.Request().Context()
	log := echologger.FromEchoContext(c)

	params := streamQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	sub := h.hub.Subscribe(params.Topic)
	defer h.hub.Unsubscribe(sub)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	log.Info("event stream opened", logger.Data{"topic": params.Topic})

	for {
		select {
		case <-ctx.Done():
			log.Info("event stream closed")
			return nil
		case msg, ok := <-sub.Receiver:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(msg.Fields)
			if err != nil {
				return errors.WithStack(err)
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", msg.Name, payload); err != nil {
				return errors.WithStack(err)
			}
			res.Flush()
		}
	}
}
