package echoapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	realtimesvc "github.com/darasahq/darasa/services/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the JWT middleware already authenticated the caller
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsApi struct {
	hub *realtimesvc.Hub
}

func registerWebsocketAPI(g *echo.Group, jwt echo.MiddlewareFunc, hub *realtimesvc.Hub) {
	api := wsApi{hub: hub}
	g.GET("/ws", api.connect, jwt)
}

// connect upgrades the request and hands the connection to the hub, which
// pushes new-message events to it until the peer disconnects.
func (api *wsApi) connect(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "upgrading connection")
	}
	api.hub.Add(claims.Subject, conn)
	return nil
}
