// Package httpserver wires the HTTP surface: health checking and the
// websocket streaming endpoint.
package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rtvb/voicebridge/internal/gateway"
)

// Server bundles the router and its dependencies.
type Server struct {
	Router http.Handler
}

// New constructs the HTTP server with routes.
func New(gw *gateway.Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	gw.Register(e)

	return &Server{Router: e}
}
