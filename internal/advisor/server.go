package advisor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

type interactRequest struct {
	Message string `json:"message"`
}

type interactResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server bundles the router and its responder.
type Server struct {
	Router  *echo.Echo
	reply   Responder
	timeout time.Duration
	log     zerolog.Logger
}

// New constructs the advisory server with routes.
func New(resp Responder, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).
				Int64("elapsed_ms", v.Latency.Milliseconds()).Msg("request")
			return nil
		},
	}))

	s := &Server{Router: e, reply: resp, timeout: 50 * time.Second, log: log}
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/interact", s.interact)
	return s
}

func (s *Server) interact(c echo.Context) error {
	var req interactRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "message is required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.timeout)
	defer cancel()
	reply, err := s.reply.Reply(ctx, msg)
	if err != nil {
		s.log.Error().Err(err).Msg("responder failed")
		return c.JSON(replyStatus(err), errorResponse{Error: "could not generate a reply"})
	}
	return c.JSON(http.StatusOK, interactResponse{Reply: reply})
}

func replyStatus(err error) int {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
