package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/retirementsolutions/raymondo/internal/chat"
	"github.com/retirementsolutions/raymondo/internal/llm"
)

type ChatHandler struct {
	Router *chat.Router
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.GET("/sources", h.sources)
	g.POST("/chat", h.chat)
}

func (h *ChatHandler) sources(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"sources": h.Router.AvailableSources()})
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req struct {
		Source    string `json:"source"`
		SessionID string `json:"session_id"`
		Question  string `json:"question"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	if req.Source == "" {
		req.Source = chat.SourceDocuments
	}

	answer, err := h.Router.Answer(c.Request().Context(), req.Source, req.SessionID, req.Question)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, answer)
	case errors.Is(err, chat.ErrUnknownSource):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrSourceUnavailable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrLoopExceeded):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case llm.IsTransient(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
