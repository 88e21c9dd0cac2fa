package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// PublicConfig is what an untrusted client needs to talk to the identity
// provider directly. It must never carry the service role key.
type PublicConfig struct {
	URL     string `json:"url"`
	AnonKey string `json:"anon_key"`
}

type ConfigHandler struct {
	cfg PublicConfig
}

func NewConfigHandler(cfg PublicConfig) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// Public returns the provider URL and publishable key.
//
// @Summary      Client bootstrap configuration
// @Tags         config
// @Produce      json
// @Success      200  {object}  PublicConfig
// @Router       /api/config [get]
func (h *ConfigHandler) Public(c echo.Context) error {
	return c.JSON(http.StatusOK, h.cfg)
}
