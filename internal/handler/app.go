package handler

import (
	"net/http"

	"github.com/haatos/multici/internal"
	"github.com/labstack/echo/v4"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Version: internal.Version})
}

// GetConfig returns the active configuration with executor keys redacted.
func GetConfig(c echo.Context) error {
	if internal.Config == nil {
		return newError(nil, http.StatusNotFound, "no configuration loaded")
	}
	cfg := *internal.Config
	cfg.Executors = make([]internal.ExecutorConfig, len(internal.Config.Executors))
	for i, e := range internal.Config.Executors {
		if e.EncryptedKey != "" {
			e.EncryptedKey = "redacted"
		}
		cfg.Executors[i] = e
	}
	return c.JSON(http.StatusOK, cfg)
}
