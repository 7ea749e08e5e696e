package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lcalzada-xor/accessoryd/internal/core/ports"
)

// ConfigHandler handles configuration settings
type ConfigHandler struct {
	Settings ports.FeatureToggle
	Logger   *slog.Logger
}

// NewConfigHandler creates a new ConfigHandler
func NewConfigHandler(settings ports.FeatureToggle, logger *slog.Logger) *ConfigHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigHandler{Settings: settings, Logger: logger}
}

// HandleGetConfig returns current configuration
func (h *ConfigHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": h.Settings.FeatureEnabled(),
	})
}

// HandleSetConfig toggles connect event dispatch. The flag is read from the
// "enabled" query parameter or, when that is absent, a JSON body {"enabled": bool}.
func (h *ConfigHandler) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if q := r.URL.Query().Get("enabled"); q != "" {
		b, err := strconv.ParseBool(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid enabled value")
			return
		}
		req.Enabled = &b
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "missing enabled")
		return
	}

	h.Settings.SetFeatureEnabled(*req.Enabled)
	h.Logger.Info("accessory notifications toggled", "enabled", *req.Enabled)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "config_updated",
		"enabled": *req.Enabled,
	})
}
