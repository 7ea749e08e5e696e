package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/ports"
)

// AccessoryView is an accessory as served by the status API.
type AccessoryView struct {
	domain.AccessoryDevice
	BatteryFraction float64 `json:"battery_fraction"`
	IconHint        string  `json:"icon_hint"`
}

// TelemetryView is the reconciliation cache as served by the status API.
type TelemetryView struct {
	ByAddress     map[string]int `json:"by_address"`
	ByName        map[string]int `json:"by_name"`
	LastRefreshed *time.Time     `json:"last_refreshed,omitempty"`
}

// AccessoryHandler serves connected accessories, cache contents and diagnostics.
type AccessoryHandler struct {
	Service ports.AccessoryService
	Logger  *slog.Logger
}

// NewAccessoryHandler creates a new AccessoryHandler
func NewAccessoryHandler(service ports.AccessoryService, logger *slog.Logger) *AccessoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessoryHandler{Service: service, Logger: logger}
}

// HandleList returns the connected accessories.
func (h *AccessoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	devices := h.Service.Accessories(r.Context())
	views := make([]AccessoryView, 0, len(devices))
	for _, d := range devices {
		views = append(views, AccessoryView{
			AccessoryDevice: d,
			BatteryFraction: d.Battery.Fraction(),
			IconHint:        d.IconHint(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessories": views,
		"count":       len(views),
	})
}

// HandleTelemetry returns the merged telemetry mappings.
func (h *AccessoryHandler) HandleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, telemetryView(h.Service.Telemetry(r.Context())))
}

// HandleDiagnostics lists accessories that are missing battery telemetry.
func (h *AccessoryHandler) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	missing := h.Service.Missing(r.Context())
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"missing_telemetry": missing,
		"count":             len(missing),
	})
}

// HandleRefresh forces a telemetry refresh. A refresh already in flight yields 409.
func (h *AccessoryHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.Service.ForceRefresh(r.Context()) {
		writeError(w, http.StatusConflict, domain.ErrRefreshInProgress.Error())
		return
	}
	h.Logger.Info("telemetry refresh forced via api", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, telemetryView(h.Service.Telemetry(r.Context())))
}

func telemetryView(e domain.TelemetryEntries) TelemetryView {
	v := TelemetryView{ByAddress: e.ByAddress, ByName: e.ByName}
	if v.ByAddress == nil {
		v.ByAddress = map[string]int{}
	}
	if v.ByName == nil {
		v.ByName = map[string]int{}
	}
	if !e.LastRefreshed.IsZero() {
		t := e.LastRefreshed
		v.LastRefreshed = &t
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
