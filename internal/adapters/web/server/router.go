package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lcalzada-xor/accessoryd/internal/adapters/web/middleware"
)

func SetupRoutes(s *Server) http.Handler {
	r := mux.NewRouter()

	refresh := middleware.RateLimitMiddleware(s.RefreshLimiter)(http.HandlerFunc(s.AccessoryHandler.HandleRefresh))

	// Each path is matched once; methodHandler answers 405 for the rest.
	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/accessories", methodHandler{http.MethodGet: http.HandlerFunc(s.AccessoryHandler.HandleList)})
	api.Handle("/telemetry", methodHandler{http.MethodGet: http.HandlerFunc(s.AccessoryHandler.HandleTelemetry)})
	api.Handle("/diagnostics", methodHandler{http.MethodGet: http.HandlerFunc(s.AccessoryHandler.HandleDiagnostics)})
	api.Handle("/refresh", methodHandler{http.MethodPost: refresh})
	api.Handle("/config", methodHandler{
		http.MethodGet:  http.HandlerFunc(s.ConfigHandler.HandleGetConfig),
		http.MethodPost: http.HandlerFunc(s.ConfigHandler.HandleSetConfig),
	})

	r.HandleFunc("/ws", s.WSManager.HandleWebSocket)
	r.Handle("/metrics", methodHandler{http.MethodGet: promhttp.Handler()})

	return r
}

// methodHandler dispatches a single path by request method.
type methodHandler map[string]http.Handler

func (m methodHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := m[r.Method]; ok {
		h.ServeHTTP(w, r)
		return
	}
	allowed := make([]string, 0, len(m))
	for method := range m {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
