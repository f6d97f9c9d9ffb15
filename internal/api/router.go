// Package api exposes the REST surface: VM registry CRUD for agents, alert
// acknowledgement actions, settings, charts, and the live state endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetwatch/fleetwatch/internal/alerts"
	"github.com/fleetwatch/fleetwatch/internal/dashboard"
	"github.com/fleetwatch/fleetwatch/internal/history"
	"github.com/fleetwatch/fleetwatch/internal/models"
	"github.com/fleetwatch/fleetwatch/internal/settings"
	"github.com/fleetwatch/fleetwatch/internal/vmstore"
	"github.com/fleetwatch/fleetwatch/internal/websocket"
)

// Router is the HTTP API surface.
type Router struct {
	mux       *http.ServeMux
	vms       *vmstore.Store
	view      *dashboard.ViewModel
	lifecycle *alerts.LifecycleStore
	settings  *settings.Manager
	history   *history.Store // optional
	hub       *websocket.Hub // optional
}

// NewRouter wires all routes onto a fresh mux.
func NewRouter(vms *vmstore.Store, view *dashboard.ViewModel, lifecycle *alerts.LifecycleStore, sm *settings.Manager, hist *history.Store, hub *websocket.Hub) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		vms:       vms,
		view:      view,
		lifecycle: lifecycle,
		settings:  sm,
		history:   hist,
		hub:       hub,
	}

	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/state", r.handleState)
	r.mux.HandleFunc("/api/vms", r.handleVMs)
	r.mux.HandleFunc("/api/vms/", r.handleVMByID)
	r.mux.HandleFunc("/api/alerts", r.handleAlerts)
	r.mux.HandleFunc("/api/alerts/", r.handleAlertAction)
	r.mux.HandleFunc("/api/settings", r.handleSettings)
	r.mux.HandleFunc("/api/charts", r.handleCharts)
	if hub != nil {
		r.mux.HandleFunc("/ws", hub.HandleWebSocket)
	}
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleState serves the view model's latest output, the same payload the
// WebSocket broadcasts.
func (r *Router) handleState(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, r.view.Snapshot())
}

func (r *Router) handleVMs(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		vms, err := r.vms.List()
		if err != nil {
			log.Error().Err(err).Msg("Failed to list VMs")
			writeError(w, http.StatusInternalServerError, "failed to list vms")
			return
		}
		if vms == nil {
			vms = []models.VMSnapshot{}
		}
		writeJSON(w, http.StatusOK, vms)

	case http.MethodPost:
		var vm models.VMSnapshot
		if err := json.NewDecoder(req.Body).Decode(&vm); err != nil {
			writeError(w, http.StatusBadRequest, "invalid vm record")
			return
		}
		if vm.ID == "" {
			// Manual creation through the UI carries no agent id.
			vm.ID = uuid.NewString()
		}
		if strings.TrimSpace(vm.Name) == "" {
			writeError(w, http.StatusBadRequest, "vm name is required")
			return
		}
		if err := r.vms.Upsert(vm); err != nil {
			log.Error().Err(err).Str("vmID", vm.ID).Msg("Failed to create VM")
			writeError(w, http.StatusInternalServerError, "failed to create vm")
			return
		}
		writeJSON(w, http.StatusCreated, vm)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (r *Router) handleVMByID(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/api/vms/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "vm not found")
		return
	}

	switch req.Method {
	case http.MethodGet:
		vm, err := r.vms.Get(id)
		if errors.Is(err, vmstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "vm not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Str("vmID", id).Msg("Failed to load VM")
			writeError(w, http.StatusInternalServerError, "failed to load vm")
			return
		}
		writeJSON(w, http.StatusOK, vm)

	case http.MethodPut:
		var vm models.VMSnapshot
		if err := json.NewDecoder(req.Body).Decode(&vm); err != nil {
			writeError(w, http.StatusBadRequest, "invalid vm record")
			return
		}
		vm.ID = id
		if err := r.vms.Upsert(vm); err != nil {
			log.Error().Err(err).Str("vmID", id).Msg("Failed to update VM")
			writeError(w, http.StatusInternalServerError, "failed to update vm")
			return
		}
		writeJSON(w, http.StatusOK, vm)

	case http.MethodDelete:
		if err := r.vms.Delete(id); err != nil {
			if errors.Is(err, vmstore.ErrNotFound) {
				writeError(w, http.StatusNotFound, "vm not found")
				return
			}
			log.Error().Err(err).Str("vmID", id).Msg("Failed to delete VM")
			writeError(w, http.StatusInternalServerError, "failed to delete vm")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAlerts serves the paginated alert lists. filter and page query
// parameters update the operator's view state before the listing is built.
func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if f := req.URL.Query().Get("filter"); f != "" {
		r.view.SetFilter(dashboard.Filter(f))
	}
	if p := req.URL.Query().Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil {
			r.view.SetPage(page)
		}
	}

	writeJSON(w, http.StatusOK, r.view.Snapshot().Alerts)
}

// handleAlertAction handles POST /api/alerts/{id}/acknowledge and
// /api/alerts/{id}/unacknowledge.
func (r *Router) handleAlertAction(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(req.URL.Path, "/api/alerts/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	id, action := parts[0], parts[1]
	switch action {
	case "acknowledge":
		r.lifecycle.Acknowledge(id)
	case "unacknowledge":
		r.lifecycle.Unacknowledge(id)
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": r.lifecycle.IsAcknowledged(id)})
}

func (r *Router) handleSettings(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, r.settings.Current())

	case http.MethodPut, http.MethodPost:
		var update settings.Update
		if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid settings payload")
			return
		}
		if err := r.settings.Update(update); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, r.settings.Current())

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCharts serves historical samples for one VM:
// GET /api/charts?vm={id}&minutes={n}
func (r *Router) handleCharts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}

	vmID := req.URL.Query().Get("vm")
	if vmID == "" {
		writeError(w, http.StatusBadRequest, "vm parameter is required")
		return
	}

	minutes := 60
	if m := req.URL.Query().Get("minutes"); m != "" {
		if parsed, err := strconv.Atoi(m); err == nil && parsed > 0 {
			minutes = parsed
		}
	}

	samples, err := r.history.Query(vmID, time.Now().Add(-time.Duration(minutes)*time.Minute))
	if err != nil {
		log.Error().Err(err).Str("vmID", vmID).Msg("Failed to query history")
		writeError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	if samples == nil {
		samples = []history.Sample{}
	}
	writeJSON(w, http.StatusOK, samples)
}
