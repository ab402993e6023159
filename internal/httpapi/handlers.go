package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sawpanic/alertrun/internal/alert"
	"github.com/sawpanic/alertrun/internal/broadcast"
)

// Handlers bundles the registry and broadcast hubs the REST/WS surface
// sits in front of.
type Handlers struct {
	registry   *alert.Registry
	users      *broadcast.UserHub
	densityHub *broadcast.DensityHub
}

// NewHandlers builds the handler set backing the status surface.
func NewHandlers(registry *alert.Registry, users *broadcast.UserHub, densityHub *broadcast.DensityHub) *Handlers {
	return &Handlers{registry: registry, users: users, densityHub: densityHub}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func descriptorFor(c *alert.Composite, connected bool) AlertDescriptor {
	return AlertDescriptor{
		AlertID:          strconv.FormatUint(c.Fingerprint, 10),
		Expression:       c.Expression,
		SubscribersCount: c.SubscriberCount(),
		Connected:        connected,
	}
}

// Health answers a liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListAlerts answers GET /alerts?user_id=U.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	connected := h.users.IsConnected(userID)
	composites := h.registry.ListForUser(userID)
	out := make([]AlertDescriptor, 0, len(composites))
	for _, c := range composites {
		out = append(out, descriptorFor(c, connected))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListAllAlerts answers GET /alerts/all.
func (h *Handlers) ListAllAlerts(w http.ResponseWriter, r *http.Request) {
	composites := h.registry.Snapshot()
	out := make([]AlertDescriptor, 0, len(composites))
	for _, c := range composites {
		out = append(out, descriptorFor(c, false))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateAlert answers POST /alerts.
func (h *Handlers) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Expression) == "" {
		writeError(w, http.StatusBadRequest, "expression and user_id are required")
		return
	}

	c, err := h.registry.AddSubscriber(req.UserID, req.Expression)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, CreateAlertResponse{
		AlertID:          strconv.FormatUint(c.Fingerprint, 10),
		Expression:       c.Expression,
		SubscribersCount: c.SubscriberCount(),
	})
}

// DeleteAlert answers DELETE /alerts/{id}?user_id=U.
func (h *Handlers) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	idStr := mux.Vars(r)["id"]
	fp, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := h.registry.RemoveSubscriber(userID, fp); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, UnsubscribeResponse{RemovedCount: 1})
}

// DeleteAllAlerts answers DELETE /alerts?user_id=U.
func (h *Handlers) DeleteAllAlerts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	before := len(h.registry.ListForUser(userID))
	h.registry.RemoveAllForUser(userID)
	writeJSON(w, http.StatusOK, UnsubscribeResponse{RemovedCount: before})
}

// NotFound is the catch-all 404 handler.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "route not found")
}
