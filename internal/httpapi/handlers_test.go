package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alertrun/internal/alert"
	"github.com/sawpanic/alertrun/internal/broadcast"
	"github.com/sawpanic/alertrun/internal/leaf"
)

func newTestHandlers() *Handlers {
	registry := alert.NewRegistry(leaf.NewManager())
	users := broadcast.NewUserHub(nil)
	return NewHandlers(registry, users, nil)
}

func TestHealthHandler(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCreateAlertHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "valid_request_creates_alert",
			body:       `{"user_id":"u1","expression":"price > 5 300"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "missing_user_id_rejected",
			body:       `{"expression":"price > 5 300"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "blank_expression_rejected",
			body:       `{"user_id":"u1","expression":"   "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed_json_rejected",
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid_expression_syntax_rejected",
			body:       `{"user_id":"u1","expression":"frobnicate > 5"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers()
			req := httptest.NewRequest(http.MethodPost, "/alerts", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			h.CreateAlert(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusCreated {
				var resp CreateAlertResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.AlertID)
				assert.Equal(t, 1, resp.SubscribersCount)
			}
		})
	}
}

func TestListAlertsRequiresUserID(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	w := httptest.NewRecorder()

	h.ListAlerts(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAlertsReturnsSubscribedComposites(t *testing.T) {
	h := newTestHandlers()
	_, err := h.registry.AddSubscriber("u1", "price > 5 300")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/alerts?user_id=u1", nil)
	w := httptest.NewRecorder()

	h.ListAlerts(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var out []AlertDescriptor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "price > 5 300", out[0].Expression)
}

func TestListAllAlertsIncludesEveryUsersComposites(t *testing.T) {
	h := newTestHandlers()
	_, err := h.registry.AddSubscriber("u1", "price > 5 300")
	require.NoError(t, err)
	_, err = h.registry.AddSubscriber("u2", "oi < 100 60")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/alerts/all", nil)
	w := httptest.NewRecorder()

	h.ListAllAlerts(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var out []AlertDescriptor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out, 2)
}

func TestDeleteAlertHandler(t *testing.T) {
	h := newTestHandlers()
	c, err := h.registry.AddSubscriber("u1", "price > 5 300")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/alerts/x?user_id=u1", nil)
	req = mux.SetURLVars(req, map[string]string{"id": descriptorFor(c, false).AlertID})
	w := httptest.NewRecorder()

	h.DeleteAlert(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, h.registry.ListForUser("u1"))
}

func TestDeleteAlertHandlerRejectsMissingUserID(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodDelete, "/alerts/1", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "1"})
	w := httptest.NewRecorder()

	h.DeleteAlert(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteAlertHandlerRejectsUnknownID(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodDelete, "/alerts/999?user_id=u1", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "999"})
	w := httptest.NewRecorder()

	h.DeleteAlert(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteAllAlertsHandler(t *testing.T) {
	h := newTestHandlers()
	_, err := h.registry.AddSubscriber("u1", "price > 5 300")
	require.NoError(t, err)
	_, err = h.registry.AddSubscriber("u1", "oi < 100 60")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/alerts?user_id=u1", nil)
	w := httptest.NewRecorder()

	h.DeleteAllAlerts(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp UnsubscribeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.RemovedCount)
	assert.Empty(t, h.registry.ListForUser("u1"))
}

func TestNotFoundHandler(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()

	h.NotFound(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
