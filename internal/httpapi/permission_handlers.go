package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"eddie.energy/internal/authz"
	"eddie.energy/internal/dataneed"
	"eddie.energy/internal/lifecycle"
)

type createPermissionRequest struct {
	ConnectionID    string `json:"connection_id"`
	DataNeedID      string `json:"data_need_id"`
	MeteringPointID string `json:"metering_point_id"`
	CustomerID      string `json:"customer_id"`
	Start           string `json:"start"`
	End             string `json:"end"`
	Granularity     string `json:"granularity"`
	EnergyType      string `json:"energy_type"`
}

// CreatePermission accepts an inbound creation request. The response carries
// the permission id in every non-error case; validation failures surface as
// a MALFORMED status on the stream, not as an HTTP error.
func (a *API) CreatePermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if a.lifecycle == nil {
		writeError(w, http.StatusServiceUnavailable, "lifecycle disabled")
		return
	}

	var body createPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.ConnectionID == "" || body.DataNeedID == "" {
		writeError(w, http.StatusBadRequest, "connection_id and data_need_id are required")
		return
	}

	req := lifecycle.CreationRequest{
		ConnectionID:    body.ConnectionID,
		DataNeedID:      body.DataNeedID,
		MeteringPointID: body.MeteringPointID,
		CustomerID:      body.CustomerID,
		Granularity:     dataneed.Granularity(body.Granularity),
		EnergyType:      dataneed.EnergyType(body.EnergyType),
	}
	var err error
	if req.Start, err = parseTime(body.Start); err != nil {
		writeError(w, http.StatusBadRequest, "invalid start timestamp")
		return
	}
	if req.End, err = parseTime(body.End); err != nil {
		writeError(w, http.StatusBadRequest, "invalid end timestamp")
		return
	}

	permissionID, err := a.lifecycle.Create(r.Context(), req)
	if errors.Is(err, dataneed.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown data need")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"permission_id": permissionID,
	})
}

// Authorize starts the administrator hand-off for a validated permission and
// returns the consent URL the final customer must be redirected to.
func (a *API) Authorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if a.lifecycle == nil {
		writeError(w, http.StatusServiceUnavailable, "lifecycle disabled")
		return
	}
	permissionID := r.URL.Query().Get("permission_id")
	if permissionID == "" {
		writeError(w, http.StatusBadRequest, "permission_id is required")
		return
	}

	url, err := a.lifecycle.RequestAuthorization(r.Context(), permissionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authorization_url": url,
	})
}

// AuthorizationCallback is the OAuth redirect URI. The administrator's
// answer is folded into the permission lifecycle; the response is a plain
// page for the final customer's browser.
func (a *API) AuthorizationCallback(w http.ResponseWriter, r *http.Request) {
	if a.authz == nil {
		writeError(w, http.StatusServiceUnavailable, "authorization disabled")
		return
	}
	q := r.URL.Query()
	cb := authz.Callback{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}

	err := a.authz.ProcessCallback(r.Context(), cb)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "authorized",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	case errors.Is(err, authz.ErrUserDeniedAuthorization):
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "denied",
		})
	case errors.Is(err, authz.ErrStateMismatch):
		writeError(w, http.StatusBadRequest, "state verification failed")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
