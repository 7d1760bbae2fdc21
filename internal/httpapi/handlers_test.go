package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"eddie.energy/internal/authz"
	"eddie.energy/internal/dataneed"
	"eddie.energy/internal/lifecycle"
	"eddie.energy/internal/outbox"
	"eddie.energy/internal/permission"
	"eddie.energy/internal/store"
	"eddie.energy/internal/stream"
	"golang.org/x/oauth2"
)

func newTestAPI(t *testing.T) (*API, *store.InMemory) {
	t.Helper()
	repo := store.NewInMemory()
	needs := dataneed.NewInMemory(dataneed.DataNeed{
		ID:              "n1",
		Kind:            dataneed.ValidatedHistoricalData,
		EnergyType:      dataneed.Electricity,
		Granularities:   []dataneed.Granularity{dataneed.PT1H},
		MaxLookbackDays: 365,
	})
	statuses := stream.New[permission.ConnectionStatusMessage](32)
	machine := permission.NewMachine(permission.DefaultTable())
	ob := outbox.New(repo, machine, statuses, permission.DataSource{CountryCode: "AT", AdministratorID: "admin"})
	az := authz.NewManager(oauth2.Config{
		ClientID: "client",
		Endpoint: oauth2.Endpoint{AuthURL: "https://admin.example/auth", TokenURL: "https://admin.example/token"},
	}, []byte("key"), authz.NewInMemoryTokenStore(), ob)
	lc := lifecycle.NewService(needs, ob, az)

	return New(ReadyProbe{}, "test", lc, az, statuses), repo
}

func TestHealthz(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestReadyWithoutDB(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreatePermission(t *testing.T) {
	api, repo := newTestAPI(t)
	now := time.Now().UTC()

	payload := `{
		"connection_id": "c1",
		"data_need_id": "n1",
		"metering_point_id": "m1",
		"start": "` + now.AddDate(0, 0, -10).Format(time.RFC3339) + `",
		"end": "` + now.Format(time.RFC3339) + `",
		"granularity": "PT1H",
		"energy_type": "ELECTRICITY"
	}`
	rec := httptest.NewRecorder()
	api.CreatePermission(rec, httptest.NewRequest(http.MethodPost, "/v1/permissions", strings.NewReader(payload)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	pr, err := repo.FindByPermissionID(context.Background(), body["permission_id"])
	if err != nil {
		t.Fatal(err)
	}
	if pr.Status != permission.StatusValidated {
		t.Fatalf("expected VALIDATED, got %s", pr.Status)
	}
}

func TestCreatePermissionValidationFailureStillReturnsID(t *testing.T) {
	api, repo := newTestAPI(t)
	now := time.Now().UTC()

	payload := `{
		"connection_id": "c1",
		"data_need_id": "n1",
		"start": "` + now.AddDate(0, 0, -10).Format(time.RFC3339) + `",
		"end": "` + now.Format(time.RFC3339) + `",
		"granularity": "PT15M",
		"energy_type": "ELECTRICITY"
	}`
	rec := httptest.NewRecorder()
	api.CreatePermission(rec, httptest.NewRequest(http.MethodPost, "/v1/permissions", strings.NewReader(payload)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	pr, err := repo.FindByPermissionID(context.Background(), body["permission_id"])
	if err != nil {
		t.Fatal(err)
	}
	if pr.Status != permission.StatusMalformed {
		t.Fatalf("expected MALFORMED, got %s", pr.Status)
	}
}

func TestCreatePermissionBadRequests(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.CreatePermission(rec, httptest.NewRequest(http.MethodGet, "/v1/permissions", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	api.CreatePermission(rec, httptest.NewRequest(http.MethodPost, "/v1/permissions", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	api.CreatePermission(rec, httptest.NewRequest(http.MethodPost, "/v1/permissions", strings.NewReader(`{"connection_id":"c1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing data_need_id, got %d", rec.Code)
	}
}

func TestCreatePermissionUnknownDataNeed(t *testing.T) {
	api, repo := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.CreatePermission(rec, httptest.NewRequest(http.MethodPost, "/v1/permissions",
		strings.NewReader(`{"connection_id":"c1","data_need_id":"ghost"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	created, err := repo.FindByStatus(context.Background(), permission.StatusCreated)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Fatalf("unknown need must not create a request, got %d", len(created))
	}
}

func TestAuthorizationCallbackBadState(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.AuthorizationCallback(rec, httptest.NewRequest(http.MethodGet, "/v1/authorization/callback?code=x&state=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStreamDeliversStatusMessages(t *testing.T) {
	repo := store.NewInMemory()
	statuses := stream.New[permission.ConnectionStatusMessage](32)
	machine := permission.NewMachine(permission.DefaultTable())
	ob := outbox.New(repo, machine, statuses, permission.DataSource{CountryCode: "AT", AdministratorID: "admin"})
	api := New(ReadyProbe{}, "test", nil, nil, statuses)

	srv := httptest.NewServer(http.HandlerFunc(api.Stream))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	// Give the subscriber a moment to register before publishing.
	deadline := time.After(time.Second)
	for statuses.Subscribers() == 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber never registered")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := ob.Commit(context.Background(), permission.Created{ID: "p1", ConnectionID: "c1", DataNeedID: "n1"}); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4096)
	var got string
	readDeadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(got, `"status":"CREATED"`) {
		if time.Now().After(readDeadline) {
			t.Fatalf("status message never arrived, got %q", got)
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			got += string(buf[:n])
		}
		if err != nil {
			break
		}
	}
	if !strings.Contains(got, `"permission_id":"p1"`) {
		t.Fatalf("unexpected stream payload: %q", got)
	}
}
