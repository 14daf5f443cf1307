package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func doRequest(t *testing.T, srv *Server, method, path, tenantID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tenantID != "" {
		req.Header.Set(headerTenantID, tenantID)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func createAgent(t *testing.T, srv *Server, tenantID string) string {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/api/agents", tenantID,
		`{"name":"support-bot","business_name":"Acme","tone":"friendly"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create agent status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp.ID
}

func TestCreateAgentEndpoint(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())

	id := createAgent(t, srv, "t1")
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("returned id %q is not a UUID", id)
	}
}

func TestCreateAgentRejectsBadTone(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())

	rec := doRequest(t, srv, http.MethodPost, "/api/agents", "t1",
		`{"name":"bot","business_name":"Acme","tone":"sarcastic"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateAgentRequiresTenantHeader(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())

	rec := doRequest(t, srv, http.MethodPost, "/api/agents", "",
		`{"name":"bot","business_name":"Acme","tone":"friendly"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateAgentRejectsUnknownRole(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())

	req := httptest.NewRequest(http.MethodPost, "/api/agents",
		strings.NewReader(`{"name":"bot","business_name":"Acme","tone":"friendly"}`))
	req.Header.Set(headerTenantID, "t1")
	req.Header.Set(headerRole, "root")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetAgentCrossTenantIsNotFound(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())
	id := createAgent(t, srv, "t1")

	rec := doRequest(t, srv, http.MethodGet, "/api/agents/"+id, "t2", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-tenant get status = %d, want 404", rec.Code)
	}
}

func TestGetAgentBadID(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())

	rec := doRequest(t, srv, http.MethodGet, "/api/agents/not-a-uuid", "t1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetAgentReportsFragmentCount(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())
	id := createAgent(t, srv, "t1")
	addFragment(t, srv, id, "Refunds processed within 5 days")
	addFragment(t, srv, id, "Shipping takes two weeks")

	rec := doRequest(t, srv, http.MethodGet, "/api/agents/"+id, "t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID            string `json:"id"`
		FragmentCount int64  `json:"fragment_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != id {
		t.Errorf("id = %q, want %q", resp.ID, id)
	}
	if resp.FragmentCount != 2 {
		t.Errorf("fragment_count = %d, want 2", resp.FragmentCount)
	}
}

func TestUpdateAgentEndpoint(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())
	id := createAgent(t, srv, "t1")

	rec := doRequest(t, srv, http.MethodPatch, "/api/agents/"+id, "t1", `{"tone":"technical"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Tone string `json:"tone"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tone != "technical" || resp.Name != "support-bot" {
		t.Errorf("unexpected agent after patch: %+v", resp)
	}
}

func TestDeleteAgentEndpoint(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())
	id := createAgent(t, srv, "t1")

	rec := doRequest(t, srv, http.MethodDelete, "/api/agents/"+id, "t1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/agents/"+id, "t1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestListAgentsScopedToTenant(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())
	createAgent(t, srv, "t1")
	createAgent(t, srv, "t2")

	rec := doRequest(t, srv, http.MethodGet, "/api/agents", "t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("total = %d, want 1", resp.Total)
	}
}
