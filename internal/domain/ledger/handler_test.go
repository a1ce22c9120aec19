package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestServer(svc *Service) *echo.Echo {
	e := echo.New()
	api := e.Group("/api/v1")
	NewHandler(svc).RegisterRoutes(api)
	return e
}

func postJSON(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const submitBody = `{
	"claim_id": "CLM-100",
	"payer_id": "PAYER-A",
	"provider_id": "PROV-A",
	"gross": "1100.00",
	"patient_share": "100.00",
	"net": "1000.00",
	"activities": [
		{"activity_id": "ACT-1", "type": "3", "code": "11299", "quantity": "1", "net": "600.00"},
		{"activity_id": "ACT-2", "type": "3", "code": "83036", "quantity": "1", "net": "400.00"}
	]
}`

func TestHandler_SubmitClaim(t *testing.T) {
	svc := newTestService(newMemStore())
	e := newTestServer(svc)

	rec := postJSON(e, "/api/v1/claims", submitBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	var created Claim
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Error("expected assigned claim id in response")
	}
	if !created.Net.Equal(dec("1000.00")) {
		t.Errorf("net = %s, want 1000.00", created.Net)
	}
}

func TestHandler_SubmitClaim_Duplicate(t *testing.T) {
	svc := newTestService(newMemStore())
	e := newTestServer(svc)

	if rec := postJSON(e, "/api/v1/claims", submitBody); rec.Code != http.StatusCreated {
		t.Fatalf("first submission status = %d", rec.Code)
	}
	rec := postJSON(e, "/api/v1/claims", submitBody)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandler_SubmitClaim_ValidationError(t *testing.T) {
	svc := newTestService(newMemStore())
	e := newTestServer(svc)

	rec := postJSON(e, "/api/v1/claims", `{"claim_id": "CLM-1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_GetClaim(t *testing.T) {
	svc := newTestService(newMemStore())
	cl := submitFixture(t, svc)
	e := newTestServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims/"+cl.ID.String(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Claim      *Claim      `json:"claim"`
		Activities []*Activity `json:"activities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Claim == nil || resp.Claim.ID != cl.ID {
		t.Errorf("claim = %+v, want id %s", resp.Claim, cl.ID)
	}
	if len(resp.Activities) != 2 {
		t.Errorf("activities = %d, want 2", len(resp.Activities))
	}
}

func TestHandler_GetClaim_NotFound(t *testing.T) {
	e := newTestServer(newTestService(newMemStore()))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandler_GetClaim_BadID(t *testing.T) {
	e := newTestServer(newTestService(newMemStore()))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims/xyz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_AppendRemittance(t *testing.T) {
	svc := newTestService(newMemStore())
	submitFixture(t, svc)
	e := newTestServer(svc)

	body := `{
		"remittance_id": "RA-77",
		"claims": [
			{
				"claim_id": "CLM-100",
				"payment_reference": "PR-9",
				"date_settlement": "2024-02-20T00:00:00Z",
				"activities": [
					{"activity_id": "ACT-1", "payment_amount": "600.00"},
					{"activity_id": "ACT-2", "payment_amount": "0.00", "denial_code": "PRCE-002"}
				]
			}
		]
	}`
	rec := postJSON(e, "/api/v1/remittances", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		RemittanceID string `json:"remittance_id"`
		Events       int    `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RemittanceID != "RA-77" || resp.Events != 2 {
		t.Errorf("response = %+v, want RA-77 with 2 events", resp)
	}
}

func TestHandler_AppendRemittance_MissingID(t *testing.T) {
	e := newTestServer(newTestService(newMemStore()))
	rec := postJSON(e, "/api/v1/remittances", `{"claims": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_AppendResubmission(t *testing.T) {
	svc := newTestService(newMemStore())
	cl := submitFixture(t, svc)
	e := newTestServer(svc)

	body := `{"resubmission_type": "correction", "comment": "re-filed with corrected code"}`
	rec := postJSON(e, "/api/v1/claims/"+cl.ID.String()+"/resubmissions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	var ev ResubmissionEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != "correction" || ev.ClaimID != cl.ID {
		t.Errorf("event = %+v", ev)
	}
}

func TestHandler_AppendResubmission_UnknownClaim(t *testing.T) {
	e := newTestServer(newTestService(newMemStore()))
	body := `{"resubmission_type": "correction", "comment": "x"}`
	rec := postJSON(e, "/api/v1/claims/"+uuid.NewString()+"/resubmissions", body)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandler_ListRemittances(t *testing.T) {
	svc := newTestService(newMemStore())
	cl := submitFixture(t, svc)
	e := newTestServer(svc)

	body := `{
		"remittance_id": "RA-1",
		"claims": [
			{"claim_id": "CLM-100", "activities": [{"activity_id": "ACT-1", "payment_amount": "600.00"}]}
		]
	}`
	if rec := postJSON(e, "/api/v1/remittances", body); rec.Code != http.StatusCreated {
		t.Fatalf("append status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims/"+cl.ID.String()+"/remittances", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var events []*RemittanceEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}
