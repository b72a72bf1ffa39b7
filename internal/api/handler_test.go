package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/finsight/internal/orchestrator"
	"github.com/kalambet/finsight/internal/quota"
)

// --- mocks ---

type mockPipeline struct {
	env      orchestrator.Envelope
	gotQuery string
	called   bool
}

func (m *mockPipeline) Process(ctx context.Context, query string) orchestrator.Envelope {
	m.called = true
	m.gotQuery = query
	return m.env
}

type mockQuota struct {
	decision     quota.Decision
	usage        quota.Usage
	gotSessionID string
	gotOrigin    string
	resetID      string
}

func (m *mockQuota) CheckAndIncrement(ctx context.Context, sessionID, origin string) quota.Decision {
	m.gotSessionID = sessionID
	m.gotOrigin = origin
	return m.decision
}

func (m *mockQuota) Usage(ctx context.Context, sessionID string) quota.Usage {
	m.gotSessionID = sessionID
	return m.usage
}

func (m *mockQuota) ResetSession(ctx context.Context, sessionID string) error {
	m.resetID = sessionID
	return nil
}

type mockCompanies struct {
	companies map[string]string
}

func (m *mockCompanies) All(ctx context.Context) (map[string]string, error) {
	return m.companies, nil
}

func newTestHandler(pipeline *mockPipeline, q *mockQuota) http.Handler {
	return NewHandler(Deps{
		Pipeline:   pipeline,
		Quota:      q,
		Companies:  &mockCompanies{companies: map[string]string{"AAPL": "Apple Inc.", "MSFT": "Microsoft Corporation"}},
		AdminToken: "test-token",
	})
}

// --- tests ---

func TestHandleQuery_Success(t *testing.T) {
	pipeline := &mockPipeline{env: orchestrator.Envelope{Success: true, Answer: "42", Category: "QUANTITATIVE"}}
	q := &mockQuota{decision: quota.Decision{Allowed: true}}
	handler := newTestHandler(pipeline, q)

	body := `{"query": "what is revenue?", "session_id": "s1"}`
	req := httptest.NewRequest("POST", "/v1/query", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:52000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	var env orchestrator.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if env.Answer != "42" {
		t.Errorf("answer = %q", env.Answer)
	}
	if pipeline.gotQuery != "what is revenue?" {
		t.Errorf("query = %q", pipeline.gotQuery)
	}
	if q.gotSessionID != "s1" {
		t.Errorf("session id = %q", q.gotSessionID)
	}
	if q.gotOrigin != "10.0.0.1" {
		t.Errorf("origin = %q, want the remote host", q.gotOrigin)
	}
}

func TestHandleQuery_SessionIDFromHeader(t *testing.T) {
	pipeline := &mockPipeline{env: orchestrator.Envelope{Success: true, Answer: "ok"}}
	q := &mockQuota{decision: quota.Decision{Allowed: true}}
	handler := newTestHandler(pipeline, q)

	req := httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query": "q"}`))
	req.Header.Set("X-Session-ID", "header-session")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if q.gotSessionID != "header-session" {
		t.Errorf("session id = %q, want header value", q.gotSessionID)
	}
}

func TestHandleQuery_QuotaDeniedReturns429(t *testing.T) {
	pipeline := &mockPipeline{}
	q := &mockQuota{decision: quota.Decision{Allowed: false, LimitType: quota.LimitSession, SessionCount: 30}}
	handler := newTestHandler(pipeline, q)

	req := httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query": "q", "session_id": "s1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if pipeline.called {
		t.Error("pipeline must not run when quota is denied")
	}
	var env orchestrator.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if env.ErrorKind != orchestrator.ErrQuotaExceeded {
		t.Errorf("error kind = %q", env.ErrorKind)
	}
	if !strings.Contains(env.Answer, "daily query limit") {
		t.Errorf("answer = %q", env.Answer)
	}
}

func TestHandleQuery_ValidationErrors(t *testing.T) {
	handler := newTestHandler(&mockPipeline{}, &mockQuota{decision: quota.Decision{Allowed: true}})

	tests := []struct {
		name string
		body string
	}{
		{"missing query", `{"session_id": "s1"}`},
		{"blank query", `{"query": "   ", "session_id": "s1"}`},
		{"missing session", `{"query": "q"}`},
		{"malformed json", `{"query": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/query", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleQuery_ForwardedForWins(t *testing.T) {
	q := &mockQuota{decision: quota.Decision{Allowed: true}}
	handler := newTestHandler(&mockPipeline{env: orchestrator.Envelope{Success: true}}, q)

	req := httptest.NewRequest("POST", "/v1/query", strings.NewReader(`{"query": "q", "session_id": "s1"}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if q.gotOrigin != "203.0.113.9" {
		t.Errorf("origin = %q, want first forwarded hop", q.gotOrigin)
	}
}

func TestHandleUsage(t *testing.T) {
	q := &mockQuota{usage: quota.Usage{QueriesToday: 5, QueriesRemaining: 25, DailyLimit: 30}}
	handler := newTestHandler(&mockPipeline{}, q)

	req := httptest.NewRequest("GET", "/v1/usage?session_id=s1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var usage quota.Usage
	if err := json.Unmarshal(rec.Body.Bytes(), &usage); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if usage.QueriesToday != 5 || usage.QueriesRemaining != 25 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestHandleCompanies_SortedByTicker(t *testing.T) {
	handler := newTestHandler(&mockPipeline{}, &mockQuota{})

	req := httptest.NewRequest("GET", "/v1/companies", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Companies []struct {
			Ticker string `json:"ticker"`
			Name   string `json:"name"`
		} `json:"companies"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Count != 2 || len(body.Companies) != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Companies[0].Ticker != "AAPL" || body.Companies[1].Ticker != "MSFT" {
		t.Errorf("companies not sorted: %+v", body.Companies)
	}
}

func TestHandleResetSession_RequiresBearerToken(t *testing.T) {
	q := &mockQuota{}
	handler := newTestHandler(&mockPipeline{}, q)

	req := httptest.NewRequest("POST", "/admin/sessions/s1/reset", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}
	if q.resetID != "" {
		t.Error("reset ran without auth")
	}

	req = httptest.NewRequest("POST", "/admin/sessions/s1/reset", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("POST", "/admin/sessions/s1/reset", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with valid token = %d, want 200", rec.Code)
	}
	if q.resetID != "s1" {
		t.Errorf("reset session = %q, want s1", q.resetID)
	}
}

func TestHandleHealth(t *testing.T) {
	handler := newTestHandler(&mockPipeline{}, &mockQuota{})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
