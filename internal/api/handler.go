// Package api exposes the query pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/finsight/internal/orchestrator"
	"github.com/kalambet/finsight/internal/quota"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Pipeline abstracts the query orchestrator for the API layer.
type Pipeline interface {
	Process(ctx context.Context, query string) orchestrator.Envelope
}

// QuotaGuard abstracts per-session and per-origin rate limiting.
type QuotaGuard interface {
	CheckAndIncrement(ctx context.Context, sessionID, origin string) quota.Decision
	Usage(ctx context.Context, sessionID string) quota.Usage
	ResetSession(ctx context.Context, sessionID string) error
}

// CompanyLister abstracts the entity catalog.
type CompanyLister interface {
	All(ctx context.Context) (map[string]string, error)
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Pipeline   Pipeline
	Quota      QuotaGuard
	Companies  CompanyLister
	AdminToken string
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// NewHandler returns the public REST API plus the token-guarded admin surface.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/v1/query", handleQuery(deps))
	r.Get("/v1/usage", handleUsage(deps))
	r.Get("/v1/companies", handleCompanies(deps))

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(BearerAuth(deps.AdminToken))
		admin.Post("/sessions/{id}/reset", handleResetSession(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		if req.SessionID == "" {
			req.SessionID = r.Header.Get("X-Session-ID")
		}
		if req.SessionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id is required")
			return
		}

		decision := deps.Quota.CheckAndIncrement(r.Context(), req.SessionID, clientOrigin(r))
		if !decision.Allowed {
			writeQuotaExceeded(w, decision)
			return
		}

		env := deps.Pipeline.Process(r.Context(), req.Query)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(env)
	}
}

// writeQuotaExceeded forms the 429 envelope so CLI clients can render it the
// same way as pipeline failures.
func writeQuotaExceeded(w http.ResponseWriter, decision quota.Decision) {
	answer := "You've reached the daily query limit. Come back tomorrow!"
	if decision.LimitType == quota.LimitOrigin {
		answer = "This network has reached its daily query limit. Please try again tomorrow."
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(orchestrator.Envelope{
		Success:   false,
		Answer:    answer,
		ErrorKind: orchestrator.ErrQuotaExceeded,
	})
}

func handleUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			sessionID = r.Header.Get("X-Session-ID")
		}
		if sessionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id is required")
			return
		}

		usage := deps.Quota.Usage(r.Context(), sessionID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(usage)
	}
}

func handleCompanies(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		known, err := deps.Companies.All(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list companies: %v", err)
			return
		}

		type companyEntry struct {
			Ticker string `json:"ticker"`
			Name   string `json:"name"`
		}
		companies := make([]companyEntry, 0, len(known))
		for ticker, name := range known {
			companies = append(companies, companyEntry{Ticker: ticker, Name: name})
		}
		sort.Slice(companies, func(i, j int) bool { return companies[i].Ticker < companies[j].Ticker })

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"companies": companies,
			"count":     len(companies),
		})
	}
}

func handleResetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		if err := deps.Quota.ResetSession(r.Context(), sessionID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "reset", "session_id": sessionID})
	}
}

// clientOrigin extracts the caller's network identity, preferring the first
// X-Forwarded-For hop when a proxy sits in front.
func clientOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
