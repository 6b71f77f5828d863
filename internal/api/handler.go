// Package api serves the dashboard REST endpoints: live metrics and queue
// state, rule management, alert listing and acknowledgment, and channel
// verification. Authentication is expected to be applied upstream (reverse
// proxy).
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kumodash/kumodash/internal/alerts"
	"github.com/kumodash/kumodash/internal/store"
)

// Verifier runs channel connectivity self-tests. Implemented by
// notify.Router.
type Verifier interface {
	VerifyChannels(ctx context.Context, channels []string) map[string]bool
}

// ConnChecker reports upstream reachability. Implemented by poller.Poller.
type ConnChecker interface {
	Connected() bool
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store    *store.Store
	engine   *alerts.Engine
	verifier Verifier
	conn     ConnChecker
	mux      *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(st *store.Store, eng *alerts.Engine, verifier Verifier, conn ConnChecker) http.Handler {
	h := &Handler{store: st, engine: eng, verifier: verifier, conn: conn, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/metrics", h.metrics)
	h.mux.HandleFunc("/api/v1/queues", h.queues)
	h.mux.HandleFunc("/api/v1/rules", h.rules)
	h.mux.HandleFunc("/api/v1/rules/", h.ruleByID) // subtree: {id}, {id}/enable, {id}/disable
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/alerts/", h.alertByID) // subtree: {id}/ack
	h.mux.HandleFunc("/api/v1/channels/verify", h.verifyChannels)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	all := h.engine.Alerts()
	unacked := 0
	for _, a := range all {
		if !a.Acknowledged {
			unacked++
		}
	}
	resp := HealthResponse{
		RuleCount:      len(h.engine.Rules()),
		AlertCount:     len(all),
		Unacknowledged: unacked,
		QueueCount:     len(h.store.Queues()),
	}
	if h.conn != nil {
		resp.Connected = h.conn.Connected()
	}
	jsonResp(w, http.StatusOK, resp)
}

// metrics returns GET /api/v1/metrics — the latest delivery sample.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	m, ok := h.store.Metrics()
	if !ok {
		jsonErr(w, http.StatusNotFound, "no metrics received yet")
		return
	}
	jsonResp(w, http.StatusOK, m)
}

// queues returns GET /api/v1/queues — all live queue entries.
func (h *Handler) queues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries := h.store.Queues()
	out := make([]QueueResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, QueueResponse{
			QueueName: e.Update.QueueName,
			Size:      e.Update.Size,
			Ready:     e.Update.Ready,
			Scheduled: e.Update.Scheduled,
			LastSeen:  e.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// rules handles GET (list) and POST (create) on /api/v1/rules.
func (h *Handler) rules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := h.engine.Rules()
		out := make([]RuleResponse, 0, len(list))
		for _, rule := range list {
			out = append(out, toRuleResponse(rule))
		}
		jsonResp(w, http.StatusOK, out)

	case http.MethodPost:
		var body RuleResponse
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid rule body")
			return
		}
		rule := fromRuleResponse(body)
		if rule.Name == "" {
			jsonErr(w, http.StatusBadRequest, "rule name is required")
			return
		}
		added := h.engine.AddRule(rule)
		jsonResp(w, http.StatusCreated, toRuleResponse(added))

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ruleByID handles DELETE /api/v1/rules/{id} and
// POST /api/v1/rules/{id}/enable|disable.
func (h *Handler) ruleByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/rules/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		jsonErr(w, http.StatusNotFound, "rule not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		if !h.engine.RemoveRule(id) {
			jsonErr(w, http.StatusNotFound, "rule not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case (action == "enable" || action == "disable") && r.Method == http.MethodPost:
		if !h.engine.SetEnabled(id, action == "enable") {
			jsonErr(w, http.StatusNotFound, "rule not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// alerts returns GET /api/v1/alerts — all recorded alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.engine.Alerts())
}

// alertByID handles POST /api/v1/alerts/{id}/ack. Acknowledging only flips
// the boolean; it never re-triggers evaluation.
func (h *Handler) alertByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "ack" || r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.engine.Acknowledge(id) {
		jsonErr(w, http.StatusNotFound, "alert not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// verifyChannels handles POST /api/v1/channels/verify.
func (h *Handler) verifyChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Channels) == 0 {
		jsonErr(w, http.StatusBadRequest, "channels is required")
		return
	}
	jsonResp(w, http.StatusOK, h.verifier.VerifyChannels(r.Context(), body.Channels))
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
