// Package httpadmin serves the gateway's HTTP surface alongside the gRPC
// listener: /healthz and the out-of-band link-code endpoints a human
// operator uses to approve a pending agent or client connection without a
// gRPC client of their own.
package httpadmin

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentfabric/gateway/internal/linking"
	"github.com/agentfabric/gateway/internal/observability"
	"github.com/agentfabric/gateway/pkg/models"
)

// Handler serves the link-code rendezvous HTTP endpoints.
type Handler struct {
	linking *linking.Service
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New builds the httpadmin Handler and registers its routes.
func New(linkSvc *linking.Service, startedAt time.Time, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{linking: linkSvc, logger: logger.With("component", "httpadmin"), mux: http.NewServeMux()}

	h.mux.HandleFunc("/healthz", observability.HealthHandler(startedAt, version))
	h.mux.HandleFunc("/admin/link", h.handleLinkPage)
	h.mux.HandleFunc("/admin/api/link/request", h.handleLinkRequest)
	h.mux.HandleFunc("/admin/api/link/status/{code}", h.handleLinkStatus)
	h.mux.HandleFunc("/admin/api/link/approve", h.handleLinkApprove)
	return h
}

// ServeHTTP lets Handler itself be mounted on another mux, or run directly.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type linkRequestBody struct {
	Fingerprint string `json:"fingerprint"`
	DeviceName  string `json:"device_name"`
	Kind        string `json:"kind"` // "agent" or "client"
}

type linkRequestResponse struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expires_at"`
}

func (h *Handler) handleLinkRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body linkRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	code, err := h.linking.Request(r.Context(), body.Fingerprint, body.DeviceName, models.PrincipalKind(body.Kind))
	if err != nil {
		if errors.Is(err, linking.ErrUnsupportedKind) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("link request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, linkRequestResponse{Code: code.Code, ExpiresAt: code.ExpiresAt.Unix()})
}

type linkStatusResponse struct {
	Status      string `json:"status"`
	Token       string `json:"token,omitempty"`
	PrincipalID string `json:"principal_id,omitempty"`
}

func (h *Handler) handleLinkStatus(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		writeJSONError(w, http.StatusBadRequest, "code required")
		return
	}
	l, err := h.linking.Status(r.Context(), code)
	if err != nil {
		if errors.Is(err, linking.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "unknown code")
			return
		}
		h.logger.Error("link status failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, linkStatusResponse{Status: string(l.Status), Token: l.Token, PrincipalID: l.PrincipalID})
}

type linkApproveBody struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
}

type linkApproveResponse struct {
	PrincipalID string `json:"principal_id"`
	DisplayName string `json:"display_name"`
}

// handleLinkApprove is the operator action. Production deployments must
// gate this behind operator-only bearer auth like the gRPC AdminService's
// operator-role check (see internal/admin); it is left unauthenticated
// at the HTTP layer here only because the link ritual exists precisely to
// bootstrap that first operator token.
func (h *Handler) handleLinkApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body linkApproveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	_, p, err := h.linking.Approve(r.Context(), body.Code, body.DisplayName)
	if err != nil {
		if errors.Is(err, linking.ErrNotFound) || errors.Is(err, linking.ErrExpiredOrConsumed) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("link approve failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, linkApproveResponse{PrincipalID: p.ID, DisplayName: p.DisplayName})
}

var linkPageTemplate = template.Must(template.New("link").Parse(`<!DOCTYPE html>
<html>
<head><title>Approve device</title></head>
<body>
<h1>Approve a pending device</h1>
<form method="post" action="/admin/api/link/approve" onsubmit="return submitForm(event)">
  <label>Code: <input name="code" id="code" required></label><br>
  <label>Display name: <input name="display_name" id="display_name"></label><br>
  <button type="submit">Approve</button>
</form>
<pre id="result"></pre>
<script>
function submitForm(e) {
  e.preventDefault();
  fetch('/admin/api/link/approve', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({
      code: document.getElementById('code').value,
      display_name: document.getElementById('display_name').value
    })
  }).then(r => r.json()).then(data => {
    document.getElementById('result').textContent = JSON.stringify(data, null, 2);
  });
  return false;
}
</script>
</body>
</html>`))

func (h *Handler) handleLinkPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := linkPageTemplate.Execute(w, nil); err != nil {
		h.logger.Error("link page render failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
