package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stephenschoettler/frontdesk-ai/internal/credstore"
	"github.com/stephenschoettler/frontdesk-ai/internal/logging"
	"github.com/stephenschoettler/frontdesk-ai/internal/model"
)

// requiredServiceAccountFields are the key fields a Google service
// account JSON must carry to be usable. Validated at upload so a broken
// key fails the dashboard request, not a live call.
var requiredServiceAccountFields = []string{
	"type",
	"project_id",
	"private_key_id",
	"private_key",
	"client_email",
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type credentialStatus struct {
	Type      string     `json:"type"`
	Valid     bool       `json:"valid"`
	Principal string     `json:"principal,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type statusResponse struct {
	TenantID          string             `json:"tenant_id"`
	Connected         bool               `json:"connected"`
	FallbackAvailable bool               `json:"fallback_available"`
	Credentials       []credentialStatus `json:"credentials"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	if _, err := s.store.GetTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, model.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		s.logger.Error("failed to load tenant", logging.Tenant(tenantID), logging.Err(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	records, err := s.store.ActiveCredentials(r.Context(), tenantID)
	if err != nil {
		s.logger.Error("failed to load credential status", logging.Tenant(tenantID), logging.Err(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	credentials := make([]credentialStatus, 0, len(records))
	for _, rec := range records {
		cs := credentialStatus{
			Type:      string(rec.Type),
			Valid:     true,
			Principal: rec.PrincipalEmail,
		}
		// Valid means the access token is usable right now. An expired
		// token may still refresh on the next calendar call.
		if rec.Type == model.CredentialTypeOAuth && !rec.TokenExpiry.IsZero() {
			expiry := rec.TokenExpiry
			cs.ExpiresAt = &expiry
			cs.Valid = expiry.After(time.Now())
		}
		credentials = append(credentials, cs)
	}

	respondJSON(w, http.StatusOK, statusResponse{
		TenantID:          tenantID,
		Connected:         len(credentials) > 0,
		FallbackAvailable: s.fallbackAvailable,
		Credentials:       credentials,
	})
}

type initiateRequest struct {
	ActorID string `json:"actor_id"`
}

type initiateResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

func (s *Server) handleOAuthInitiate(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ActorID == "" {
		respondError(w, http.StatusBadRequest, "actor_id is required")
		return
	}

	if _, err := s.store.GetTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, model.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		s.logger.Error("failed to load tenant", logging.Tenant(tenantID), logging.Err(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	authURL, state, err := s.flow.Initiate(r.Context(), tenantID, req.ActorID)
	if err != nil {
		s.logger.Error("failed to initiate oauth flow", logging.Tenant(tenantID), logging.Err(err))
		respondError(w, http.StatusInternalServerError, "failed to initiate authorization")
		return
	}

	respondJSON(w, http.StatusOK, initiateResponse{AuthURL: authURL, State: state})
}

// handleOAuthCallback receives the provider redirect. The response body
// renders in the tenant's browser, so it is a plain page, not JSON.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	record, err := s.flow.CompleteCallback(r.Context(), code, state)
	if err != nil {
		switch model.KindOf(err) {
		case model.KindOAuthStateInvalid:
			http.Error(w, "this authorization link is expired or was already used", http.StatusBadRequest)
		case model.KindOAuthExchangeFailed:
			http.Error(w, "authorization failed, please try connecting again", http.StatusBadGateway)
		default:
			s.logger.Error("oauth callback failed", logging.Err(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><h1>Calendar connected</h1><p>Tenant %s is now connected. You can close this window.</p></body></html>", record.TenantID)
}

type serviceAccountRequest struct {
	ActorID            string          `json:"actor_id"`
	ServiceAccountJSON json.RawMessage `json:"service_account_json"`
}

type serviceAccountResponse struct {
	CredentialID   string `json:"credential_id"`
	PrincipalEmail string `json:"principal_email"`
}

func (s *Server) handleServiceAccountUpload(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req serviceAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ActorID == "" {
		respondError(w, http.StatusBadRequest, "actor_id is required")
		return
	}

	clientEmail, err := validateServiceAccountKey(req.ServiceAccountJSON)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.store.GetTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, model.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		s.logger.Error("failed to load tenant", logging.Tenant(tenantID), logging.Err(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	record, err := s.store.PutServiceAccount(r.Context(), tenantID, credstore.ServiceAccountPayload{
		KeyJSON:     string(req.ServiceAccountJSON),
		ClientEmail: clientEmail,
		ActorID:     req.ActorID,
	})
	if err != nil {
		s.logger.Error("failed to store service account", logging.Tenant(tenantID), logging.Err(err))
		respondError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}

	respondJSON(w, http.StatusCreated, serviceAccountResponse{
		CredentialID:   record.ID,
		PrincipalEmail: record.PrincipalEmail,
	})
}

func (s *Server) handleRevokeCredentials(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	if _, err := s.store.GetTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, model.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		s.logger.Error("failed to load tenant", logging.Tenant(tenantID), logging.Err(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.flow.Revoke(r.Context(), tenantID); err != nil {
		s.logger.Error("failed to revoke oauth credential", logging.Tenant(tenantID), logging.Err(err))
		respondError(w, http.StatusInternalServerError, "failed to revoke credentials")
		return
	}
	if err := s.store.Deactivate(r.Context(), tenantID, model.CredentialTypeServiceAccount); err != nil {
		s.logger.Error("failed to deactivate service account", logging.Tenant(tenantID), logging.Err(err))
		respondError(w, http.StatusInternalServerError, "failed to revoke credentials")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// validateServiceAccountKey checks the uploaded key carries every field
// a usable Google service account needs and returns the client email.
func validateServiceAccountKey(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("service_account_json is required")
	}

	var key map[string]any
	if err := json.Unmarshal(raw, &key); err != nil {
		return "", errors.New("service_account_json is not valid JSON")
	}

	for _, field := range requiredServiceAccountFields {
		v, ok := key[field].(string)
		if !ok || v == "" {
			return "", fmt.Errorf("service account key is missing required field %q", field)
		}
	}

	if key["type"] != "service_account" {
		return "", fmt.Errorf("key type must be \"service_account\", got %q", key["type"])
	}

	return key["client_email"].(string), nil
}
