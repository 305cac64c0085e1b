package storefront

import (
	"errors"
	"net/http"
	"strings"

	"chatcart/services/tokens"
)

type validateRequest struct {
	Token       string `json:"token"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	// Older storefront pages send the workspace filter in camel case.
	WorkspaceIDCamel string `json:"workspaceId,omitempty"`
}

func (r validateRequest) workspace() string {
	if w := strings.TrimSpace(r.WorkspaceID); w != "" {
		return w
	}
	return strings.TrimSpace(r.WorkspaceIDCamel)
}

// handleValidateToken is the single authentication gate for the token-only
// storefront pages. It distinguishes "this link is dead" (401) from "this
// link isn't for you" (403) and reveals nothing else.
func (a *API) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Token = strings.TrimSpace(req.Token)
	if !tokens.IsTokenValue(req.Token) {
		respondJSON(w, http.StatusUnauthorized, map[string]any{
			"valid": false,
			"error": "invalid or expired token",
		})
		return
	}

	v := a.tokens.ValidateToken(r.Context(), req.Token, tokens.ValidateOptions{
		WorkspaceID: req.workspace(),
	})
	if !v.Valid {
		status := http.StatusUnauthorized
		msg := "invalid or expired token"
		if v.Reason == tokens.ReasonWorkspaceMismatch {
			status = http.StatusForbidden
			msg = "token does not belong to this workspace"
		}
		respondJSON(w, status, map[string]any{"valid": false, "error": msg})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"data":    v.Data,
		"payload": orEmptyMap(v.Payload),
	})
}

type revokeRequest struct {
	Token string `json:"token"`
}

func (a *API) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, errors.New("token is required"))
		return
	}

	// Snapshot the record before it stops validating so the audit event
	// can say what was revoked.
	v := a.tokens.ValidateToken(r.Context(), req.Token, tokens.ValidateOptions{})

	revoked := a.tokens.RevokeToken(r.Context(), req.Token)
	if revoked {
		a.publishJSON(r.Context(), tokensRevokedTopic, revokedEvent(v))
	}

	respondJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

// revokedEvent carries the revoked token's identity, never its value. A
// revoke of an already-expired record has no live snapshot to report.
func revokedEvent(v tokens.Validation) map[string]any {
	event := map[string]any{"revoked": true}
	if v.Data != nil {
		event["id"] = v.Data.ID.String()
		event["type"] = string(v.Data.Type)
		event["workspace_id"] = v.Data.WorkspaceID
	}
	return event
}

func (a *API) handleTokenStats(w http.ResponseWriter, r *http.Request) {
	workspaceID := strings.TrimSpace(r.URL.Query().Get("workspace_id"))

	stats, err := a.tokens.GetTokenStats(r.Context(), workspaceID)
	if err != nil {
		if errors.Is(err, tokens.ErrWorkspaceRequired) {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// handleCleanup lets an external scheduler trigger the retention sweep over
// HTTP; chatcartctl covers the cron-job form of the same operation.
func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := a.tokens.CleanupExpiredTokens(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.publishJSON(r.Context(), tokensCleanupTopic, map[string]any{
		"deleted": deleted,
	})

	respondJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
