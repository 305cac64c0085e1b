package storefront

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"chatcart/pkg/render"
	"chatcart/services/tokens"
)

// linkKinds maps the public link path segments onto token types. The chatbot
// mints one of these whenever it drops a storefront link into a WhatsApp
// conversation.
var linkKinds = map[string]tokens.TokenType{
	"cart":         tokens.TypeCart,
	"checkout":     tokens.TypeCheckout,
	"invoice":      tokens.TypeInvoice,
	"orders":       tokens.TypeOrders,
	"profile":      tokens.TypeProfile,
	"registration": tokens.TypeRegistration,
}

type mintLinkRequest struct {
	WorkspaceID string         `json:"workspace_id"`
	CustomerID  string         `json:"customer_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	PhoneNumber string         `json:"phone_number,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	TTL         string         `json:"ttl,omitempty"`
}

func (a *API) handleMintLink(w http.ResponseWriter, r *http.Request) {
	kind := strings.ToLower(chi.URLParam(r, "kind"))
	tokenType, ok := linkKinds[kind]
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("unknown link kind %q", kind))
		return
	}

	var req mintLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ttl := req.TTL
	if ttl == "" {
		ttl = a.config.DefaultTTL
	}

	value, err := a.tokens.CreateToken(r.Context(), tokens.IssueRequest{
		Type:        tokenType,
		WorkspaceID: strings.TrimSpace(req.WorkspaceID),
		CustomerID:  strings.TrimSpace(req.CustomerID),
		UserID:      strings.TrimSpace(req.UserID),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		IPAddress:   clientIP(r),
		Payload:     req.Payload,
		TTL:         ttl,
	})
	if err != nil {
		switch {
		case errors.Is(err, tokens.ErrWorkspaceRequired),
			errors.Is(err, tokens.ErrCustomerRequired),
			errors.Is(err, tokens.ErrPhoneNumberRequired),
			errors.Is(err, tokens.ErrInvalidTokenType):
			respondError(w, http.StatusBadRequest, err)
		default:
			respondError(w, http.StatusInternalServerError, errors.New("token creation failed"))
			a.logger.Error().Err(err).Str("kind", kind).Msg("mint link")
		}
		return
	}

	// Reuse keeps the original expiry, so read it back rather than
	// assuming now+ttl.
	expiresAt := time.Now().UTC().Add(tokens.ParseTTL(ttl))
	if v := a.tokens.ValidateToken(r.Context(), value, tokens.ValidateOptions{}); v.Valid {
		expiresAt = v.Data.ExpiresAt
	}

	a.publishJSON(r.Context(), tokensIssuedTopic, map[string]any{
		"type":         string(tokenType),
		"workspace_id": req.WorkspaceID,
		"customer_id":  req.CustomerID,
	})

	linkURL := a.linkURL(kind, value)
	message, err := a.render.RenderLinkMessage(kind, render.LinkMessage{
		URL:     linkURL,
		Expires: expiresAt.Format(time.RFC3339),
	})
	if err != nil {
		a.logger.Error().Err(err).Str("kind", kind).Msg("render link message")
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"token":      value,
		"url":        linkURL,
		"message":    message,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}

// clientIP strips the port RemoteAddr carries when no proxy header rewrote
// it; RealIP only replaces the address behind X-Forwarded-For or X-Real-IP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (a *API) linkURL(kind, token string) string {
	return fmt.Sprintf("%s/%s?token=%s",
		strings.TrimRight(a.config.LinkBaseURL, "/"), kind, url.QueryEscape(token))
}
