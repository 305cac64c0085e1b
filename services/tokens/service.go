package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RetentionWindow is how long expired records are kept for audit and
// debugging before cleanup deletes them.
const RetentionWindow = 7 * 24 * time.Hour

// Service bundles the issuer, validator, and lifecycle manager over an
// injected Store. HTTP handlers, the janitor, and the ops CLI all share one
// Service.
type Service struct {
	store  Store
	sealer *Sealer
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSealer enables authenticated payload encryption at rest.
func WithSealer(s *Sealer) Option {
	return func(svc *Service) { svc.sealer = s }
}

// WithLogger attaches a logger for the failure paths that must not propagate
// errors (validation, revoke).
func WithLogger(l zerolog.Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

// WithClock overrides the time source. Tests use it to cross expiry and
// retention boundaries without sleeping.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// NewService builds a Service on top of store.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	svc := &Service{
		store:  store,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateToken applies the reuse-or-create policy for the request's scope and
// returns the token value to embed in a link. A live token for the same
// (workspace, owner, type) scope is returned unchanged with its payload
// refreshed; otherwise a fresh 64-char hex token is minted with
// expires_at = now + ttl.
func (s *Service) CreateToken(ctx context.Context, req IssueRequest) (string, error) {
	if !req.Type.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTokenType, req.Type)
	}
	if req.WorkspaceID == "" {
		return "", ErrWorkspaceRequired
	}
	if req.Type == TypeRegistration {
		if req.PhoneNumber == "" {
			return "", ErrPhoneNumberRequired
		}
	} else if req.CustomerID == "" {
		return "", ErrCustomerRequired
	}

	payload, err := s.sealer.Seal(req.Payload)
	if err != nil {
		return "", fmt.Errorf("create token: %w", err)
	}

	value, err := generateValue()
	if err != nil {
		return "", fmt.Errorf("create token: %w", err)
	}

	now := s.now().UTC()
	customerID := req.CustomerID
	if req.Type == TypeRegistration {
		// A registration token predates the customer row; the phone
		// number is the scope owner.
		customerID = ""
	}
	candidate := Record{
		ID:          uuid.New(),
		Token:       value,
		Type:        req.Type,
		WorkspaceID: req.WorkspaceID,
		CustomerID:  customerID,
		UserID:      req.UserID,
		PhoneNumber: req.PhoneNumber,
		IPAddress:   req.IPAddress,
		Payload:     payload,
		ExpiresAt:   now.Add(ParseTTL(req.TTL)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	rec, created, err := s.store.Upsert(ctx, candidate, now)
	if err != nil {
		return "", fmt.Errorf("create token: %w", err)
	}

	outcome := "reused"
	if created {
		outcome = "created"
	}
	issuedTotal.WithLabelValues(string(req.Type), outcome).Inc()
	return rec.Token, nil
}

// ValidateToken checks a bearer token and returns the identity snapshot it
// carries. It never returns an error: every failure class, storage errors
// included, degrades to Valid=false so nothing leaks across the
// unauthenticated boundary. Validation has no side effects and a token stays
// valid for any number of calls until it expires.
func (s *Service) ValidateToken(ctx context.Context, token string, opts ValidateOptions) Validation {
	rec, err := s.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return s.invalid(ReasonNotFound)
		}
		s.logger.Warn().Err(err).Msg("token validation store failure")
		return s.invalid(ReasonStoreError)
	}

	now := s.now().UTC()
	if !rec.Live(now) {
		return s.invalid(ReasonExpired)
	}
	if opts.WorkspaceID != "" && rec.WorkspaceID != opts.WorkspaceID {
		return s.invalid(ReasonWorkspaceMismatch)
	}

	payload, err := s.sealer.Open(rec.Payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("token payload unseal failure")
		return s.invalid(ReasonStoreError)
	}

	validationsTotal.WithLabelValues("ok").Inc()
	return Validation{
		Valid: true,
		Data: &TokenData{
			ID:          rec.ID,
			Type:        rec.Type,
			WorkspaceID: rec.WorkspaceID,
			CustomerID:  rec.CustomerID,
			UserID:      rec.UserID,
			PhoneNumber: rec.PhoneNumber,
			ExpiresAt:   rec.ExpiresAt,
			CreatedAt:   rec.CreatedAt,
		},
		Payload: payload,
	}
}

func (s *Service) invalid(reason Reason) Validation {
	validationsTotal.WithLabelValues(string(reason)).Inc()
	return Validation{Valid: false, Reason: reason}
}

// RevokeToken force-expires a token. Expiry is one-directional: once revoked
// the token never validates again. The call is idempotent and never raises;
// failures are logged and reported as false.
func (s *Service) RevokeToken(ctx context.Context, token string) bool {
	err := s.store.Revoke(ctx, token, s.now().UTC())
	switch {
	case err == nil:
		revokedTotal.Inc()
		return true
	case errors.Is(err, ErrTokenNotFound):
		s.logger.Debug().Msg("revoke of unknown token")
		return false
	default:
		s.logger.Error().Err(err).Msg("token revoke failure")
		return false
	}
}

// CleanupExpiredTokens deletes records expired for longer than
// RetentionWindow and returns the count. Errors propagate so the scheduler
// can alert.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-RetentionWindow)
	deleted, err := s.store.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired tokens: %w", err)
	}
	cleanedTotal.Add(float64(deleted))
	return deleted, nil
}

// GetTokenStats returns the count of live tokens per type within a
// workspace. Dashboard material only; never consulted for access decisions.
func (s *Service) GetTokenStats(ctx context.Context, workspaceID string) (map[TokenType]int, error) {
	if workspaceID == "" {
		return nil, ErrWorkspaceRequired
	}
	stats, err := s.store.CountLiveByType(ctx, workspaceID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("token stats: %w", err)
	}
	return stats, nil
}

// MarkTokenUsed is a no-op retained for callers of the old single-use API.
// Tokens are multi-use until expiry and validation never consults used_at.
//
// Deprecated: revoke or let the token expire instead.
func (s *Service) MarkTokenUsed(context.Context, string) error {
	return nil
}
