// Package tokens implements the secure token subsystem behind chatcart's
// login-free storefront links: issuance with a one-live-token-per-scope reuse
// policy, read-only validation at the unauthenticated boundary, and lifecycle
// housekeeping over a shared store.
package tokens

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TokenType declares the purpose a token was minted for. The type participates
// in the dedup key and in operational statistics; it never gates validation.
type TokenType string

const (
	TypeRegistration      TokenType = "registration"
	TypeCheckout          TokenType = "checkout"
	TypeInvoice           TokenType = "invoice"
	TypeCart              TokenType = "cart"
	TypePasswordReset     TokenType = "password_reset"
	TypeEmailVerification TokenType = "email_verification"
	TypeOrders            TokenType = "orders"
	TypeProfile           TokenType = "profile"
	TypeAny               TokenType = "any"
	TypeUniversal         TokenType = "universal"
)

var knownTypes = map[TokenType]struct{}{
	TypeRegistration:      {},
	TypeCheckout:          {},
	TypeInvoice:           {},
	TypeCart:              {},
	TypePasswordReset:     {},
	TypeEmailVerification: {},
	TypeOrders:            {},
	TypeProfile:           {},
	TypeAny:               {},
	TypeUniversal:         {},
}

// Valid reports whether t is one of the declared token types.
func (t TokenType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

var (
	ErrWorkspaceRequired   = errors.New("workspace id is required")
	ErrCustomerRequired    = errors.New("customer id is required")
	ErrPhoneNumberRequired = errors.New("phone number is required")
	ErrInvalidTokenType    = errors.New("invalid token type")
	ErrTokenNotFound       = errors.New("token not found")
)

// Record is a stored token row. CustomerID is empty only for registration
// tokens, where the customer does not exist yet and PhoneNumber carries the
// dedup key instead.
type Record struct {
	ID          uuid.UUID
	Token       string
	Type        TokenType
	WorkspaceID string
	CustomerID  string
	UserID      string
	PhoneNumber string
	IPAddress   string
	Payload     map[string]any
	ExpiresAt   time.Time
	UsedAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Live reports whether the record has not expired as of now.
func (r Record) Live(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// IssueRequest carries the issuer inputs for CreateToken.
type IssueRequest struct {
	Type        TokenType
	WorkspaceID string
	CustomerID  string
	UserID      string
	PhoneNumber string
	IPAddress   string
	Payload     map[string]any
	// TTL is an integer-hours string such as "1h" or "24h". Unparseable
	// values fall back to one hour.
	TTL string
}

// ValidateOptions narrows validation. WorkspaceID, when set, must match the
// record exactly. There is deliberately no type filter: a token is a bearer
// capability and its declared type is statistics metadata only, so one link
// token carries the customer across cart, orders, and profile pages.
type ValidateOptions struct {
	WorkspaceID string
}

// Reason explains a failed validation. It stays inside the process; the HTTP
// layer maps it onto status codes without leaking storage details.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonExpired           Reason = "expired"
	ReasonWorkspaceMismatch Reason = "workspace_mismatch"
	ReasonStoreError        Reason = "store_error"
)

// TokenData is the read-only projection returned to consumers on successful
// validation. The token value itself is never echoed back.
type TokenData struct {
	ID          uuid.UUID `json:"id"`
	Type        TokenType `json:"type"`
	WorkspaceID string    `json:"workspace_id"`
	CustomerID  string    `json:"customer_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validation is the outcome of ValidateToken. It is always populated, never
// accompanied by an error: the validator sits on an anonymous boundary and
// degrades every failure class to Valid=false.
type Validation struct {
	Valid   bool
	Reason  Reason
	Data    *TokenData
	Payload map[string]any
}
