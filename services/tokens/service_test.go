package tokens

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append(opts, WithClock(clock.Now))
	svc, err := NewService(NewMemoryStore(), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, clock
}

func ordersRequest() IssueRequest {
	return IssueRequest{
		Type:        TypeOrders,
		WorkspaceID: "ws-1",
		CustomerID:  "cust-1",
		Payload:     map[string]any{"orders": []any{"o-1"}},
		TTL:         "1h",
	}
}

func TestCreateTokenPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*IssueRequest)
		wantErr error
	}{
		{
			name:    "missing workspace",
			mutate:  func(r *IssueRequest) { r.WorkspaceID = "" },
			wantErr: ErrWorkspaceRequired,
		},
		{
			name:    "missing customer",
			mutate:  func(r *IssueRequest) { r.CustomerID = "" },
			wantErr: ErrCustomerRequired,
		},
		{
			name: "registration missing phone",
			mutate: func(r *IssueRequest) {
				r.Type = TypeRegistration
				r.PhoneNumber = ""
			},
			wantErr: ErrPhoneNumberRequired,
		},
		{
			name:    "unknown type",
			mutate:  func(r *IssueRequest) { r.Type = "mystery" },
			wantErr: ErrInvalidTokenType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			req := ordersRequest()
			tt.mutate(&req)

			_, err := svc.CreateToken(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateToken() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateTokenShape(t *testing.T) {
	svc, _ := newTestService(t)

	value, err := svc.CreateToken(context.Background(), ordersRequest())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if !IsTokenValue(value) {
		t.Fatalf("CreateToken() = %q, not a 64-char lowercase hex token", value)
	}
}

func TestReuseIdempotence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateToken(ctx, ordersRequest())
	if err != nil {
		t.Fatalf("first CreateToken: %v", err)
	}

	req := ordersRequest()
	req.Payload = map[string]any{"orders": []any{"o-1", "o-2"}}
	second, err := svc.CreateToken(ctx, req)
	if err != nil {
		t.Fatalf("second CreateToken: %v", err)
	}

	if first != second {
		t.Fatalf("reuse minted a new token: %q != %q", first, second)
	}

	// The refreshed payload rides on the original token.
	v := svc.ValidateToken(ctx, first, ValidateOptions{})
	if !v.Valid {
		t.Fatalf("reused token invalid: %+v", v)
	}
	items, ok := v.Payload["orders"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("payload not refreshed on reuse: %v", v.Payload)
	}

	stats, err := svc.GetTokenStats(ctx, "ws-1")
	if err != nil {
		t.Fatalf("GetTokenStats: %v", err)
	}
	if stats[TypeOrders] != 1 {
		t.Fatalf("expected exactly one live orders token, got %d", stats[TypeOrders])
	}
}

func TestTypeScopesAreIndependent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ordersToken, err := svc.CreateToken(ctx, ordersRequest())
	if err != nil {
		t.Fatalf("orders CreateToken: %v", err)
	}

	profileReq := ordersRequest()
	profileReq.Type = TypeProfile
	profileToken, err := svc.CreateToken(ctx, profileReq)
	if err != nil {
		t.Fatalf("profile CreateToken: %v", err)
	}

	if ordersToken == profileToken {
		t.Fatal("orders and profile tokens for the same customer must be distinct")
	}

	stats, err := svc.GetTokenStats(ctx, "ws-1")
	if err != nil {
		t.Fatalf("GetTokenStats: %v", err)
	}
	if stats[TypeOrders] != 1 || stats[TypeProfile] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestWorkspaceIsolation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	value, err := svc.CreateToken(ctx, ordersRequest())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	if v := svc.ValidateToken(ctx, value, ValidateOptions{WorkspaceID: "ws-1"}); !v.Valid {
		t.Fatalf("own workspace rejected: %+v", v)
	}

	v := svc.ValidateToken(ctx, value, ValidateOptions{WorkspaceID: "ws-2"})
	if v.Valid {
		t.Fatal("foreign workspace accepted the token")
	}
	if v.Reason != ReasonWorkspaceMismatch {
		t.Fatalf("reason = %q, want %q", v.Reason, ReasonWorkspaceMismatch)
	}
	if v.Data != nil || v.Payload != nil {
		t.Fatalf("failed validation leaked record data: %+v", v)
	}
}

func TestExpiryMonotonicity(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	value, err := svc.CreateToken(ctx, ordersRequest())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	clock.Advance(59 * time.Minute)
	if v := svc.ValidateToken(ctx, value, ValidateOptions{}); !v.Valid {
		t.Fatalf("token expired early: %+v", v)
	}

	clock.Advance(2 * time.Minute)
	v := svc.ValidateToken(ctx, value, ValidateOptions{})
	if v.Valid {
		t.Fatal("token still valid past its ttl")
	}
	if v.Reason != ReasonExpired {
		t.Fatalf("reason = %q, want %q", v.Reason, ReasonExpired)
	}

	// A fresh create for the same scope now rotates instead of reusing.
	rotated, err := svc.CreateToken(ctx, ordersRequest())
	if err != nil {
		t.Fatalf("rotate CreateToken: %v", err)
	}
	if rotated == value {
		t.Fatal("expired token was reused")
	}
}

func TestRevokeFinality(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	value, err := svc.CreateToken(ctx, ordersRequest())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	if !svc.RevokeToken(ctx, value) {
		t.Fatal("revoke of a live token failed")
	}
	if v := svc.ValidateToken(ctx, value, ValidateOptions{}); v.Valid {
		t.Fatal("revoked token validated")
	}

	// Expiry is one-directional.
	clock.Advance(24 * time.Hour)
	if v := svc.ValidateToken(ctx, value, ValidateOptions{}); v.Valid {
		t.Fatal("revoked token came back to life")
	}

	// Idempotent for an existing record, false for an unknown one.
	if !svc.RevokeToken(ctx, value) {
		t.Fatal("second revoke of an existing record should succeed")
	}
	unknown := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	if svc.RevokeToken(ctx, unknown) {
		t.Fatal("revoke of an unknown token reported success")
	}
}

func TestCleanupRetentionBoundary(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	old, err := svc.CreateToken(ctx, ordersRequest())
	if err != nil {
		t.Fatalf("old CreateToken: %v", err)
	}

	// Ten days on: the first token has been expired for well past the
	// retention window. Mint a second one that expires only an hour from
	// its creation so it is freshly expired at cleanup time.
	clock.Advance(10 * 24 * time.Hour)
	recentReq := ordersRequest()
	recentReq.CustomerID = "cust-2"
	recent, err := svc.CreateToken(ctx, recentReq)
	if err != nil {
		t.Fatalf("recent CreateToken: %v", err)
	}
	clock.Advance(2 * time.Hour)

	deleted, err := svc.CleanupExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredTokens: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if v := svc.ValidateToken(ctx, old, ValidateOptions{}); v.Reason != ReasonNotFound {
		t.Fatalf("old record should be gone, reason = %q", v.Reason)
	}
	// The freshly expired record stays inside the audit window.
	if v := svc.ValidateToken(ctx, recent, ValidateOptions{}); v.Reason != ReasonExpired {
		t.Fatalf("recent record should be retained but expired, reason = %q", v.Reason)
	}
}

func TestRegistrationDedupByPhone(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	reg := IssueRequest{
		Type:        TypeRegistration,
		WorkspaceID: "ws-1",
		PhoneNumber: "+4915112345678",
		Payload:     map[string]any{"step": "name"},
		TTL:         "24h",
	}

	first, err := svc.CreateToken(ctx, reg)
	if err != nil {
		t.Fatalf("first registration CreateToken: %v", err)
	}
	second, err := svc.CreateToken(ctx, reg)
	if err != nil {
		t.Fatalf("second registration CreateToken: %v", err)
	}
	if first != second {
		t.Fatal("same phone and workspace must reuse the registration token")
	}

	other := reg
	other.PhoneNumber = "+4915198765432"
	third, err := svc.CreateToken(ctx, other)
	if err != nil {
		t.Fatalf("other phone CreateToken: %v", err)
	}
	if third == first {
		t.Fatal("different phones must get distinct registration tokens")
	}

	v := svc.ValidateToken(ctx, first, ValidateOptions{WorkspaceID: "ws-1"})
	if !v.Valid {
		t.Fatalf("registration token invalid: %+v", v)
	}
	if v.Data.CustomerID != "" {
		t.Fatalf("registration token should carry no customer id, got %q", v.Data.CustomerID)
	}
	if v.Data.PhoneNumber != reg.PhoneNumber {
		t.Fatalf("phone number = %q, want %q", v.Data.PhoneNumber, reg.PhoneNumber)
	}
}

type failingStore struct{}

func (failingStore) Upsert(context.Context, Record, time.Time) (Record, bool, error) {
	return Record{}, false, errors.New("connection refused")
}
func (failingStore) GetByToken(context.Context, string) (Record, error) {
	return Record{}, errors.New("connection refused")
}
func (failingStore) Revoke(context.Context, string, time.Time) error {
	return errors.New("connection refused")
}
func (failingStore) DeleteExpiredBefore(context.Context, time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}
func (failingStore) CountLiveByType(context.Context, string, time.Time) (map[TokenType]int, error) {
	return nil, errors.New("connection refused")
}

func TestFailurePropagationPolicy(t *testing.T) {
	svc, err := NewService(failingStore{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	// Issuer and lifecycle manager fail loud.
	if _, err := svc.CreateToken(ctx, ordersRequest()); err == nil {
		t.Fatal("CreateToken swallowed a store failure")
	}
	if _, err := svc.CleanupExpiredTokens(ctx); err == nil {
		t.Fatal("CleanupExpiredTokens swallowed a store failure")
	}
	if _, err := svc.GetTokenStats(ctx, "ws-1"); err == nil {
		t.Fatal("GetTokenStats swallowed a store failure")
	}

	// The validator and revoke sit on boundaries that must not throw.
	v := svc.ValidateToken(ctx, "deadbeef", ValidateOptions{})
	if v.Valid || v.Reason != ReasonStoreError {
		t.Fatalf("validation on store failure = %+v, want invalid/store_error", v)
	}
	if svc.RevokeToken(ctx, "deadbeef") {
		t.Fatal("RevokeToken reported success on store failure")
	}
}

func TestSealedPayloadEndToEnd(t *testing.T) {
	sealer, err := NewSealer(testSealKey)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	store := NewMemoryStore()
	svc, err := NewService(store, WithSealer(sealer))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	value, err := svc.CreateToken(ctx, ordersRequest())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	// At rest the payload is ciphertext.
	rec, err := store.GetByToken(ctx, value)
	if err != nil {
		t.Fatalf("GetByToken: %v", err)
	}
	if _, sealed := rec.Payload[sealedField]; !sealed {
		t.Fatalf("stored payload is not sealed: %v", rec.Payload)
	}

	// Consumers still see clear JSON.
	v := svc.ValidateToken(ctx, value, ValidateOptions{})
	if !v.Valid {
		t.Fatalf("sealed token invalid: %+v", v)
	}
	if _, leaked := v.Payload[sealedField]; leaked {
		t.Fatalf("validation returned ciphertext: %v", v.Payload)
	}
	if v.Payload["orders"] == nil {
		t.Fatalf("payload lost in sealing round trip: %v", v.Payload)
	}

	// A service without the key degrades to invalid instead of erroring.
	blind, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService without key: %v", err)
	}
	bv := blind.ValidateToken(ctx, value, ValidateOptions{})
	if bv.Valid || bv.Reason != ReasonStoreError {
		t.Fatalf("keyless validation = %+v, want invalid/store_error", bv)
	}
}

func TestMarkTokenUsedIsANoop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	value, err := svc.CreateToken(ctx, ordersRequest())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	if err := svc.MarkTokenUsed(ctx, value); err != nil {
		t.Fatalf("MarkTokenUsed: %v", err)
	}
	// Multi-use until expiry: marking changes nothing.
	for i := 0; i < 3; i++ {
		if v := svc.ValidateToken(ctx, value, ValidateOptions{}); !v.Valid {
			t.Fatalf("validation %d after MarkTokenUsed failed: %+v", i, v)
		}
	}
}

func TestConcurrentIssuanceSingleLiveToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const parallel = 16
	values := make([]string, parallel)
	var wg sync.WaitGroup
	wg.Add(parallel)
	for i := 0; i < parallel; i++ {
		idx := i
		go func() {
			defer wg.Done()
			value, err := svc.CreateToken(ctx, ordersRequest())
			if err != nil {
				t.Errorf("concurrent CreateToken: %v", err)
				return
			}
			values[idx] = value
		}()
	}
	wg.Wait()

	for _, value := range values[1:] {
		if value != values[0] {
			t.Fatalf("concurrent issuance produced divergent tokens: %q != %q", value, values[0])
		}
	}

	stats, err := svc.GetTokenStats(ctx, "ws-1")
	if err != nil {
		t.Fatalf("GetTokenStats: %v", err)
	}
	if stats[TypeOrders] != 1 {
		t.Fatalf("live orders tokens = %d, want 1", stats[TypeOrders])
	}
}

func TestScenarioEndToEnd(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req := IssueRequest{
		Type:        TypeOrders,
		WorkspaceID: "W1",
		CustomerID:  "C1",
		Payload:     map[string]any{"orders": []any{"o-7"}},
		TTL:         "1h",
	}

	tokenA, err := svc.CreateToken(ctx, req)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if !IsTokenValue(tokenA) {
		t.Fatalf("token %q is not 64 hex chars", tokenA)
	}

	if v := svc.ValidateToken(ctx, tokenA, ValidateOptions{WorkspaceID: "W1"}); !v.Valid {
		t.Fatalf("validate in W1 failed: %+v", v)
	}
	if v := svc.ValidateToken(ctx, tokenA, ValidateOptions{WorkspaceID: "W2"}); v.Valid {
		t.Fatal("validate in W2 must fail")
	}

	again, err := svc.CreateToken(ctx, req)
	if err != nil {
		t.Fatalf("second CreateToken: %v", err)
	}
	if again != tokenA {
		t.Fatalf("reuse returned %q, want %q", again, tokenA)
	}

	stats, err := svc.GetTokenStats(ctx, "W1")
	if err != nil {
		t.Fatalf("GetTokenStats: %v", err)
	}
	if stats[TypeOrders] < 1 {
		t.Fatalf("stats.orders = %d, want >= 1", stats[TypeOrders])
	}
}
