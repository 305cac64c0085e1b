package tokens

import (
	"context"
	"time"
)

// Store is the persistence boundary for token records. Implementations must
// make Upsert atomic per dedup key: two concurrent upserts for the same scope
// may never leave two live records behind.
//
// The dedup key is (workspace_id, customer_id, type) for customer tokens and
// (workspace_id, phone_number, type) for registration tokens, which are the
// only records stored without a customer id.
type Store interface {
	// Upsert applies the reuse-or-create policy for candidate's dedup key
	// and returns the winning record. A live record for the key wins: its
	// token and expiry are kept and only payload and attribution columns
	// are refreshed from candidate. Otherwise candidate replaces whatever
	// stale record the key had. created reports whether candidate's token
	// is the one that survived.
	Upsert(ctx context.Context, candidate Record, now time.Time) (rec Record, created bool, err error)

	// GetByToken fetches a record by its exact token value, expired or
	// not. Absent tokens return ErrTokenNotFound.
	GetByToken(ctx context.Context, token string) (Record, error)

	// Revoke force-expires the record by setting expires_at to now.
	// Revoking an already expired record is a no-op; an absent token
	// returns ErrTokenNotFound.
	Revoke(ctx context.Context, token string, now time.Time) error

	// DeleteExpiredBefore removes records whose expiry predates cutoff and
	// returns how many were deleted.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CountLiveByType counts live records per type within a workspace.
	CountLiveByType(ctx context.Context, workspaceID string, now time.Time) (map[TokenType]int, error)
}
