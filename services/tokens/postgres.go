package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatcart/pkg/db"
)

// PostgresStore persists token records in the secure_tokens table. The
// reuse-or-create step is a single INSERT ... ON CONFLICT statement against a
// partial unique index on the dedup key, so concurrent issuance for the same
// scope serializes inside Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

type tokenRow struct {
	ID          string     `db:"id"`
	Token       string     `db:"token"`
	Type        string     `db:"type"`
	WorkspaceID string     `db:"workspace_id"`
	CustomerID  *string    `db:"customer_id"`
	UserID      *string    `db:"user_id"`
	PhoneNumber *string    `db:"phone_number"`
	IPAddress   *string    `db:"ip_address"`
	Payload     []byte     `db:"payload"`
	ExpiresAt   time.Time  `db:"expires_at"`
	UsedAt      *time.Time `db:"used_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

const tokenColumns = `id, token, type, workspace_id, customer_id, user_id, phone_number, ip_address, payload, expires_at, used_at, created_at, updated_at`

func (r tokenRow) toRecord() (Record, error) {
	rec := Record{
		Token:       r.Token,
		Type:        TokenType(r.Type),
		WorkspaceID: r.WorkspaceID,
		CustomerID:  deref(r.CustomerID),
		UserID:      deref(r.UserID),
		PhoneNumber: deref(r.PhoneNumber),
		IPAddress:   deref(r.IPAddress),
		ExpiresAt:   r.ExpiresAt,
		UsedAt:      r.UsedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return Record{}, fmt.Errorf("decode record id: %w", err)
	}
	rec.ID = id
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &rec.Payload); err != nil {
			return Record{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	return rec, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Customer tokens conflict on the customer-scope index, registration tokens
// (customer_id IS NULL) on the phone-scope index. A live loser keeps its
// token and expiry and only has payload and attribution refreshed; a stale
// loser is rotated in place, which also covers the issuer's stale-record
// housekeeping.
const upsertQuery = `
    INSERT INTO secure_tokens (%s)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, NULL, $11, $11)
    ON CONFLICT (workspace_id, %s, type) WHERE customer_id IS %s NULL
    DO UPDATE SET
        token       = CASE WHEN secure_tokens.expires_at > $11 THEN secure_tokens.token ELSE EXCLUDED.token END,
        expires_at  = CASE WHEN secure_tokens.expires_at > $11 THEN secure_tokens.expires_at ELSE EXCLUDED.expires_at END,
        created_at  = CASE WHEN secure_tokens.expires_at > $11 THEN secure_tokens.created_at ELSE EXCLUDED.created_at END,
        used_at     = CASE WHEN secure_tokens.expires_at > $11 THEN secure_tokens.used_at ELSE NULL END,
        payload     = EXCLUDED.payload,
        user_id     = EXCLUDED.user_id,
        phone_number = EXCLUDED.phone_number,
        ip_address  = EXCLUDED.ip_address,
        updated_at  = EXCLUDED.updated_at
    RETURNING %s;
`

func (s *PostgresStore) Upsert(ctx context.Context, candidate Record, now time.Time) (Record, bool, error) {
	payload, err := json.Marshal(orEmpty(candidate.Payload))
	if err != nil {
		return Record{}, false, fmt.Errorf("marshal payload: %w", err)
	}

	conflictCol, nullPredicate := "customer_id", "NOT"
	if candidate.CustomerID == "" {
		conflictCol, nullPredicate = "phone_number", ""
	}
	query := fmt.Sprintf(upsertQuery, tokenColumns, conflictCol, nullPredicate, tokenColumns)

	var row tokenRow
	err = db.Get(ctx, s.pool, &row, query,
		candidate.ID.String(),
		candidate.Token,
		string(candidate.Type),
		candidate.WorkspaceID,
		nullable(candidate.CustomerID),
		nullable(candidate.UserID),
		nullable(candidate.PhoneNumber),
		nullable(candidate.IPAddress),
		string(payload),
		candidate.ExpiresAt,
		now,
	)
	if err != nil {
		return Record{}, false, fmt.Errorf("upsert token: %w", err)
	}

	rec, err := row.toRecord()
	if err != nil {
		return Record{}, false, err
	}
	return rec, rec.Token == candidate.Token, nil
}

func (s *PostgresStore) GetByToken(ctx context.Context, token string) (Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM secure_tokens WHERE token = $1`, tokenColumns)

	var row tokenRow
	if err := db.Get(ctx, s.pool, &row, query, token); err != nil {
		if pgxscan.NotFound(err) {
			return Record{}, ErrTokenNotFound
		}
		return Record{}, fmt.Errorf("get token: %w", err)
	}
	return row.toRecord()
}

func (s *PostgresStore) Revoke(ctx context.Context, token string, now time.Time) error {
	tag, err := db.Exec(ctx, s.pool,
		`UPDATE secure_tokens SET expires_at = $2, updated_at = $2 WHERE token = $1 AND expires_at > $2`,
		token, now)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing live matched: distinguish an already-expired record, which
	// revoke treats as done, from an absent token.
	var exists bool
	if err := db.Get(ctx, s.pool, &exists,
		`SELECT EXISTS (SELECT 1 FROM secure_tokens WHERE token = $1)`, token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if !exists {
		return ErrTokenNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Exec(ctx, s.pool,
		`DELETE FROM secure_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountLiveByType(ctx context.Context, workspaceID string, now time.Time) (map[TokenType]int, error) {
	var rows []struct {
		Type  string `db:"type"`
		Count int    `db:"count"`
	}
	err := db.Select(ctx, s.pool, &rows,
		`SELECT type, COUNT(*) AS count
         FROM secure_tokens
         WHERE workspace_id = $1 AND expires_at > $2
         GROUP BY type`,
		workspaceID, now)
	if err != nil {
		return nil, fmt.Errorf("count live tokens: %w", err)
	}

	counts := make(map[TokenType]int, len(rows))
	for _, r := range rows {
		counts[TokenType(r.Type)] = r.Count
	}
	return counts, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
