// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and account/session queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE Postgres reports for unique constraint failures.
const pgUniqueViolation = "23505"

// userColumns is the canonical column list scanned by scanUser.
const userColumns = `id, username, email, password_hash, avatar_url, provider,
	is_profile_complete, created_at, updated_at`

// PostgresStore is the durable store backing users, sessions, pending profiles and content.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool, pings it and returns a ready-to-use store.
// Call once at startup from main.go, the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// translateErr maps unique violations on users to the store's sentinel errors.
// Every other error is returned unchanged.
func translateErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "users_username_key":
		return ErrDuplicateUsername
	case "users_email_key":
		return ErrDuplicateEmail
	}
	return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.AvatarURL, &u.Provider,
		&u.IsProfileComplete, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Users ---

// CreateUser inserts u and fills in its ID and timestamps.
// Returns ErrDuplicateUsername or ErrDuplicateEmail on unique violations.
func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, avatar_url, provider, is_profile_complete)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		u.Username, u.Email, u.PasswordHash, u.AvatarURL, u.Provider, u.IsProfileComplete,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return translateErr(err)
}

// GetUserByID returns pgx.ErrNoRows when no user has the given id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// GetUserByEmail returns pgx.ErrNoRows when no user has the given email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", email))
}

// GetUserByUsername returns pgx.ErrNoRows when no user has the given username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username))
}

// UpdateUser applies the non-nil fields of upd and returns the updated row.
// Column list is fixed; nil parameters fall through COALESCE to the current value.
func (s *PostgresStore) UpdateUser(ctx context.Context, id int64, upd UserUpdate) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET
			username = COALESCE($2, username),
			password_hash = COALESCE($3, password_hash),
			avatar_url = COALESCE($4, avatar_url),
			is_profile_complete = COALESCE($5, is_profile_complete),
			updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, upd.Username, upd.PasswordHash, upd.AvatarURL, upd.IsProfileComplete))
	if err != nil {
		return nil, translateErr(err)
	}
	return u, nil
}

// UpdatePasswordHash overwrites a user's stored hash. Used by password change.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1", userID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SwapPasswordHash sets the hash to newHash only while it still equals oldHash.
// Reports false when the row changed underneath (e.g. a password change raced a
// lazy rehash), leaving the newer credential in place.
func (s *PostgresStore) SwapPasswordHash(ctx context.Context, userID int64, oldHash, newHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET password_hash = $3, updated_at = now() WHERE id = $1 AND password_hash = $2",
		userID, oldHash, newHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// --- Sessions ---

// CreateSession stores the SHA-256 hash of a new session token.
func (s *PostgresStore) CreateSession(ctx context.Context, userID int64, tokenHash []byte, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO sessions (user_id, token_hash, expires_at) VALUES ($1, $2, $3)",
		userID, tokenHash, expiresAt)
	return translateErr(err)
}

// GetSessionByTokenHash returns the session row even when it has expired;
// expiry is the caller's decision. pgx.ErrNoRows when absent.
func (s *PostgresStore) GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, token_hash, expires_at, created_at
		 FROM sessions WHERE token_hash = $1`, tokenHash,
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes one session. Deleting a missing session is not an error.
func (s *PostgresStore) DeleteSession(ctx context.Context, tokenHash []byte) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE token_hash = $1", tokenHash)
	return err
}

// DeleteAllUserSessions removes every session owned by userID.
func (s *PostgresStore) DeleteAllUserSessions(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE user_id = $1", userID)
	return err
}

// CleanupExpiredSessions deletes sessions whose expiry has passed and returns the count.
func (s *PostgresStore) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= now()")
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Pending profiles ---

// ReplacePendingProfile stores p as the user's only pending profile. A prior row
// for p.UserID is overwritten in place (new token, meta and expiry), so its token
// stops resolving. The UNIQUE (user_id) constraint makes this safe under concurrency.
func (s *PostgresStore) ReplacePendingProfile(ctx context.Context, p *PendingProfile) error {
	meta := p.Meta
	if len(meta) == 0 {
		meta = []byte("{}")
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO pending_profiles (user_id, token_hash, provider, meta, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		 SET token_hash = EXCLUDED.token_hash,
		     provider   = EXCLUDED.provider,
		     meta       = EXCLUDED.meta,
		     expires_at = EXCLUDED.expires_at,
		     created_at = now()
		 RETURNING id, created_at`,
		p.UserID, p.TokenHash, p.Provider, string(meta), p.ExpiresAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting pending profile: %w", translateErr(err))
	}
	return nil
}

// GetPendingProfileByTokenHash returns the row even when expired. pgx.ErrNoRows when absent.
func (s *PostgresStore) GetPendingProfileByTokenHash(ctx context.Context, tokenHash []byte) (*PendingProfile, error) {
	var p PendingProfile
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, token_hash, provider, meta, expires_at, created_at
		 FROM pending_profiles WHERE token_hash = $1`, tokenHash,
	).Scan(&p.ID, &p.UserID, &p.TokenHash, &p.Provider, &p.Meta, &p.ExpiresAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePendingProfile removes a pending profile. Missing rows are not an error.
func (s *PostgresStore) DeletePendingProfile(ctx context.Context, tokenHash []byte) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM pending_profiles WHERE token_hash = $1", tokenHash)
	return err
}

// CompletePendingProfile consumes the pending token and sets the user's chosen
// username and password hash in one transaction.
// Returns pgx.ErrNoRows if the token was already consumed, ErrDuplicateUsername if
// the username is taken; in both cases nothing is changed.
func (s *PostgresStore) CompletePendingProfile(ctx context.Context, tokenHash []byte, username, passwordHash string) (*User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The DELETE row lock serializes concurrent completions of the same token;
	// the loser sees zero rows once the winner commits.
	var userID int64
	err = tx.QueryRow(ctx,
		"DELETE FROM pending_profiles WHERE token_hash = $1 RETURNING user_id", tokenHash,
	).Scan(&userID)
	if err != nil {
		return nil, err
	}

	u, err := scanUser(tx.QueryRow(ctx,
		`UPDATE users SET username = $2, password_hash = $3, is_profile_complete = TRUE, updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		userID, username, passwordHash))
	if err != nil {
		return nil, translateErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing profile completion: %w", err)
	}
	return u, nil
}

// CleanupExpiredPendingProfiles deletes expired pending profiles and returns the count.
func (s *PostgresStore) CleanupExpiredPendingProfiles(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM pending_profiles WHERE expires_at <= now()")
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- User actions ---

// LogAction appends an entry to user_actions.
func (s *PostgresStore) LogAction(ctx context.Context, a UserAction) error {
	var metadata any
	if len(a.Metadata) > 0 {
		metadata = string(a.Metadata)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_actions (user_id, action_type, target_type, target_id, metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.UserID, a.ActionType, a.TargetType, a.TargetID, metadata)
	return err
}

// ListUserActions returns the user's most recent actions, newest first.
func (s *PostgresStore) ListUserActions(ctx context.Context, userID int64, limit int) ([]UserAction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, action_type, target_type, target_id, metadata, created_at
		 FROM user_actions WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := []UserAction{}
	for rows.Next() {
		var a UserAction
		if err := rows.Scan(&a.ID, &a.UserID, &a.ActionType, &a.TargetType, &a.TargetID, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
