// profile.go

// OAuth provisioning and deferred profile completion.
//
// An OAuth-originated user moves through three states: provisioned (user row with a
// placeholder password and is_profile_complete=false), awaiting completion (holds a
// pending token) and complete (chose a username and password). Only complete users
// can log in with a password.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wenclerfic/wenclerfic/internal/metrics"
	"github.com/wenclerfic/wenclerfic/internal/oauth"
	"github.com/wenclerfic/wenclerfic/internal/store"
)

// DefaultPendingTTL applies when ProfileFlow.PendingTTL is zero.
const DefaultPendingTTL = 15 * time.Minute

const (
	maxUsernameBase = 24
	// createAttempts bounds retries when a generated username is claimed between
	// the existence check and the insert.
	createAttempts = 5
)

// PendingMeta is what a client needs to render the finish-signup form.
type PendingMeta struct {
	Email             string  `json:"email"`
	Avatar            *string `json:"avatar"`
	SuggestedUsername string  `json:"suggestedUsername"`
}

// ProvisionResult is either a ready session or a pending completion token.
type ProvisionResult struct {
	User    *store.User
	Session *IssuedSession

	PendingToken     string
	PendingExpiresAt time.Time
	Meta             PendingMeta
}

// ProfileRequired reports whether the client must finish signup first.
func (r *ProvisionResult) ProfileRequired() bool { return r.Session == nil }

// CompleteResult is the outcome of a successful completion.
type CompleteResult struct {
	User    *store.User
	Session *IssuedSession
}

// ProfileFlow drives provisioning and completion.
type ProfileFlow struct {
	Store    ProfileStore
	Sessions *SessionManager
	Hasher   Hasher

	PendingTTL time.Duration
	Now        func() time.Time
}

func (f *ProfileFlow) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *ProfileFlow) pendingTTL() time.Duration {
	if f.PendingTTL > 0 {
		return f.PendingTTL
	}
	return DefaultPendingTTL
}

// Provision handles a verified identity returned by provider.
func (f *ProfileFlow) Provision(ctx context.Context, provider string, id *oauth.Claims) (*ProvisionResult, error) {
	email := strings.ToLower(strings.TrimSpace(id.Email))
	if email == "" {
		return nil, NewError(ErrInvalidInput, "identity provider returned no email")
	}

	user, err := f.Store.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		user, err = f.createOAuthUser(ctx, provider, email, id)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("looking up user by email: %w", err)
	}

	if user.IsProfileComplete {
		sess, err := f.Sessions.Create(ctx, user.ID, true)
		if err != nil {
			return nil, err
		}
		return &ProvisionResult{User: user, Session: sess}, nil
	}

	return f.mintPending(ctx, provider, user)
}

// createOAuthUser inserts a provisioned user. A concurrent insert for the same email
// resolves to the row that won.
func (f *ProfileFlow) createOAuthUser(ctx context.Context, provider, email string, id *oauth.Claims) (*store.User, error) {
	placeholder, err := GeneratePlaceholder()
	if err != nil {
		return nil, err
	}

	var avatar *string
	if id.Picture != "" {
		avatar = &id.Picture
	}
	prov := provider
	seed := UsernameSeed(id)

	for range createAttempts {
		username, err := f.GenerateUsername(ctx, seed)
		if err != nil {
			return nil, err
		}
		u := &store.User{
			Username:          username,
			Email:             email,
			PasswordHash:      placeholder,
			AvatarURL:         avatar,
			Provider:          &prov,
			IsProfileComplete: false,
		}
		err = f.Store.CreateUser(ctx, u)
		switch {
		case err == nil:
			slog.Info("provisioned oauth user", "user_id", u.ID, "provider", provider)
			return u, nil
		case errors.Is(err, store.ErrDuplicateEmail):
			existing, gerr := f.Store.GetUserByEmail(ctx, email)
			if gerr != nil {
				return nil, fmt.Errorf("re-reading user after email race: %w", gerr)
			}
			return existing, nil
		case errors.Is(err, store.ErrDuplicateUsername):
			continue
		default:
			return nil, fmt.Errorf("creating oauth user: %w", err)
		}
	}
	return nil, fmt.Errorf("creating oauth user: username still taken after %d attempts", createAttempts)
}

// mintPending issues a pending token for user, superseding any earlier one.
func (f *ProfileFlow) mintPending(ctx context.Context, provider string, user *store.User) (*ProvisionResult, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	meta := PendingMeta{Email: user.Email, Avatar: user.AvatarURL, SuggestedUsername: user.Username}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding pending meta: %w", err)
	}

	p := &store.PendingProfile{
		UserID:    user.ID,
		TokenHash: hash,
		Provider:  provider,
		Meta:      raw,
		ExpiresAt: f.now().Add(f.pendingTTL()),
	}
	if err := f.Store.ReplacePendingProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("creating pending profile: %w", err)
	}

	return &ProvisionResult{User: user, PendingToken: token, PendingExpiresAt: p.ExpiresAt, Meta: meta}, nil
}

// UsernameSeed picks the first identity field that yields a usable username base.
func UsernameSeed(id *oauth.Claims) string {
	local, _, _ := strings.Cut(id.Email, "@")
	candidates := []string{
		id.Name,
		strings.TrimSpace(id.GivenName + "_" + id.FamilyName),
		local,
	}
	for _, c := range candidates {
		if sanitizeUsername(c) != "" {
			return c
		}
	}
	return "reader"
}

// sanitizeUsername lowercases, maps anything outside [a-z0-9_] to '_', collapses
// runs of '_', trims them from both ends and caps the length.
func sanitizeUsername(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > maxUsernameBase {
		out = strings.TrimRight(out[:maxUsernameBase], "_")
	}
	return out
}

// GenerateUsername returns a username derived from seed that is free at call time.
// Collisions get _1, _2, ... appended; the counter strictly increases so the loop
// ends once the store runs out of matching names.
func (f *ProfileFlow) GenerateUsername(ctx context.Context, seed string) (string, error) {
	base := sanitizeUsername(seed)
	if len(base) < 3 {
		base = fmt.Sprintf("reader_%d", f.now().Unix())
	}

	candidate := base
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		_, err := f.Store.GetUserByUsername(ctx, candidate)
		if errors.Is(err, pgx.ErrNoRows) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking username %q: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s_%d", base, n)
	}
}

// Complete redeems a pending token. Checks run in order: required fields, token
// exists, token unexpired, username free, then the atomic consume. A token is
// redeemable at most once.
func (f *ProfileFlow) Complete(ctx context.Context, token, username, password string) (*CompleteResult, error) {
	res, err := f.complete(ctx, token, username, password)
	switch {
	case err == nil:
		metrics.ProfileCompletion("ok")
	case errors.Is(err, ErrExpired):
		metrics.ProfileCompletion("expired")
	case errors.Is(err, ErrNotFound):
		metrics.ProfileCompletion("not_found")
	case errors.Is(err, ErrConflict):
		metrics.ProfileCompletion("conflict")
	case errors.Is(err, ErrInvalidInput):
		metrics.ProfileCompletion("invalid")
	default:
		metrics.ProfileCompletion("error")
	}
	return res, err
}

func (f *ProfileFlow) complete(ctx context.Context, token, username, password string) (*CompleteResult, error) {
	username = strings.TrimSpace(username)
	if token == "" || username == "" || password == "" {
		return nil, NewError(ErrInvalidInput, "token, username and password are required")
	}

	hash, ok := HashToken(token)
	if !ok {
		return nil, NewError(ErrNotFound, "pending profile not found")
	}

	pending, err := f.Store.GetPendingProfileByTokenHash(ctx, hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewError(ErrNotFound, "pending profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("looking up pending profile: %w", err)
	}

	if !f.now().Before(pending.ExpiresAt) {
		f.discard(ctx, hash)
		return nil, NewError(ErrExpired, "pending profile expired, sign in again")
	}

	user, err := f.Store.GetUserByID(ctx, pending.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		f.discard(ctx, hash)
		return nil, NewError(ErrNotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("loading pending user: %w", err)
	}

	// A complete user's token was either redeemed by a concurrent request or is
	// stale; either way it must not yield a second session.
	if user.IsProfileComplete {
		f.discard(ctx, hash)
		return nil, NewError(ErrNotFound, "pending profile not found")
	}

	if msg := ValidateUsername(username); msg != "" {
		return nil, NewError(ErrInvalidInput, msg)
	}
	if msg := ValidatePassword(password); msg != "" {
		return nil, NewError(ErrInvalidInput, msg)
	}

	holder, err := f.Store.GetUserByUsername(ctx, username)
	switch {
	case err == nil && holder.ID != user.ID:
		return nil, NewError(ErrConflict, "username already taken")
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("checking username: %w", err)
	}

	passwordHash, err := f.Hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	completed, err := f.Store.CompletePendingProfile(ctx, hash, username, passwordHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Another request consumed the token first.
		return nil, NewError(ErrNotFound, "pending profile not found")
	case errors.Is(err, store.ErrUniqueViolation):
		return nil, NewError(ErrConflict, "username already taken")
	case err != nil:
		return nil, fmt.Errorf("completing profile: %w", err)
	}

	sess, err := f.Sessions.Create(ctx, completed.ID, true)
	if err != nil {
		return nil, err
	}
	slog.Info("profile completed", "user_id", completed.ID, "provider", pending.Provider)
	return &CompleteResult{User: completed, Session: sess}, nil
}

// discard deletes a pending token that can no longer be redeemed.
func (f *ProfileFlow) discard(ctx context.Context, hash []byte) {
	if err := f.Store.DeletePendingProfile(ctx, hash); err != nil {
		slog.Warn("failed to delete pending profile", "error", err)
	}
}
