// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (cache layer).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrCacheMiss is returned by GetSession when the key is not in Redis.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// ErrCacheDisabled is returned by NoopSessionCache.CheckHealth when Redis is not configured.
var ErrCacheDisabled = errors.New("cache disabled")

// ErrUniqueViolation wraps every unique-constraint failure the store translates.
var ErrUniqueViolation = errors.New("unique violation")

// ErrDuplicateUsername and ErrDuplicateEmail identify which users constraint was hit.
// Both match ErrUniqueViolation under errors.Is.
var (
	ErrDuplicateUsername = fmt.Errorf("%w: username already taken", ErrUniqueViolation)
	ErrDuplicateEmail    = fmt.Errorf("%w: email already registered", ErrUniqueViolation)
)

// User represents a row in the users table.
// Nullable columns are pointers, nil means SQL NULL.
type User struct {
	ID                int64     `json:"id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"`
	AvatarURL         *string   `json:"avatar"`
	Provider          *string   `json:"provider"`
	IsProfileComplete bool      `json:"isProfileComplete"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// UserUpdate is a partial update; nil fields are left untouched.
type UserUpdate struct {
	Username          *string
	PasswordHash      *string
	AvatarURL         *string
	IsProfileComplete *bool
}

// Empty reports whether the update would change nothing.
func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.PasswordHash == nil && u.AvatarURL == nil && u.IsProfileComplete == nil
}

// Session represents a row in the sessions table.
type Session struct {
	ID        int64
	UserID    int64
	TokenHash []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CachedSession is the JSON shape stored in Redis for cached sessions.
// Only the fields needed for fast session validation, full metadata lives in Postgres.
type CachedSession struct {
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingProfile is a short-lived link between an OAuth-provisioned user and the
// profile completion step. Meta is an opaque JSON document owned by the caller.
type PendingProfile struct {
	ID        int64
	UserID    int64
	TokenHash []byte
	Provider  string
	Meta      json.RawMessage
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Author is the public projection of a user embedded in fic listings.
type Author struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Fic represents a row in the fics table, joined with its author's username.
type Fic struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	AuthorID    int64     `json:"authorId"`
	Author      Author    `json:"author"`
	Description string    `json:"description"`
	Genre       string    `json:"genre"`
	Rating      string    `json:"rating"`
	Tags        []string  `json:"tags"`
	Views       int       `json:"views"`
	Likes       int       `json:"likes"`
	Chapters    int       `json:"chapters"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FicUpdate is a partial update of a fic; nil fields are left untouched.
type FicUpdate struct {
	Title       *string
	Description *string
	Genre       *string
	Rating      *string
	Status      *string
	Tags        *[]string
}

// Fic list sort orders.
const (
	SortNewest  = "newest"
	SortPopular = "popular"
	SortViews   = "views"
	SortRating  = "rating"
)

// FicFilter narrows and orders ListFics. Empty Genre/Rating match everything.
type FicFilter struct {
	Genre  string
	Rating string
	Sort   string
	Limit  int
	Offset int
}

// Chapter represents a row in the chapters table.
type Chapter struct {
	ID        int64     `json:"id"`
	FicID     int64     `json:"ficId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Order     int       `json:"order"`
	Words     int       `json:"words"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChapterUpdate is a partial update of a chapter. Words must be set whenever Content is.
type ChapterUpdate struct {
	Title   *string
	Content *string
	Words   *int
}

// Comment represents a row in the comments table, joined with its author's username.
type Comment struct {
	ID        int64     `json:"id"`
	FicID     int64     `json:"ficId"`
	AuthorID  int64     `json:"authorId"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuthorStats aggregates an author's fics for the profile page.
type AuthorStats struct {
	FicsCount     int `json:"ficsCount"`
	TotalViews    int `json:"totalViews"`
	TotalLikes    int `json:"totalLikes"`
	TotalChapters int `json:"totalChapters"`
}

// UserAction represents a row in the user_actions table.
// TargetType and TargetID are nil for actions without a target (login, logout).
type UserAction struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"userId"`
	ActionType string          `json:"actionType"`
	TargetType *string         `json:"targetType,omitempty"`
	TargetID   *int64          `json:"targetId,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// RateLimit defines the policy for a rate-limited action.
// All three fields required, zero values disable the respective behaviour.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // rolling window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}
