// password.go

// Password hashing, verification, legacy migration and input validation.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argonSaltLen = 16
	argonKeyLen  = uint32(32)

	// placeholderPrefix marks an OAuth-provisioned account that has no usable password yet.
	// Hash outputs always start with '$', so a placeholder can never be mistaken for one.
	placeholderPrefix = "__OAUTH_PENDING__"
)

// PasswordUpdater persists a re-hashed password. Satisfied by *store.PostgresStore.
type PasswordUpdater interface {
	// SwapPasswordHash writes newHash only while the stored value still equals oldHash.
	SwapPasswordHash(ctx context.Context, userID int64, oldHash, newHash string) (bool, error)
}

// Hasher produces and checks password hashes.
//
//	Time, MemoryKiB and Threads are the Argon2id cost for new hashes; existing hashes
//	verify with the params encoded in them, so raising cost never locks anyone out.
//	AllowLegacyPlaintext enables the comparison path for rows written before hashing existed.
type Hasher struct {
	Time                 uint32
	MemoryKiB            uint32
	Threads              uint8
	AllowLegacyPlaintext bool
}

// DefaultHasher returns t=3, m=64 MiB, p=2 with legacy plaintext accepted.
func DefaultHasher() Hasher {
	return Hasher{Time: 3, MemoryKiB: 64 * 1024, Threads: 2, AllowLegacyPlaintext: true}
}

// Hash returns PHC-formatted Argon2id hash of plaintext password.
// Format: $argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 hash>
func (h Hasher) Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.Time, h.MemoryKiB, h.Threads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.MemoryKiB, h.Time, h.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches stored. Never errors: a malformed or
// unusable stored value is simply a non-match.
func (h Hasher) Verify(password, stored string) bool {
	switch {
	case stored == "" || IsPlaceholder(stored):
		return false
	case strings.HasPrefix(stored, "$argon2id$"):
		ok, err := verifyArgon2id(password, stored)
		if err != nil {
			slog.Warn("malformed argon2id hash", "error", err)
			return false
		}
		return ok
	case isBcrypt(stored):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	case h.AllowLegacyPlaintext:
		return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
	default:
		return false
	}
}

// NeedsRehash reports whether stored is a real credential not yet in Argon2id form.
func NeedsRehash(stored string) bool {
	return stored != "" && !IsPlaceholder(stored) && !strings.HasPrefix(stored, "$argon2id$")
}

// MigrateIfNeeded rewrites a legacy bcrypt or plaintext credential as Argon2id.
// Call only after Verify succeeded with the same password. The write is skipped
// if the credential changed since stored was read.
func (h Hasher) MigrateIfNeeded(ctx context.Context, users PasswordUpdater, userID int64, password, stored string) error {
	if !NeedsRehash(stored) {
		return nil
	}
	hash, err := h.Hash(password)
	if err != nil {
		return err
	}
	if _, err := users.SwapPasswordHash(ctx, userID, stored, hash); err != nil {
		return fmt.Errorf("persisting migrated hash: %w", err)
	}
	return nil
}

// GeneratePlaceholder returns a fresh unusable password value for OAuth-provisioned users.
func GeneratePlaceholder() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating placeholder: %w", err)
	}
	return placeholderPrefix + hex.EncodeToString(b), nil
}

// IsPlaceholder reports whether v came from GeneratePlaceholder.
func IsPlaceholder(v string) bool {
	return strings.HasPrefix(v, placeholderPrefix)
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// verifyArgon2id checks password against a PHC string, using the params stored in it.
// Constant-time comparison of the derived key.
func verifyArgon2id(password, encodedHash string) (bool, error) {
	// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parsing hash version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("parsing hash params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decoding hash: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// ValidateEmail checks format and length constraints; returns error message or empty string.
// RFC 5321: min ~5 chars (a@b.c), max 254.
func ValidateEmail(email string) string {
	if email == "" {
		return "No email provided"
	}
	if len(email) < 5 {
		return "Email too short!"
	}
	if len(email) > 254 {
		return "Email too long!"
	}
	if _, err := netmail.ParseAddress(email); err != nil {
		return "Invalid email format"
	}
	return ""
}

// ValidatePassword checks length constraints; returns error message or empty string.
// Min 6 runes, max 128 bytes (Argon2id DoS guard).
func ValidatePassword(password string) string {
	if password == "" {
		return "No password provided!"
	}
	if utf8.RuneCountInString(password) < 6 {
		return "Password too short!"
	}
	if len(password) > 128 {
		return "Password too long!"
	}
	return ""
}

// ValidateUsername checks 3..32 runes of letters, digits, '_', '.', '-'.
func ValidateUsername(username string) string {
	if username == "" {
		return "No username provided"
	}
	n := utf8.RuneCountInString(username)
	if n < 3 {
		return "Username too short!"
	}
	if n > 32 {
		return "Username too long!"
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' && r != '-' {
			return "Username may only contain letters, digits, '_', '.' and '-'"
		}
	}
	return ""
}

// PasswordPolicy defines optional complexity rules applied on top of ValidatePassword.
//
//	MinLength and MaxLength are rune counts; 0 skips the check.
//	RequireUppercase, RequireDigit and RequireSpecial each gate a character-class check.
//	The zero value is fully permissive.
type PasswordPolicy struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireDigit     bool
	RequireSpecial   bool
}

// specialChars defines which characters satisfy the RequireSpecial rule.
const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Validate returns every failed rule as a human-readable message; empty means valid.
func (p PasswordPolicy) Validate(password string) []string {
	var failures []string

	if password == "" {
		failures = append(failures, "No password provided")
	}
	if p.MinLength > 0 && utf8.RuneCountInString(password) < p.MinLength {
		failures = append(failures, fmt.Sprintf("Password must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && utf8.RuneCountInString(password) > p.MaxLength {
		failures = append(failures, fmt.Sprintf("Password must be at most %d characters", p.MaxLength))
	}

	var seenUpper, seenDigit, seenSpecial bool
	for _, r := range password {
		if unicode.IsControl(r) {
			return []string{"Password contains invalid characters"}
		}
		switch {
		case unicode.IsUpper(r):
			seenUpper = true
		case unicode.IsDigit(r):
			seenDigit = true
		case strings.ContainsRune(specialChars, r):
			seenSpecial = true
		}
	}

	if p.RequireUppercase && !seenUpper {
		failures = append(failures, "Password must contain at least one uppercase letter")
	}
	if p.RequireDigit && !seenDigit {
		failures = append(failures, "Password must contain at least one digit")
	}
	if p.RequireSpecial && !seenSpecial {
		failures = append(failures, "Password must contain at least one special character")
	}
	return failures
}
