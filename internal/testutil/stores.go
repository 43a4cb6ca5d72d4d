// stores.go
//
// Shared in-memory implementations of the Postgres store and the Redis session cache.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wenclerfic/wenclerfic/internal/store"
)

// MockStore implements every store method the handlers use.
//
// Always stateful: records live in maps, like a real store, and absence is
// reported with pgx.ErrNoRows. Unique username and email are enforced with the
// same sentinel errors the Postgres store returns.
// Use *Err fields to inject errors for specific operations; zero value means no error.
type MockStore struct {
	CreateUserErr     error
	GetUserErr        error
	CreateSessionErr  error
	GetSessionErr     error
	DeleteSessionErr  error
	CompleteErr       error
	UpdatePasswordErr error
	LogActionErr      error
	HealthErr         error

	Users    map[int64]*store.User
	Sessions map[string]*store.Session        // keyed by string(tokenHash)
	Pending  map[string]*store.PendingProfile // keyed by string(tokenHash)
	Fics     map[int64]*store.Fic
	Chapters map[int64]*store.Chapter
	Comments map[int64]*store.Comment
	Actions  []store.UserAction

	// Now stamps created/updated times; defaults to time.Now.
	Now func() time.Time

	mu     sync.Mutex
	nextID int64
}

// NewMockStore returns an empty MockStore seeded with users. Seeded users keep
// their IDs; zero IDs are assigned.
func NewMockStore(users ...*store.User) *MockStore {
	m := &MockStore{
		Users:    make(map[int64]*store.User),
		Sessions: make(map[string]*store.Session),
		Pending:  make(map[string]*store.PendingProfile),
		Fics:     make(map[int64]*store.Fic),
		Chapters: make(map[int64]*store.Chapter),
		Comments: make(map[int64]*store.Comment),
	}
	for _, u := range users {
		if u.ID == 0 {
			m.nextID++
			u.ID = m.nextID
		}
		m.nextID = max(m.nextID, u.ID)
		m.Users[u.ID] = u
	}
	return m
}

func (m *MockStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

func copyUser(u *store.User) *store.User {
	c := *u
	return &c
}

func (m *MockStore) CheckHealth(context.Context) error { return m.HealthErr }

// --- Users ---

// uniqueLocked returns the duplicate error u would cause, ignoring the row with id self.
func (m *MockStore) uniqueLocked(username, email string, self int64) error {
	for _, other := range m.Users {
		if other.ID == self {
			continue
		}
		if other.Username == username {
			return store.ErrDuplicateUsername
		}
		if email != "" && other.Email == email {
			return store.ErrDuplicateEmail
		}
	}
	return nil
}

func (m *MockStore) CreateUser(_ context.Context, u *store.User) error {
	if m.CreateUserErr != nil {
		return m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.uniqueLocked(u.Username, u.Email, 0); err != nil {
		return err
	}
	u.ID = m.id()
	u.CreatedAt = m.now()
	u.UpdatedAt = u.CreatedAt
	m.Users[u.ID] = copyUser(u)
	return nil
}

func (m *MockStore) GetUserByID(_ context.Context, id int64) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyUser(u), nil
}

func (m *MockStore) findUser(match func(*store.User) bool) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if match(u) {
			return copyUser(u), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *MockStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	return m.findUser(func(u *store.User) bool { return strings.EqualFold(u.Email, email) })
}

func (m *MockStore) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	return m.findUser(func(u *store.User) bool { return u.Username == username })
}

func (m *MockStore) UpdateUser(_ context.Context, id int64, upd store.UserUpdate) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if upd.Username != nil {
		if err := m.uniqueLocked(*upd.Username, "", id); err != nil {
			return nil, err
		}
		u.Username = *upd.Username
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.AvatarURL != nil {
		u.AvatarURL = upd.AvatarURL
	}
	if upd.IsProfileComplete != nil {
		u.IsProfileComplete = *upd.IsProfileComplete
	}
	u.UpdatedAt = m.now()
	return copyUser(u), nil
}

func (m *MockStore) UpdatePasswordHash(_ context.Context, userID int64, hash string) error {
	if m.UpdatePasswordErr != nil {
		return m.UpdatePasswordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[userID]
	if !ok {
		return pgx.ErrNoRows
	}
	u.PasswordHash = hash
	return nil
}

func (m *MockStore) SwapPasswordHash(_ context.Context, userID int64, oldHash, newHash string) (bool, error) {
	if m.UpdatePasswordErr != nil {
		return false, m.UpdatePasswordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[userID]
	if !ok || u.PasswordHash != oldHash {
		return false, nil
	}
	u.PasswordHash = newHash
	return true, nil
}

// PasswordHash returns the stored credential for userID, for assertions.
func (m *MockStore) PasswordHash(userID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[userID]; ok {
		return u.PasswordHash
	}
	return ""
}

// --- Sessions ---

func (m *MockStore) CreateSession(_ context.Context, userID int64, tokenHash []byte, expiresAt time.Time) error {
	if m.CreateSessionErr != nil {
		return m.CreateSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.Sessions[string(tokenHash)]; dup {
		return store.ErrUniqueViolation
	}
	m.Sessions[string(tokenHash)] = &store.Session{
		ID:        m.id(),
		UserID:    userID,
		TokenHash: bytes.Clone(tokenHash),
		ExpiresAt: expiresAt,
		CreatedAt: m.now(),
	}
	return nil
}

func (m *MockStore) GetSessionByTokenHash(_ context.Context, tokenHash []byte) (*store.Session, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[string(tokenHash)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *s
	return &c, nil
}

func (m *MockStore) DeleteSession(_ context.Context, tokenHash []byte) error {
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, string(tokenHash))
	return nil
}

func (m *MockStore) DeleteAllUserSessions(_ context.Context, userID int64) error {
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.Sessions {
		if s.UserID == userID {
			delete(m.Sessions, k)
		}
	}
	return nil
}

func (m *MockStore) CleanupExpiredSessions(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := m.now()
	for k, s := range m.Sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.Sessions, k)
			n++
		}
	}
	return n, nil
}

// SessionCount returns the number of stored sessions for userID.
func (m *MockStore) SessionCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// --- Pending profiles ---

func (m *MockStore) ReplacePendingProfile(_ context.Context, p *store.PendingProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, old := range m.Pending {
		if old.UserID == p.UserID {
			delete(m.Pending, k)
		}
	}
	p.ID = m.id()
	p.CreatedAt = m.now()
	c := *p
	c.TokenHash = bytes.Clone(p.TokenHash)
	m.Pending[string(p.TokenHash)] = &c
	return nil
}

func (m *MockStore) GetPendingProfileByTokenHash(_ context.Context, tokenHash []byte) (*store.PendingProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Pending[string(tokenHash)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *p
	return &c, nil
}

func (m *MockStore) DeletePendingProfile(_ context.Context, tokenHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Pending, string(tokenHash))
	return nil
}

// CompletePendingProfile mirrors the Postgres transaction: the token is consumed and
// the user updated under one lock, and a username collision leaves both untouched.
func (m *MockStore) CompletePendingProfile(_ context.Context, tokenHash []byte, username, passwordHash string) (*store.User, error) {
	if m.CompleteErr != nil {
		return nil, m.CompleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Pending[string(tokenHash)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	u, ok := m.Users[p.UserID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if err := m.uniqueLocked(username, "", u.ID); err != nil {
		return nil, err
	}
	delete(m.Pending, string(tokenHash))
	u.Username = username
	u.PasswordHash = passwordHash
	u.IsProfileComplete = true
	u.UpdatedAt = m.now()
	return copyUser(u), nil
}

func (m *MockStore) CleanupExpiredPendingProfiles(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := m.now()
	for k, p := range m.Pending {
		if !now.Before(p.ExpiresAt) {
			delete(m.Pending, k)
			n++
		}
	}
	return n, nil
}

// PendingCount returns the number of stored pending profiles.
func (m *MockStore) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Pending)
}

// ExpirePending moves every pending profile's expiry into the past.
func (m *MockStore) ExpirePending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Pending {
		p.ExpiresAt = m.now().Add(-time.Second)
	}
}

// --- User actions ---

func (m *MockStore) LogAction(_ context.Context, a store.UserAction) error {
	if m.LogActionErr != nil {
		return m.LogActionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.id()
	a.CreatedAt = m.now()
	m.Actions = append(m.Actions, a)
	return nil
}

func (m *MockStore) ListUserActions(_ context.Context, userID int64, limit int) ([]store.UserAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.UserAction{}
	for i := len(m.Actions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.Actions[i].UserID == userID {
			out = append(out, m.Actions[i])
		}
	}
	return out, nil
}

// ActionTypes returns the recorded action types for userID in insertion order.
func (m *MockStore) ActionTypes(userID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.Actions {
		if a.UserID == userID {
			out = append(out, a.ActionType)
		}
	}
	return out
}

// --- Fics ---

func (m *MockStore) ficLocked(f *store.Fic) store.Fic {
	c := *f
	c.Tags = slices.Clone(f.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	c.Author = store.Author{ID: f.AuthorID}
	if u, ok := m.Users[f.AuthorID]; ok {
		c.Author.Username = u.Username
	}
	return c
}

func ficLess(sort string) func(a, b store.Fic) int {
	return func(a, b store.Fic) int {
		var d int
		switch sort {
		case store.SortPopular, store.SortViews:
			d = b.Views - a.Views
		case store.SortRating:
			d = b.Likes - a.Likes
		default:
			d = b.UpdatedAt.Compare(a.UpdatedAt)
		}
		if d != 0 {
			return d
		}
		return int(b.ID - a.ID)
	}
}

func (m *MockStore) ListFics(_ context.Context, f store.FicFilter) ([]store.Fic, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []store.Fic
	for _, fic := range m.Fics {
		if (f.Genre == "" || fic.Genre == f.Genre) && (f.Rating == "" || fic.Rating == f.Rating) {
			all = append(all, m.ficLocked(fic))
		}
	}
	slices.SortFunc(all, ficLess(f.Sort))
	total := len(all)
	start := min(f.Offset, total)
	end := min(start+f.Limit, total)
	page := append([]store.Fic{}, all[start:end]...)
	return page, total, nil
}

func (m *MockStore) ListFicsByAuthor(_ context.Context, authorID int64) ([]store.Fic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Fic{}
	for _, fic := range m.Fics {
		if fic.AuthorID == authorID {
			out = append(out, m.ficLocked(fic))
		}
	}
	slices.SortFunc(out, ficLess(store.SortNewest))
	return out, nil
}

func (m *MockStore) GetFic(_ context.Context, id int64) (*store.Fic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fic, ok := m.Fics[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := m.ficLocked(fic)
	return &c, nil
}

func (m *MockStore) IncrementFicViews(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fic, ok := m.Fics[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fic.Views++
	return nil
}

func (m *MockStore) CreateFic(_ context.Context, f *store.Fic) (*store.Fic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *f
	c.ID = m.id()
	c.Tags = slices.Clone(f.Tags)
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = "ongoing"
	}
	m.Fics[c.ID] = &c
	out := m.ficLocked(&c)
	return &out, nil
}

func (m *MockStore) UpdateFic(_ context.Context, id int64, upd store.FicUpdate) (*store.Fic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fic, ok := m.Fics[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if upd.Title != nil {
		fic.Title = *upd.Title
	}
	if upd.Description != nil {
		fic.Description = *upd.Description
	}
	if upd.Genre != nil {
		fic.Genre = *upd.Genre
	}
	if upd.Rating != nil {
		fic.Rating = *upd.Rating
	}
	if upd.Status != nil {
		fic.Status = *upd.Status
	}
	if upd.Tags != nil {
		fic.Tags = slices.Clone(*upd.Tags)
	}
	fic.UpdatedAt = m.now()
	out := m.ficLocked(fic)
	return &out, nil
}

func (m *MockStore) DeleteFic(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Fics[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.Fics, id)
	for cid, c := range m.Chapters {
		if c.FicID == id {
			delete(m.Chapters, cid)
		}
	}
	for cid, c := range m.Comments {
		if c.FicID == id {
			delete(m.Comments, cid)
		}
	}
	return nil
}

func (m *MockStore) GetAuthorStats(_ context.Context, authorID int64) (*store.AuthorStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st store.AuthorStats
	for _, fic := range m.Fics {
		if fic.AuthorID == authorID {
			st.FicsCount++
			st.TotalViews += fic.Views
			st.TotalLikes += fic.Likes
			st.TotalChapters += fic.Chapters
		}
	}
	return &st, nil
}

// --- Chapters ---

func (m *MockStore) ListChapters(_ context.Context, ficID int64) ([]store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Chapter{}
	for _, c := range m.Chapters {
		if c.FicID == ficID {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b store.Chapter) int { return a.Order - b.Order })
	return out, nil
}

func (m *MockStore) GetChapter(_ context.Context, ficID, chapterID int64) (*store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Chapters[chapterID]
	if !ok || c.FicID != ficID {
		return nil, pgx.ErrNoRows
	}
	out := *c
	return &out, nil
}

func (m *MockStore) CreateChapter(_ context.Context, ficID int64, title, content string, words int) (*store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fic, ok := m.Fics[ficID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	order := 0
	for _, c := range m.Chapters {
		if c.FicID == ficID {
			order = max(order, c.Order)
		}
	}
	c := &store.Chapter{
		ID:        m.id(),
		FicID:     ficID,
		Title:     title,
		Content:   content,
		Order:     order + 1,
		Words:     words,
		CreatedAt: m.now(),
	}
	c.UpdatedAt = c.CreatedAt
	m.Chapters[c.ID] = c
	fic.Chapters++
	fic.UpdatedAt = c.CreatedAt
	out := *c
	return &out, nil
}

func (m *MockStore) UpdateChapter(_ context.Context, ficID, chapterID int64, upd store.ChapterUpdate) (*store.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Chapters[chapterID]
	if !ok || c.FicID != ficID {
		return nil, pgx.ErrNoRows
	}
	if upd.Title != nil {
		c.Title = *upd.Title
	}
	if upd.Content != nil {
		c.Content = *upd.Content
	}
	if upd.Words != nil {
		c.Words = *upd.Words
	}
	c.UpdatedAt = m.now()
	if fic, ok := m.Fics[ficID]; ok {
		fic.UpdatedAt = c.UpdatedAt
	}
	out := *c
	return &out, nil
}

func (m *MockStore) DeleteChapter(_ context.Context, ficID, chapterID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Chapters[chapterID]
	if !ok || c.FicID != ficID {
		return pgx.ErrNoRows
	}
	delete(m.Chapters, chapterID)
	if fic, ok := m.Fics[ficID]; ok {
		fic.Chapters = max(fic.Chapters-1, 0)
		fic.UpdatedAt = m.now()
	}
	return nil
}

// --- Comments ---

func (m *MockStore) ListComments(_ context.Context, ficID int64) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Comment{}
	for _, c := range m.Comments {
		if c.FicID == ficID {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b store.Comment) int { return int(b.ID - a.ID) })
	return out, nil
}

func (m *MockStore) CreateComment(_ context.Context, ficID, authorID int64, text string) (*store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Fics[ficID]; !ok {
		return nil, pgx.ErrNoRows
	}
	c := &store.Comment{
		ID:        m.id(),
		FicID:     ficID,
		AuthorID:  authorID,
		Author:    store.Author{ID: authorID},
		Text:      text,
		CreatedAt: m.now(),
	}
	if u, ok := m.Users[authorID]; ok {
		c.Author.Username = u.Username
	}
	m.Comments[c.ID] = c
	out := *c
	return &out, nil
}

// --- MockCache ---

// MockCache implements the Redis session cache with a map.
// Use *Err fields to inject errors; entries never expire on their own.
type MockCache struct {
	GetErr error
	SetErr error
	DelErr error

	Sessions map[string]store.CachedSession

	mu sync.Mutex
}

// NewMockCache returns an empty MockCache.
func NewMockCache() *MockCache {
	return &MockCache{Sessions: make(map[string]store.CachedSession)}
}

func (c *MockCache) GetSession(_ context.Context, tokenHash string) (*store.CachedSession, error) {
	if c.GetErr != nil {
		return nil, c.GetErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Sessions[tokenHash]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	return &s, nil
}

func (c *MockCache) SetSession(_ context.Context, tokenHash string, sess store.CachedSession, ttl time.Duration) error {
	if c.SetErr != nil {
		return c.SetErr
	}
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sessions[tokenHash] = sess
	return nil
}

func (c *MockCache) DeleteSession(_ context.Context, tokenHash string, _ int64) error {
	if c.DelErr != nil {
		return c.DelErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Sessions, tokenHash)
	return nil
}

func (c *MockCache) DeleteAllUserSessions(_ context.Context, userID int64) error {
	if c.DelErr != nil {
		return c.DelErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range c.Sessions {
		if s.UserID == userID {
			delete(c.Sessions, k)
		}
	}
	return nil
}

func (c *MockCache) CheckHealth(context.Context) error { return nil }

// Len returns the number of cached sessions.
func (c *MockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sessions)
}
