// users.go -- Public author profiles and self-service profile edits.
package fics

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wenclerfic/wenclerfic/internal/auth"
	"github.com/wenclerfic/wenclerfic/internal/store"
)

const (
	defaultActionsLimit = 50
	maxActionsLimit     = 200
)

// publicUser is the projection of a user visible to anyone. Email and provider
// stay private.
type publicUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	AvatarURL *string   `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}

func toPublic(u *store.User) publicUser {
	return publicUser{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL, CreatedAt: u.CreatedAt}
}

type profileResponse struct {
	User  publicUser        `json:"user"`
	Stats store.AuthorStats `json:"stats"`
	Fics  []store.Fic       `json:"fics"`
}

func (h *Handler) loadUser(r *http.Request) (*store.User, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	u, err := h.store.GetUserByID(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.NewError(auth.ErrNotFound, "user not found")
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser handles GET /api/users/{id}: public profile, author stats and fics.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.loadUser(r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	stats, err := h.store.GetAuthorStats(r.Context(), u.ID)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	fics, err := h.store.ListFicsByAuthor(r.Context(), u.ID)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	if fics == nil {
		fics = []store.Fic{}
	}
	auth.JSON(w, http.StatusOK, profileResponse{User: toPublic(u), Stats: *stats, Fics: fics})
}

// ListUserFics handles GET /api/users/{id}/fics, newest first.
func (h *Handler) ListUserFics(w http.ResponseWriter, r *http.Request) {
	u, err := h.loadUser(r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	fics, err := h.store.ListFicsByAuthor(r.Context(), u.ID)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	if fics == nil {
		fics = []store.Fic{}
	}
	auth.JSON(w, http.StatusOK, fics)
}

type updateMeInput struct {
	Username *string `json:"username"`
	Avatar   *string `json:"avatar"`
}

type avatarInput struct {
	Avatar string `json:"avatar" validate:"url,max=500"`
}

// UpdateMe handles PATCH /api/users/me. An empty avatar clears it.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		auth.WriteError(w, r, auth.NewError(auth.ErrUnauthenticated, "authentication required"))
		return
	}

	var in updateMeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		auth.BadRequest(w, r, "error decoding request body")
		return
	}
	trimPtr(in.Username)
	trimPtr(in.Avatar)
	if in.Avatar != nil && *in.Avatar != "" {
		if err := h.check(avatarInput{Avatar: *in.Avatar}); err != nil {
			auth.WriteError(w, r, err)
			return
		}
	}

	var upd store.UserUpdate
	if in.Username != nil && *in.Username != user.Username {
		if msg := auth.ValidateUsername(*in.Username); msg != "" {
			auth.BadRequest(w, r, msg)
			return
		}
		upd.Username = in.Username
	}
	if in.Avatar != nil {
		upd.AvatarURL = in.Avatar
	}
	if upd.Empty() {
		if in.Username != nil {
			// Same username as before; nothing changes but the request is valid.
			auth.JSON(w, http.StatusOK, map[string]*store.User{"user": user})
			return
		}
		auth.BadRequest(w, r, "nothing to update")
		return
	}

	updated, err := h.store.UpdateUser(r.Context(), user.ID, upd)
	switch {
	case errors.Is(err, store.ErrDuplicateUsername):
		auth.Conflict(w, "username already taken")
		return
	case errors.Is(err, pgx.ErrNoRows):
		auth.NotFound(w, "user not found")
		return
	case err != nil:
		auth.InternalServerError(w, r, err)
		return
	}

	h.logAction(r, user.ID, "update_profile", "user", user.ID)
	auth.LogInfo(r, "profile updated", "user_id", user.ID)
	auth.JSON(w, http.StatusOK, map[string]*store.User{"user": updated})
}

// MyActions handles GET /api/users/me/actions?limit=, newest first.
func (h *Handler) MyActions(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		auth.WriteError(w, r, auth.NewError(auth.ErrUnauthenticated, "authentication required"))
		return
	}

	limit := defaultActionsLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			auth.BadRequest(w, r, "invalid limit")
			return
		}
		limit = min(n, maxActionsLimit)
	}

	actions, err := h.store.ListUserActions(r.Context(), user.ID, limit)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	if actions == nil {
		actions = []store.UserAction{}
	}
	auth.JSON(w, http.StatusOK, actions)
}
