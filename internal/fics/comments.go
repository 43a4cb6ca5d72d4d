// comments.go -- Reader comments on fics. Any logged-in user may comment.
package fics

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/wenclerfic/wenclerfic/internal/auth"
	"github.com/wenclerfic/wenclerfic/internal/store"
)

// ListComments handles GET /api/fics/{id}/comments, newest first.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	fic, err := h.loadFic(r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	comments, err := h.store.ListComments(r.Context(), fic.ID)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	auth.JSON(w, http.StatusOK, comments)
}

type createCommentInput struct {
	Text string `json:"text" validate:"required,max=2000"`
}

// CreateComment handles POST /api/fics/{id}/comments.
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		auth.WriteError(w, r, auth.NewError(auth.ErrUnauthenticated, "authentication required"))
		return
	}
	ficID, err := pathID(r, "id")
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}

	var in createCommentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		auth.BadRequest(w, r, "error decoding request body")
		return
	}
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		auth.BadRequest(w, r, "comment cannot be empty")
		return
	}
	if err := h.check(in); err != nil {
		auth.WriteError(w, r, err)
		return
	}

	c, err := h.store.CreateComment(r.Context(), ficID, user.ID, in.Text)
	if errors.Is(err, pgx.ErrNoRows) {
		auth.NotFound(w, "fic not found")
		return
	}
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}

	h.logAction(r, user.ID, "create_comment", "comment", c.ID)
	auth.JSON(w, http.StatusCreated, c)
}
