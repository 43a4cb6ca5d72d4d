// chapters.go -- Chapter reading and author-only mutation.
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

// CountWords counts whitespace-separated words.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// ListChapters handles GET /api/fics/{id}/chapters, ordered by chapter number.
func (h *Handler) ListChapters(w http.ResponseWriter, r *http.Request) {
	fic, err := h.loadFic(r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	chapters, err := h.store.ListChapters(r.Context(), fic.ID)
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	if chapters == nil {
		chapters = []store.Chapter{}
	}
	auth.JSON(w, http.StatusOK, chapters)
}

// GetChapter handles GET /api/fics/{id}/chapters/{chapterID}.
func (h *Handler) GetChapter(w http.ResponseWriter, r *http.Request) {
	ficID, err := pathID(r, "id")
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	chapterID, err := pathID(r, "chapterID")
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	ch, err := h.store.GetChapter(r.Context(), ficID, chapterID)
	if errors.Is(err, pgx.ErrNoRows) {
		auth.NotFound(w, "chapter not found")
		return
	}
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	auth.JSON(w, http.StatusOK, ch)
}

type createChapterInput struct {
	Title   string `json:"title" validate:"required,max=200"`
	Content string `json:"content" validate:"required,max=200000"`
}

// CreateChapter handles POST /api/fics/{id}/chapters. The chapter is appended after
// the current last one.
func (h *Handler) CreateChapter(w http.ResponseWriter, r *http.Request) {
	fic, user, err := h.ownedFic(r, auth.AuthorizeChapter)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}

	var in createChapterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		auth.BadRequest(w, r, "error decoding request body")
		return
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	if err := h.check(in); err != nil {
		auth.WriteError(w, r, err)
		return
	}

	ch, err := h.store.CreateChapter(r.Context(), fic.ID, in.Title, in.Content, CountWords(in.Content))
	if errors.Is(err, pgx.ErrNoRows) {
		auth.NotFound(w, "fic not found")
		return
	}
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}

	h.logAction(r, user.ID, "create_chapter", "chapter", ch.ID)
	auth.LogInfo(r, "chapter created", "fic_id", fic.ID, "chapter_id", ch.ID)
	auth.JSON(w, http.StatusCreated, ch)
}

type updateChapterInput struct {
	Title   *string `json:"title" validate:"omitnil,max=200"`
	Content *string `json:"content" validate:"omitnil,max=200000"`
}

// UpdateChapter handles PUT /api/fics/{id}/chapters/{chapterID}. Blank fields are
// ignored; new content recounts words.
func (h *Handler) UpdateChapter(w http.ResponseWriter, r *http.Request) {
	fic, user, err := h.ownedFic(r, auth.AuthorizeChapter)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	chapterID, err := pathID(r, "chapterID")
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}

	var in updateChapterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		auth.BadRequest(w, r, "error decoding request body")
		return
	}
	trimPtr(in.Title)
	trimPtr(in.Content)
	if err := h.check(in); err != nil {
		auth.WriteError(w, r, err)
		return
	}

	var upd store.ChapterUpdate
	if in.Title != nil && *in.Title != "" {
		upd.Title = in.Title
	}
	if in.Content != nil && *in.Content != "" {
		words := CountWords(*in.Content)
		upd.Content = in.Content
		upd.Words = &words
	}
	if upd.Title == nil && upd.Content == nil {
		auth.BadRequest(w, r, "nothing to update")
		return
	}

	ch, err := h.store.UpdateChapter(r.Context(), fic.ID, chapterID, upd)
	if errors.Is(err, pgx.ErrNoRows) {
		auth.NotFound(w, "chapter not found")
		return
	}
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}

	h.logAction(r, user.ID, "update_chapter", "chapter", ch.ID)
	auth.JSON(w, http.StatusOK, ch)
}

// DeleteChapter handles DELETE /api/fics/{id}/chapters/{chapterID}.
func (h *Handler) DeleteChapter(w http.ResponseWriter, r *http.Request) {
	fic, user, err := h.ownedFic(r, auth.AuthorizeChapter)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	chapterID, err := pathID(r, "chapterID")
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}

	if err := h.store.DeleteChapter(r.Context(), fic.ID, chapterID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.NotFound(w, "chapter not found")
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}

	h.logAction(r, user.ID, "delete_chapter", "chapter", chapterID)
	auth.LogInfo(r, "chapter deleted", "fic_id", fic.ID, "chapter_id", chapterID)
	auth.OK(w, "chapter deleted")
}
