// fics.go -- Fic listing, reading and author-only mutation.
package fics

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/wenclerfic/wenclerfic/internal/auth"
	"github.com/wenclerfic/wenclerfic/internal/store"
)

// PerPage is the fixed page size of GET /api/fics.
const PerPage = 12

// MaxPage keeps (page-1)*PerPage inside int32, so the offset never wraps negative.
const MaxPage = math.MaxInt32 / PerPage

// tagList accepts either a JSON array or a comma-separated string.
type tagList []string

func (t *tagList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = cleanTags(list)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("tags must be an array or a comma-separated string")
	}
	*t = cleanTags(strings.Split(s, ","))
	return nil
}

func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, tag := range in {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

type ficListResponse struct {
	Fics        []store.Fic `json:"fics"`
	Total       int         `json:"total"`
	TotalPages  int         `json:"totalPages"`
	CurrentPage int         `json:"currentPage"`
}

// ListFics handles GET /api/fics?genre=&rating=&sort=&page=.
// Unknown sorts fall back to newest; pages below 1 are page 1, pages past MaxPage are MaxPage.
func (h *Handler) ListFics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	page = min(page, MaxPage)
	sort := q.Get("sort")
	switch sort {
	case store.SortNewest, store.SortPopular, store.SortViews, store.SortRating:
	default:
		sort = store.SortNewest
	}

	fics, total, err := h.store.ListFics(r.Context(), store.FicFilter{
		Genre:  q.Get("genre"),
		Rating: q.Get("rating"),
		Sort:   sort,
		Limit:  PerPage,
		Offset: (page - 1) * PerPage,
	})
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}
	if fics == nil {
		fics = []store.Fic{}
	}

	auth.JSON(w, http.StatusOK, ficListResponse{
		Fics:        fics,
		Total:       total,
		TotalPages:  (total + PerPage - 1) / PerPage,
		CurrentPage: page,
	})
}

// GetFic handles GET /api/fics/{id}. Each read counts as a view.
func (h *Handler) GetFic(w http.ResponseWriter, r *http.Request) {
	fic, err := h.loadFic(r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	if err := h.store.IncrementFicViews(r.Context(), fic.ID); err != nil {
		auth.LogWarn(r, "failed to count fic view", "error", err, "fic_id", fic.ID)
	} else {
		fic.Views++
	}
	auth.JSON(w, http.StatusOK, fic)
}

type createFicInput struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"required,max=5000"`
	Genre       string  `json:"genre" validate:"required,max=64"`
	Rating      string  `json:"rating" validate:"required,max=32"`
	Tags        tagList `json:"tags" validate:"max=20,dive,max=50"`
	Status      string  `json:"status" validate:"omitempty,oneof=ongoing completed"`
}

// CreateFic handles POST /api/fics. The caller becomes the author.
func (h *Handler) CreateFic(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		auth.WriteError(w, r, auth.NewError(auth.ErrUnauthenticated, "authentication required"))
		return
	}

	var in createFicInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		auth.BadRequest(w, r, "error decoding request body")
		return
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Genre = strings.TrimSpace(in.Genre)
	in.Rating = strings.TrimSpace(in.Rating)
	if err := h.check(in); err != nil {
		auth.WriteError(w, r, err)
		return
	}
	if in.Status == "" {
		in.Status = "ongoing"
	}
	if in.Tags == nil {
		in.Tags = tagList{}
	}

	fic, err := h.store.CreateFic(r.Context(), &store.Fic{
		Title:       in.Title,
		AuthorID:    user.ID,
		Description: in.Description,
		Genre:       in.Genre,
		Rating:      in.Rating,
		Tags:        []string(in.Tags),
		Status:      in.Status,
	})
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}

	h.logAction(r, user.ID, "create_fic", "fic", fic.ID)
	auth.LogInfo(r, "fic created", "fic_id", fic.ID)
	auth.JSON(w, http.StatusCreated, fic)
}

type updateFicInput struct {
	Title       *string  `json:"title" validate:"omitnil,min=1,max=200"`
	Description *string  `json:"description" validate:"omitnil,min=1,max=5000"`
	Genre       *string  `json:"genre" validate:"omitnil,min=1,max=64"`
	Rating      *string  `json:"rating" validate:"omitnil,min=1,max=32"`
	Tags        *tagList `json:"tags" validate:"omitnil,max=20,dive,max=50"`
	Status      *string  `json:"status" validate:"omitnil,oneof=ongoing completed"`
}

func trimPtr(s *string) {
	if s != nil {
		*s = strings.TrimSpace(*s)
	}
}

// UpdateFic handles PUT /api/fics/{id}. Only supplied fields change.
func (h *Handler) UpdateFic(w http.ResponseWriter, r *http.Request) {
	fic, user, err := h.ownedFic(r, auth.AuthorizeFic)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}

	var in updateFicInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		auth.BadRequest(w, r, "error decoding request body")
		return
	}
	trimPtr(in.Title)
	trimPtr(in.Description)
	trimPtr(in.Genre)
	trimPtr(in.Rating)
	if err := h.check(in); err != nil {
		auth.WriteError(w, r, err)
		return
	}

	upd := store.FicUpdate{
		Title:       in.Title,
		Description: in.Description,
		Genre:       in.Genre,
		Rating:      in.Rating,
		Status:      in.Status,
	}
	if in.Tags != nil {
		tags := []string(*in.Tags)
		upd.Tags = &tags
	}
	if upd == (store.FicUpdate{}) {
		auth.BadRequest(w, r, "nothing to update")
		return
	}

	updated, err := h.store.UpdateFic(r.Context(), fic.ID, upd)
	if errors.Is(err, pgx.ErrNoRows) {
		auth.NotFound(w, "fic not found")
		return
	}
	if err != nil {
		auth.InternalServerError(w, r, err)
		return
	}

	h.logAction(r, user.ID, "update_fic", "fic", fic.ID)
	auth.JSON(w, http.StatusOK, updated)
}

// DeleteFic handles DELETE /api/fics/{id}. Chapters and comments go with it.
func (h *Handler) DeleteFic(w http.ResponseWriter, r *http.Request) {
	fic, user, err := h.ownedFic(r, auth.AuthorizeFic)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}

	if err := h.store.DeleteFic(r.Context(), fic.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.NotFound(w, "fic not found")
			return
		}
		auth.InternalServerError(w, r, err)
		return
	}

	h.logAction(r, user.ID, "delete_fic", "fic", fic.ID)
	auth.LogInfo(r, "fic deleted", "fic_id", fic.ID)
	auth.OK(w, "fic deleted")
}
