// handler.go -- Resource API for fics, chapters, comments and user profiles.
//
// Reads are public. Mutations require a user in context (auth.RequireAuth) and,
// for fics and chapters, ownership via auth.AuthorizeFic / auth.AuthorizeChapter.
package fics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"

	"github.com/wenclerfic/wenclerfic/internal/auth"
	"github.com/wenclerfic/wenclerfic/internal/store"
)

// Store is the persistence surface of the resource API. Satisfied by *store.PostgresStore.
type Store interface {
	ListFics(ctx context.Context, f store.FicFilter) ([]store.Fic, int, error)
	ListFicsByAuthor(ctx context.Context, authorID int64) ([]store.Fic, error)
	GetFic(ctx context.Context, id int64) (*store.Fic, error)
	IncrementFicViews(ctx context.Context, id int64) error
	CreateFic(ctx context.Context, f *store.Fic) (*store.Fic, error)
	UpdateFic(ctx context.Context, id int64, upd store.FicUpdate) (*store.Fic, error)
	DeleteFic(ctx context.Context, id int64) error
	GetAuthorStats(ctx context.Context, authorID int64) (*store.AuthorStats, error)

	ListChapters(ctx context.Context, ficID int64) ([]store.Chapter, error)
	GetChapter(ctx context.Context, ficID, chapterID int64) (*store.Chapter, error)
	CreateChapter(ctx context.Context, ficID int64, title, content string, words int) (*store.Chapter, error)
	UpdateChapter(ctx context.Context, ficID, chapterID int64, upd store.ChapterUpdate) (*store.Chapter, error)
	DeleteChapter(ctx context.Context, ficID, chapterID int64) error

	ListComments(ctx context.Context, ficID int64) ([]store.Comment, error)
	CreateComment(ctx context.Context, ficID, authorID int64, text string) (*store.Comment, error)

	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	UpdateUser(ctx context.Context, id int64, upd store.UserUpdate) (*store.User, error)
	ListUserActions(ctx context.Context, userID int64, limit int) ([]store.UserAction, error)

	auth.ActionLogger
}

// Handler serves /api/fics and /api/users.
type Handler struct {
	store    Store
	validate *validator.Validate
}

// NewHandler returns a Handler whose validation messages use JSON field names.
func NewHandler(s Store) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{store: s, validate: v}
}

// Routes returns the /api/fics router. requireAuth gates every mutation.
func (h *Handler) Routes(requireAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListFics)
	r.Get("/{id}", h.GetFic)
	r.Get("/{id}/chapters", h.ListChapters)
	r.Get("/{id}/chapters/{chapterID}", h.GetChapter)
	r.Get("/{id}/comments", h.ListComments)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/", h.CreateFic)
		r.Put("/{id}", h.UpdateFic)
		r.Delete("/{id}", h.DeleteFic)
		r.Post("/{id}/chapters", h.CreateChapter)
		r.Put("/{id}/chapters/{chapterID}", h.UpdateChapter)
		r.Delete("/{id}/chapters/{chapterID}", h.DeleteChapter)
		r.Post("/{id}/comments", h.CreateComment)
	})

	return r
}

// UserRoutes returns the /api/users router.
func (h *Handler) UserRoutes(requireAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(requireAuth).Patch("/me", h.UpdateMe)
	r.With(requireAuth).Get("/me/actions", h.MyActions)
	r.Get("/{id}", h.GetUser)
	r.Get("/{id}/fics", h.ListUserFics)

	return r
}

// check runs struct validation and turns the first failure into an ErrInvalidInput.
func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", fe.Field())
	case "min":
		if fe.Param() == "1" {
			msg = fmt.Sprintf("%s must not be empty", fe.Field())
		} else {
			msg = fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
		}
	case "max":
		if fe.Kind() == reflect.Slice {
			msg = fmt.Sprintf("%s must have at most %s items", fe.Field(), fe.Param())
		} else {
			msg = fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		}
	case "oneof":
		msg = fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "url":
		msg = fmt.Sprintf("%s must be a valid URL", fe.Field())
	default:
		msg = fmt.Sprintf("%s is invalid", fe.Field())
	}
	return auth.NewError(auth.ErrInvalidInput, msg)
}

// pathID parses a positive integer route parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, auth.NewError(auth.ErrInvalidInput, "invalid "+name)
	}
	return id, nil
}

// loadFic fetches the {id} fic, mapping absence to ErrNotFound.
func (h *Handler) loadFic(r *http.Request) (*store.Fic, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	fic, err := h.store.GetFic(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.NewError(auth.ErrNotFound, "fic not found")
	}
	if err != nil {
		return nil, fmt.Errorf("loading fic %d: %w", id, err)
	}
	return fic, nil
}

// ownedFic loads the {id} fic and checks the caller may mutate it with authorize
// (auth.AuthorizeFic or auth.AuthorizeChapter).
func (h *Handler) ownedFic(r *http.Request, authorize func(*store.User, *store.Fic) error) (*store.Fic, *store.User, error) {
	user, _ := auth.UserFromContext(r.Context())
	if user == nil {
		return nil, nil, auth.NewError(auth.ErrUnauthenticated, "authentication required")
	}
	fic, err := h.loadFic(r)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(user, fic); err != nil {
		auth.LogWarn(r, "fic mutation denied", "fic_id", fic.ID, "author_id", fic.AuthorID)
		return nil, nil, err
	}
	return fic, user, nil
}

// logAction records a targeted user action.
func (h *Handler) logAction(r *http.Request, userID int64, action, targetType string, targetID int64) {
	auth.LogAction(r, h.store, store.UserAction{
		UserID:     userID,
		ActionType: action,
		TargetType: &targetType,
		TargetID:   &targetID,
	})
}
