// fics_test.go

// unit tests for ListFics, GetFic, CreateFic, UpdateFic and DeleteFic.

package fics

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"testing"

	"github.com/wenclerfic/wenclerfic/internal/store"
)

func TestListFics(t *testing.T) {
	t.Run("empty store returns an empty array", func(t *testing.T) {
		e := newTestEnv(t)
		w := e.serve(t, "GET", "/api/fics", nil, nil)
		assertStatus(t, w, http.StatusOK)
		if !strings.Contains(w.Body.String(), `"fics":[]`) {
			t.Errorf("expected fics to be [], got %s", w.Body.String())
		}
	})

	t.Run("pagination", func(t *testing.T) {
		e := newTestEnv(t)
		for i := range PerPage + 1 {
			e.seedFic(t, e.alice.ID, fmt.Sprintf("Fic %d", i))
		}

		body := decode[ficListResponse](t, e.serve(t, "GET", "/api/fics", nil, nil))
		if len(body.Fics) != PerPage || body.Total != PerPage+1 || body.TotalPages != 2 || body.CurrentPage != 1 {
			t.Errorf("page 1: got %d fics, total %d, pages %d, current %d",
				len(body.Fics), body.Total, body.TotalPages, body.CurrentPage)
		}

		body = decode[ficListResponse](t, e.serve(t, "GET", "/api/fics?page=2", nil, nil))
		if len(body.Fics) != 1 || body.CurrentPage != 2 {
			t.Errorf("page 2: got %d fics, current %d", len(body.Fics), body.CurrentPage)
		}

		body = decode[ficListResponse](t, e.serve(t, "GET", "/api/fics?page=abc", nil, nil))
		if body.CurrentPage != 1 {
			t.Errorf("invalid page should fall back to 1, got %d", body.CurrentPage)
		}
	})

	t.Run("huge page is capped instead of overflowing the offset", func(t *testing.T) {
		e := newTestEnv(t)
		e.seedFic(t, e.alice.ID, "Only")

		for _, page := range []string{"1000000000000000000", "9223372036854775807"} {
			w := e.serve(t, "GET", "/api/fics?page="+page, nil, nil)
			assertStatus(t, w, http.StatusOK)
			body := decode[ficListResponse](t, w)
			if len(body.Fics) != 0 || body.Total != 1 || body.CurrentPage != MaxPage {
				t.Errorf("page=%s: got %d fics, total %d, current %d", page, len(body.Fics), body.Total, body.CurrentPage)
			}
		}
	})

	t.Run("filters and sort", func(t *testing.T) {
		e := newTestEnv(t)
		quiet := e.seedFic(t, e.alice.ID, "Quiet")
		loud := e.seedFic(t, e.bob.ID, "Loud")
		e.ms.Fics[loud.ID].Views = 100
		e.ms.Fics[quiet.ID].Genre = "romance"

		body := decode[ficListResponse](t, e.serve(t, "GET", "/api/fics?genre=romance", nil, nil))
		if body.Total != 1 || body.Fics[0].ID != quiet.ID {
			t.Errorf("genre filter: expected only %d, got %+v", quiet.ID, body.Fics)
		}

		body = decode[ficListResponse](t, e.serve(t, "GET", "/api/fics?sort=views", nil, nil))
		if body.Fics[0].ID != loud.ID {
			t.Errorf("views sort: expected %d first, got %d", loud.ID, body.Fics[0].ID)
		}
		if body.Fics[0].Author.Username != "bob" {
			t.Errorf("expected author username bob, got %q", body.Fics[0].Author.Username)
		}

		w := e.serve(t, "GET", "/api/fics?sort=bogus", nil, nil)
		assertStatus(t, w, http.StatusOK)
	})
}

func TestGetFic(t *testing.T) {
	e := newTestEnv(t)
	fic := e.seedFic(t, e.alice.ID, "Counted")

	t.Run("each read counts a view", func(t *testing.T) {
		for want := 1; want <= 2; want++ {
			got := decode[store.Fic](t, e.serve(t, "GET", ficURL(fic.ID), nil, nil))
			if got.Views != want {
				t.Errorf("read %d: expected views %d, got %d", want, want, got.Views)
			}
		}
	})

	t.Run("missing fic", func(t *testing.T) {
		assertMessage(t, e.serve(t, "GET", "/api/fics/999", nil, nil), http.StatusNotFound, "fic not found")
	})

	t.Run("malformed id", func(t *testing.T) {
		assertMessage(t, e.serve(t, "GET", "/api/fics/abc", nil, nil), http.StatusBadRequest, "invalid id")
	})
}

func TestCreateFic(t *testing.T) {
	valid := map[string]any{
		"title":       "  The Long Road  ",
		"description": "Two friends walk.",
		"genre":       "adventure",
		"rating":      "general",
		"tags":        "travel, friendship",
	}

	t.Run("success", func(t *testing.T) {
		e := newTestEnv(t)
		w := e.serve(t, "POST", "/api/fics", valid, e.alice)
		assertStatus(t, w, http.StatusCreated)

		fic := decode[store.Fic](t, w)
		if fic.Title != "The Long Road" {
			t.Errorf("title should be trimmed, got %q", fic.Title)
		}
		if fic.AuthorID != e.alice.ID || fic.Author.Username != "alice" {
			t.Errorf("caller should be the author, got %+v", fic.Author)
		}
		if fic.Status != "ongoing" {
			t.Errorf("status should default to ongoing, got %q", fic.Status)
		}
		if !slices.Equal(fic.Tags, []string{"travel", "friendship"}) {
			t.Errorf("tags: got %v", fic.Tags)
		}
		if !slices.Contains(e.ms.ActionTypes(e.alice.ID), "create_fic") {
			t.Error("expected create_fic action")
		}
	})

	t.Run("no tags is an empty list", func(t *testing.T) {
		e := newTestEnv(t)
		body := map[string]any{"title": "T", "description": "D", "genre": "g", "rating": "r"}
		fic := decode[store.Fic](t, e.serve(t, "POST", "/api/fics", body, e.alice))
		if fic.Tags == nil || len(fic.Tags) != 0 {
			t.Errorf("expected empty tags, got %v", fic.Tags)
		}
	})

	t.Run("whitespace title", func(t *testing.T) {
		e := newTestEnv(t)
		body := map[string]any{"title": "   ", "description": "D", "genre": "g", "rating": "r"}
		assertMessage(t, e.serve(t, "POST", "/api/fics", body, e.alice), http.StatusBadRequest, "title is required")
	})

	t.Run("invalid status", func(t *testing.T) {
		e := newTestEnv(t)
		body := map[string]any{"title": "T", "description": "D", "genre": "g", "rating": "r", "status": "abandoned"}
		assertMessage(t, e.serve(t, "POST", "/api/fics", body, e.alice),
			http.StatusBadRequest, "status must be one of: ongoing completed")
	})

	t.Run("malformed body", func(t *testing.T) {
		e := newTestEnv(t)
		assertMessage(t, e.serve(t, "POST", "/api/fics", "{", e.alice),
			http.StatusBadRequest, "error decoding request body")
	})

	t.Run("anonymous", func(t *testing.T) {
		e := newTestEnv(t)
		assertMessage(t, e.serve(t, "POST", "/api/fics", valid, nil),
			http.StatusUnauthorized, "authentication required")
		if len(e.ms.Fics) != 0 {
			t.Error("no fic should be created")
		}
	})
}

func TestUpdateFic(t *testing.T) {
	t.Run("only supplied fields change", func(t *testing.T) {
		e := newTestEnv(t)
		fic := e.seedFic(t, e.alice.ID, "Draft")
		w := e.serve(t, "PUT", ficURL(fic.ID), map[string]any{"title": " Final ", "tags": []string{"a", "b"}}, e.alice)
		assertStatus(t, w, http.StatusOK)

		got := decode[store.Fic](t, w)
		if got.Title != "Final" || got.Description != fic.Description || got.Genre != fic.Genre {
			t.Errorf("unexpected fic after update: %+v", got)
		}
		if !slices.Equal(got.Tags, []string{"a", "b"}) {
			t.Errorf("tags: got %v", got.Tags)
		}
		if !slices.Contains(e.ms.ActionTypes(e.alice.ID), "update_fic") {
			t.Error("expected update_fic action")
		}
	})

	t.Run("status change", func(t *testing.T) {
		e := newTestEnv(t)
		fic := e.seedFic(t, e.alice.ID, "Done")
		got := decode[store.Fic](t, e.serve(t, "PUT", ficURL(fic.ID), map[string]any{"status": "completed"}, e.alice))
		if got.Status != "completed" {
			t.Errorf("expected completed, got %q", got.Status)
		}
	})

	t.Run("nothing to update", func(t *testing.T) {
		e := newTestEnv(t)
		fic := e.seedFic(t, e.alice.ID, "Same")
		assertMessage(t, e.serve(t, "PUT", ficURL(fic.ID), map[string]any{}, e.alice),
			http.StatusBadRequest, "nothing to update")
	})

	t.Run("blank title rejected", func(t *testing.T) {
		e := newTestEnv(t)
		fic := e.seedFic(t, e.alice.ID, "Keep")
		assertMessage(t, e.serve(t, "PUT", ficURL(fic.ID), map[string]any{"title": "  "}, e.alice),
			http.StatusBadRequest, "title must not be empty")
	})

	t.Run("missing fic", func(t *testing.T) {
		e := newTestEnv(t)
		assertMessage(t, e.serve(t, "PUT", "/api/fics/77", map[string]any{"title": "x"}, e.alice),
			http.StatusNotFound, "fic not found")
	})
}

func TestDeleteFic(t *testing.T) {
	e := newTestEnv(t)
	fic := e.seedFic(t, e.alice.ID, "Gone")
	e.seedChapter(t, fic.ID, "One", "words here")
	if _, err := e.ms.CreateComment(context.Background(), fic.ID, e.bob.ID, "nice"); err != nil {
		t.Fatal(err)
	}

	assertMessage(t, e.serve(t, "DELETE", ficURL(fic.ID), nil, e.alice), http.StatusOK, "fic deleted")

	if len(e.ms.Chapters) != 0 || len(e.ms.Comments) != 0 {
		t.Error("chapters and comments should be deleted with the fic")
	}
	assertMessage(t, e.serve(t, "GET", ficURL(fic.ID), nil, nil), http.StatusNotFound, "fic not found")
	assertMessage(t, e.serve(t, "DELETE", ficURL(fic.ID), nil, e.alice), http.StatusNotFound, "fic not found")
	if !slices.Contains(e.ms.ActionTypes(e.alice.ID), "delete_fic") {
		t.Error("expected delete_fic action")
	}
}
