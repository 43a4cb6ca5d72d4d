package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestFics(t *testing.T) {
	ctx := context.Background()
	author := mustCreateUser(t, ctx, "pg_author", "pg_author@example.com")

	t.Run("create returns author and tags", func(t *testing.T) {
		f := mustCreateFic(t, ctx, author.ID, "pg fic create")
		if f.Author.Username != "pg_author" || f.Author.ID != author.ID {
			t.Errorf("unexpected author: %+v", f.Author)
		}
		if len(f.Tags) != 2 || f.Tags[0] != "a" {
			t.Errorf("unexpected tags: %v", f.Tags)
		}
		if f.Status != "ongoing" {
			t.Errorf("expected ongoing, got %q", f.Status)
		}
	})

	t.Run("update changes only provided fields", func(t *testing.T) {
		f := mustCreateFic(t, ctx, author.ID, "pg fic update")
		title := "renamed"
		tags := []string{"x"}
		got, err := testStore.UpdateFic(ctx, f.ID, FicUpdate{Title: &title, Tags: &tags})
		if err != nil {
			t.Fatalf("UpdateFic: %v", err)
		}
		if got.Title != "renamed" || got.Genre != "drama" || len(got.Tags) != 1 {
			t.Errorf("unexpected fic after update: %+v", got)
		}
	})

	t.Run("views increment", func(t *testing.T) {
		f := mustCreateFic(t, ctx, author.ID, "pg fic views")
		if err := testStore.IncrementFicViews(ctx, f.ID); err != nil {
			t.Fatalf("IncrementFicViews: %v", err)
		}
		got, _ := testStore.GetFic(ctx, f.ID)
		if got.Views != 1 {
			t.Errorf("expected 1 view, got %d", got.Views)
		}
		if err := testStore.IncrementFicViews(ctx, -1); !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("expected pgx.ErrNoRows for missing fic, got %v", err)
		}
	})

	t.Run("list filters by genre and paginates", func(t *testing.T) {
		other := mustCreateUser(t, ctx, "pg_lister", "pg_lister@example.com")
		for _, title := range []string{"l1", "l2", "l3"} {
			if _, err := testStore.CreateFic(ctx, &Fic{Title: title, AuthorID: other.ID, Description: "d",
				Genre: "pg-unique-genre", Rating: "R", Status: "ongoing"}); err != nil {
				t.Fatalf("CreateFic: %v", err)
			}
		}
		fics, total, err := testStore.ListFics(ctx, FicFilter{Genre: "pg-unique-genre", Sort: SortNewest, Limit: 2})
		if err != nil {
			t.Fatalf("ListFics: %v", err)
		}
		if total != 3 {
			t.Errorf("expected total 3, got %d", total)
		}
		if len(fics) != 2 {
			t.Errorf("expected page of 2, got %d", len(fics))
		}
	})

	t.Run("delete cascades chapters", func(t *testing.T) {
		f := mustCreateFic(t, ctx, author.ID, "pg fic delete")
		c, err := testStore.CreateChapter(ctx, f.ID, "one", "text", 1)
		if err != nil {
			t.Fatalf("CreateChapter: %v", err)
		}
		if err := testStore.DeleteFic(ctx, f.ID); err != nil {
			t.Fatalf("DeleteFic: %v", err)
		}
		if _, err := testStore.GetChapter(ctx, f.ID, c.ID); !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("expected chapter gone, got %v", err)
		}
		if err := testStore.DeleteFic(ctx, f.ID); !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("second delete: expected pgx.ErrNoRows, got %v", err)
		}
	})
}

func TestChapters(t *testing.T) {
	ctx := context.Background()
	author := mustCreateUser(t, ctx, "pg_chapters", "pg_chapters@example.com")
	f := mustCreateFic(t, ctx, author.ID, "pg chapters")

	t.Run("orders are sequential and counter tracks them", func(t *testing.T) {
		c1, err := testStore.CreateChapter(ctx, f.ID, "one", "a b", 2)
		if err != nil {
			t.Fatalf("CreateChapter: %v", err)
		}
		c2, err := testStore.CreateChapter(ctx, f.ID, "two", "c", 1)
		if err != nil {
			t.Fatalf("CreateChapter: %v", err)
		}
		if c1.Order != 1 || c2.Order != 2 {
			t.Errorf("expected orders 1,2 got %d,%d", c1.Order, c2.Order)
		}
		got, _ := testStore.GetFic(ctx, f.ID)
		if got.Chapters != 2 {
			t.Errorf("expected chapter counter 2, got %d", got.Chapters)
		}

		if err := testStore.DeleteChapter(ctx, f.ID, c1.ID); err != nil {
			t.Fatalf("DeleteChapter: %v", err)
		}
		got, _ = testStore.GetFic(ctx, f.ID)
		if got.Chapters != 1 {
			t.Errorf("expected chapter counter 1, got %d", got.Chapters)
		}

		list, err := testStore.ListChapters(ctx, f.ID)
		if err != nil || len(list) != 1 || list[0].ID != c2.ID {
			t.Errorf("unexpected chapter list %v (%v)", list, err)
		}
	})

	t.Run("create on missing fic returns pgx.ErrNoRows", func(t *testing.T) {
		if _, err := testStore.CreateChapter(ctx, -1, "x", "y", 1); !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("expected pgx.ErrNoRows, got %v", err)
		}
	})

	t.Run("update scoped to fic", func(t *testing.T) {
		c, _ := testStore.CreateChapter(ctx, f.ID, "three", "d", 1)
		title := "three!"
		if _, err := testStore.UpdateChapter(ctx, f.ID+1_000_000, c.ID, ChapterUpdate{Title: &title}); !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("expected pgx.ErrNoRows for wrong fic, got %v", err)
		}
		got, err := testStore.UpdateChapter(ctx, f.ID, c.ID, ChapterUpdate{Title: &title})
		if err != nil {
			t.Fatalf("UpdateChapter: %v", err)
		}
		if got.Title != "three!" || got.Content != "d" {
			t.Errorf("unexpected chapter %+v", got)
		}
	})
}

func TestComments(t *testing.T) {
	ctx := context.Background()
	author := mustCreateUser(t, ctx, "pg_commenter", "pg_commenter@example.com")
	f := mustCreateFic(t, ctx, author.ID, "pg comments")

	for _, text := range []string{"first", "second"} {
		c, err := testStore.CreateComment(ctx, f.ID, author.ID, text)
		if err != nil {
			t.Fatalf("CreateComment: %v", err)
		}
		if c.Author.Username != "pg_commenter" {
			t.Errorf("expected author username, got %q", c.Author.Username)
		}
	}
	list, err := testStore.ListComments(ctx, f.ID)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(list) != 2 || list[0].Text != "second" {
		t.Errorf("expected newest first, got %+v", list)
	}

	stats, err := testStore.GetAuthorStats(ctx, author.ID)
	if err != nil {
		t.Fatalf("GetAuthorStats: %v", err)
	}
	if stats.FicsCount != 1 {
		t.Errorf("expected 1 fic, got %d", stats.FicsCount)
	}
}
