// fics.go -- Fic, chapter and comment queries.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const ficColumns = `f.id, f.title, f.author_id, u.username, f.description, f.genre, f.rating,
	f.tags, f.views, f.likes, f.chapters, f.status, f.created_at, f.updated_at`

const ficFrom = ` FROM fics f JOIN users u ON u.id = f.author_id`

func scanFic(row pgx.Row) (*Fic, error) {
	var f Fic
	err := row.Scan(&f.ID, &f.Title, &f.AuthorID, &f.Author.Username, &f.Description, &f.Genre,
		&f.Rating, &f.Tags, &f.Views, &f.Likes, &f.Chapters, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.Author.ID = f.AuthorID
	if f.Tags == nil {
		f.Tags = []string{}
	}
	return &f, nil
}

func collectFics(rows pgx.Rows) ([]Fic, error) {
	defer rows.Close()
	fics := []Fic{}
	for rows.Next() {
		f, err := scanFic(rows)
		if err != nil {
			return nil, err
		}
		fics = append(fics, *f)
	}
	return fics, rows.Err()
}

// ficOrder maps a sort key to a fixed ORDER BY clause. Unknown keys sort newest first.
func ficOrder(sort string) string {
	switch sort {
	case SortPopular, SortViews:
		return " ORDER BY f.views DESC, f.id DESC"
	case SortRating:
		return " ORDER BY f.likes DESC, f.id DESC"
	default:
		return " ORDER BY f.updated_at DESC, f.id DESC"
	}
}

// ListFics returns one page of fics matching f plus the total match count.
func (s *PostgresStore) ListFics(ctx context.Context, f FicFilter) ([]Fic, int, error) {
	const where = ` WHERE ($1 = '' OR f.genre = $1) AND ($2 = '' OR f.rating = $2)`

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*)"+ficFrom+where, f.Genre, f.Rating).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting fics: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+ficColumns+ficFrom+where+ficOrder(f.Sort)+" LIMIT $3 OFFSET $4",
		f.Genre, f.Rating, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing fics: %w", err)
	}
	fics, err := collectFics(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scanning fics: %w", err)
	}
	return fics, total, nil
}

// ListFicsByAuthor returns every fic by authorID, most recently updated first.
func (s *PostgresStore) ListFicsByAuthor(ctx context.Context, authorID int64) ([]Fic, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+ficColumns+ficFrom+" WHERE f.author_id = $1"+ficOrder(SortNewest), authorID)
	if err != nil {
		return nil, err
	}
	return collectFics(rows)
}

// GetFic returns pgx.ErrNoRows when the fic does not exist.
func (s *PostgresStore) GetFic(ctx context.Context, id int64) (*Fic, error) {
	return scanFic(s.pool.QueryRow(ctx, "SELECT "+ficColumns+ficFrom+" WHERE f.id = $1", id))
}

// IncrementFicViews bumps the view counter. pgx.ErrNoRows when the fic does not exist.
func (s *PostgresStore) IncrementFicViews(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "UPDATE fics SET views = views + 1 WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CreateFic inserts f and returns the stored row.
func (s *PostgresStore) CreateFic(ctx context.Context, f *Fic) (*Fic, error) {
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO fics (title, author_id, description, genre, rating, tags, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		f.Title, f.AuthorID, f.Description, f.Genre, f.Rating, tags, f.Status,
	).Scan(&id)
	if err != nil {
		return nil, err
	}
	return s.GetFic(ctx, id)
}

// UpdateFic applies the non-nil fields of upd and bumps updated_at.
func (s *PostgresStore) UpdateFic(ctx context.Context, id int64, upd FicUpdate) (*Fic, error) {
	var tags any
	if upd.Tags != nil {
		tags = *upd.Tags
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE fics SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			genre = COALESCE($4, genre),
			rating = COALESCE($5, rating),
			status = COALESCE($6, status),
			tags = COALESCE($7, tags),
			updated_at = now()
		 WHERE id = $1`,
		id, upd.Title, upd.Description, upd.Genre, upd.Rating, upd.Status, tags)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, pgx.ErrNoRows
	}
	return s.GetFic(ctx, id)
}

// DeleteFic removes a fic; chapters and comments cascade.
func (s *PostgresStore) DeleteFic(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM fics WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetAuthorStats sums counters across every fic by authorID.
func (s *PostgresStore) GetAuthorStats(ctx context.Context, authorID int64) (*AuthorStats, error) {
	var st AuthorStats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), COALESCE(sum(views), 0), COALESCE(sum(likes), 0), COALESCE(sum(chapters), 0)
		 FROM fics WHERE author_id = $1`, authorID,
	).Scan(&st.FicsCount, &st.TotalViews, &st.TotalLikes, &st.TotalChapters)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// --- Chapters ---

const chapterColumns = `id, fic_id, title, content, "order", words, created_at, updated_at`

func scanChapter(row pgx.Row) (*Chapter, error) {
	var c Chapter
	if err := row.Scan(&c.ID, &c.FicID, &c.Title, &c.Content, &c.Order, &c.Words, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChapters returns a fic's chapters in reading order.
func (s *PostgresStore) ListChapters(ctx context.Context, ficID int64) ([]Chapter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE fic_id = $1 ORDER BY "order", id`, ficID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chapters := []Chapter{}
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, *c)
	}
	return chapters, rows.Err()
}

// GetChapter returns pgx.ErrNoRows unless chapterID belongs to ficID.
func (s *PostgresStore) GetChapter(ctx context.Context, ficID, chapterID int64) (*Chapter, error) {
	return scanChapter(s.pool.QueryRow(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE fic_id = $1 AND id = $2`, ficID, chapterID))
}

// CreateChapter appends a chapter after the fic's current last one and bumps the
// fic's chapter counter. The fic row is locked so concurrent appends get distinct orders.
func (s *PostgresStore) CreateChapter(ctx context.Context, ficID int64, title, content string, words int) (*Chapter, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked int64
	if err := tx.QueryRow(ctx, "SELECT id FROM fics WHERE id = $1 FOR UPDATE", ficID).Scan(&locked); err != nil {
		return nil, err
	}

	c, err := scanChapter(tx.QueryRow(ctx,
		`INSERT INTO chapters (fic_id, title, content, "order", words)
		 SELECT $1, $2, $3, COALESCE(max("order"), 0) + 1, $4 FROM chapters WHERE fic_id = $1
		 RETURNING `+chapterColumns,
		ficID, title, content, words))
	if err != nil {
		return nil, fmt.Errorf("inserting chapter: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE fics SET chapters = chapters + 1, updated_at = now() WHERE id = $1", ficID); err != nil {
		return nil, fmt.Errorf("bumping chapter count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing chapter: %w", err)
	}
	return c, nil
}

// UpdateChapter applies the non-nil fields of upd and bumps the parent fic's updated_at.
func (s *PostgresStore) UpdateChapter(ctx context.Context, ficID, chapterID int64, upd ChapterUpdate) (*Chapter, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := scanChapter(tx.QueryRow(ctx,
		`UPDATE chapters SET
			title = COALESCE($3, title),
			content = COALESCE($4, content),
			words = COALESCE($5, words),
			updated_at = now()
		 WHERE fic_id = $1 AND id = $2
		 RETURNING `+chapterColumns,
		ficID, chapterID, upd.Title, upd.Content, upd.Words))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, "UPDATE fics SET updated_at = now() WHERE id = $1", ficID); err != nil {
		return nil, fmt.Errorf("touching fic: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing chapter update: %w", err)
	}
	return c, nil
}

// DeleteChapter removes a chapter and decrements the fic's chapter counter.
// pgx.ErrNoRows unless chapterID belongs to ficID.
func (s *PostgresStore) DeleteChapter(ctx context.Context, ficID, chapterID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "DELETE FROM chapters WHERE fic_id = $1 AND id = $2", ficID, chapterID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	if _, err := tx.Exec(ctx,
		"UPDATE fics SET chapters = GREATEST(chapters - 1, 0), updated_at = now() WHERE id = $1", ficID); err != nil {
		return fmt.Errorf("decrementing chapter count: %w", err)
	}

	return tx.Commit(ctx)
}

// --- Comments ---

// ListComments returns a fic's comments, newest first.
func (s *PostgresStore) ListComments(ctx context.Context, ficID int64) ([]Comment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.fic_id, c.author_id, u.username, c.text, c.created_at
		 FROM comments c JOIN users u ON u.id = c.author_id
		 WHERE c.fic_id = $1
		 ORDER BY c.created_at DESC, c.id DESC`, ficID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.FicID, &c.AuthorID, &c.Author.Username, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Author.ID = c.AuthorID
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// CreateComment inserts a comment and returns it with the author's username.
func (s *PostgresStore) CreateComment(ctx context.Context, ficID, authorID int64, text string) (*Comment, error) {
	var c Comment
	err := s.pool.QueryRow(ctx,
		`WITH ins AS (
			INSERT INTO comments (fic_id, author_id, text) VALUES ($1, $2, $3)
			RETURNING id, fic_id, author_id, text, created_at
		 )
		 SELECT ins.id, ins.fic_id, ins.author_id, u.username, ins.text, ins.created_at
		 FROM ins JOIN users u ON u.id = ins.author_id`,
		ficID, authorID, text,
	).Scan(&c.ID, &c.FicID, &c.AuthorID, &c.Author.Username, &c.Text, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Author.ID = c.AuthorID
	return &c, nil
}
