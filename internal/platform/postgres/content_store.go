package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/calebwren/versio-api/internal/domain"
	"github.com/calebwren/versio-api/internal/platform/logger"
	"github.com/calebwren/versio-api/internal/store"
)

// PostgresContentReader implements store.ContentReader over the translation
// platform's relational schema. All queries are read-only.
type PostgresContentReader struct {
	db *sql.DB
}

// NewPostgresContentReader creates a new PostgresContentReader.
func NewPostgresContentReader(db *sql.DB) *PostgresContentReader {
	return &PostgresContentReader{db: db}
}

// ProjectBooks returns the books associated with the project unit through its
// bible, ordered by stored id ascending.
func (r *PostgresContentReader) ProjectBooks(
	ctx context.Context,
	projectUnitID uuid.UUID,
) ([]store.Book, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT b.id, b.code, b.name
		FROM books b
		JOIN project_unit_books pub ON pub.book_id = b.id
		WHERE pub.project_unit_id = $1
		ORDER BY b.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, projectUnitID)
	if err != nil {
		log.Error("failed to query project books",
			"project_unit_id", projectUnitID,
			"error", err)
		return nil, fmt.Errorf("%w: query project books: %v", domain.ErrTransient, err)
	}
	defer func() { _ = rows.Close() }()

	var books []store.Book
	for rows.Next() {
		var b store.Book
		if err := rows.Scan(&b.ID, &b.Code, &b.Name); err != nil {
			return nil, fmt.Errorf("%w: scan project book row: %v", domain.ErrTransient, err)
		}
		books = append(books, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate project book rows: %v", domain.ErrTransient, err)
	}

	return books, nil
}

// CanonicalVerses returns every canonical verse position for the book,
// ordered chapter then verse.
func (r *PostgresContentReader) CanonicalVerses(
	ctx context.Context,
	bookID int,
) ([]store.VerseRef, error) {
	query := `
		SELECT chapter, verse
		FROM canonical_verses
		WHERE book_id = $1
		ORDER BY chapter ASC, verse ASC
	`

	rows, err := r.db.QueryContext(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("%w: query canonical verses: %v", domain.ErrTransient, err)
	}
	defer func() { _ = rows.Close() }()

	var refs []store.VerseRef
	for rows.Next() {
		var ref store.VerseRef
		if err := rows.Scan(&ref.Chapter, &ref.Verse); err != nil {
			return nil, fmt.Errorf("%w: scan canonical verse row: %v", domain.ErrTransient, err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate canonical verse rows: %v", domain.ErrTransient, err)
	}

	return refs, nil
}

// Translations returns the translated verse text for the project unit's book
// keyed by canonical verse. Untranslated verses are absent from the map; the
// assembler turns absence into empty text.
func (r *PostgresContentReader) Translations(
	ctx context.Context,
	projectUnitID uuid.UUID,
	bookID int,
) (map[store.VerseRef]string, error) {
	query := `
		SELECT cv.chapter, cv.verse, t.text
		FROM translations t
		JOIN canonical_verses cv ON cv.id = t.canonical_verse_id
		WHERE t.project_unit_id = $1 AND cv.book_id = $2
	`

	rows, err := r.db.QueryContext(ctx, query, projectUnitID, bookID)
	if err != nil {
		return nil, fmt.Errorf("%w: query translations: %v", domain.ErrTransient, err)
	}
	defer func() { _ = rows.Close() }()

	texts := make(map[store.VerseRef]string)
	for rows.Next() {
		var ref store.VerseRef
		var text string
		if err := rows.Scan(&ref.Chapter, &ref.Verse, &text); err != nil {
			return nil, fmt.Errorf("%w: scan translation row: %v", domain.ErrTransient, err)
		}
		texts[ref] = text
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate translation rows: %v", domain.ErrTransient, err)
	}

	return texts, nil
}

// ProjectDisplayName returns the project unit's human-readable name.
func (r *PostgresContentReader) ProjectDisplayName(
	ctx context.Context,
	projectUnitID uuid.UUID,
) (string, error) {
	query := `
		SELECT p.name
		FROM projects p
		JOIN project_units pu ON pu.project_id = p.id
		WHERE pu.id = $1
	`

	var name string
	err := r.db.QueryRowContext(ctx, query, projectUnitID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: project unit %s", domain.ErrNotFound, projectUnitID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: query project display name: %v", domain.ErrTransient, err)
	}

	return name, nil
}
