package store

import (
	"context"

	"github.com/google/uuid"
)

// Book is one scripture book associated with a project unit through its
// bible. ID is the stored id whose ascending order fixes the export order.
type Book struct {
	ID   int
	Code string // USFM book code, e.g. "GEN"
	Name string // display name, e.g. "Genesis"
}

// VerseRef is a canonical verse position within a book.
type VerseRef struct {
	Chapter int
	Verse   int
}

// ContentReader is the read-only content collaborator. The tables behind it
// are owned by the upstream translation platform; this service only queries
// them. Reads are assumed transactionally consistent at read time but are
// not required to share a transaction with the export job itself.
type ContentReader interface {
	// ProjectBooks returns the books associated with the project unit,
	// ordered by stored id ascending. An unknown project unit yields an
	// empty slice, not an error.
	ProjectBooks(ctx context.Context, projectUnitID uuid.UUID) ([]Book, error)

	// CanonicalVerses returns every canonical verse position for the book,
	// ordered by chapter ascending then verse ascending.
	CanonicalVerses(ctx context.Context, bookID int) ([]VerseRef, error)

	// Translations returns the translated text for the project unit's book,
	// keyed by canonical verse. Untranslated verses are simply absent.
	Translations(ctx context.Context, projectUnitID uuid.UUID, bookID int) (map[VerseRef]string, error)

	// ProjectDisplayName returns the human-readable name of the project unit
	// for download filenames.
	ProjectDisplayName(ctx context.Context, projectUnitID uuid.UUID) (string, error)
}
