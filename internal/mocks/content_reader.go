// Package mocks provides hand-written test doubles for the service's
// collaborator interfaces.
package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/calebwren/versio-api/internal/store"
)

// ContentReader is a configurable in-memory store.ContentReader. Populate the
// maps directly, or set the per-method Err fields to force failures.
type ContentReader struct {
	mu sync.Mutex

	// Books maps project unit id to its ordered book list.
	Books map[uuid.UUID][]store.Book

	// Verses maps book id to its canonical verse skeleton.
	Verses map[int][]store.VerseRef

	// Texts maps project unit id, then book id, to translated verse text.
	Texts map[uuid.UUID]map[int]map[store.VerseRef]string

	// Names maps project unit id to its display name.
	Names map[uuid.UUID]string

	BooksErr  error
	VersesErr error
	TextsErr  error
	NamesErr  error

	// Calls records each method invocation in order, for assertions on
	// query patterns.
	Calls []string
}

// NewContentReader creates an empty ContentReader.
func NewContentReader() *ContentReader {
	return &ContentReader{
		Books:  make(map[uuid.UUID][]store.Book),
		Verses: make(map[int][]store.VerseRef),
		Texts:  make(map[uuid.UUID]map[int]map[store.VerseRef]string),
		Names:  make(map[uuid.UUID]string),
	}
}

// AddBook associates a book with a project unit and installs its canonical
// verse skeleton.
func (m *ContentReader) AddBook(projectUnitID uuid.UUID, book store.Book, refs []store.VerseRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Books[projectUnitID] = append(m.Books[projectUnitID], book)
	m.Verses[book.ID] = refs
}

// SetText records a translated verse for the project unit's book.
func (m *ContentReader) SetText(projectUnitID uuid.UUID, bookID int, ref store.VerseRef, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byBook, ok := m.Texts[projectUnitID]
	if !ok {
		byBook = make(map[int]map[store.VerseRef]string)
		m.Texts[projectUnitID] = byBook
	}
	byRef, ok := byBook[bookID]
	if !ok {
		byRef = make(map[store.VerseRef]string)
		byBook[bookID] = byRef
	}
	byRef[ref] = text
}

func (m *ContentReader) ProjectBooks(ctx context.Context, projectUnitID uuid.UUID) ([]store.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "ProjectBooks")
	if m.BooksErr != nil {
		return nil, m.BooksErr
	}
	return append([]store.Book(nil), m.Books[projectUnitID]...), nil
}

func (m *ContentReader) CanonicalVerses(ctx context.Context, bookID int) ([]store.VerseRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "CanonicalVerses")
	if m.VersesErr != nil {
		return nil, m.VersesErr
	}
	return append([]store.VerseRef(nil), m.Verses[bookID]...), nil
}

func (m *ContentReader) Translations(
	ctx context.Context,
	projectUnitID uuid.UUID,
	bookID int,
) (map[store.VerseRef]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "Translations")
	if m.TextsErr != nil {
		return nil, m.TextsErr
	}
	out := make(map[store.VerseRef]string)
	for ref, text := range m.Texts[projectUnitID][bookID] {
		out[ref] = text
	}
	return out, nil
}

func (m *ContentReader) ProjectDisplayName(ctx context.Context, projectUnitID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "ProjectDisplayName")
	if m.NamesErr != nil {
		return "", m.NamesErr
	}
	name, ok := m.Names[projectUnitID]
	if !ok {
		return "", nil
	}
	return name, nil
}
