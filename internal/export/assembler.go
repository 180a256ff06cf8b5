// Package export holds the document export pipeline: assembling per-book
// documents from stored content, rendering them as USFM, packaging them into
// zip archives, and the batch worker that drives jobs from the queue through
// all of it.
package export

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/calebwren/versio-api/internal/domain"
	"github.com/calebwren/versio-api/internal/platform/logger"
	"github.com/calebwren/versio-api/internal/store"
)

// Assembler builds per-book documents for a project unit. Documents are
// assembled fresh on every call and never cached; the content store is the
// single source of truth.
type Assembler struct {
	content store.ContentReader
}

// NewAssembler creates a new Assembler over the given content reader.
func NewAssembler(content store.ContentReader) *Assembler {
	return &Assembler{content: content}
}

// Assemble resolves the book selection and builds one document per book, in
// stored id order. A nil or empty bookIDs selects every book of the unit.
//
// Each document carries the book's full canonical verse skeleton: a verse
// with no translation appears with empty text rather than being dropped, so
// two exports of the same book always line up verse for verse.
func (a *Assembler) Assemble(
	ctx context.Context,
	projectUnitID uuid.UUID,
	bookIDs []int,
) ([]*domain.BookDocument, error) {
	log := logger.FromContext(ctx)

	books, err := a.resolveBooks(ctx, projectUnitID, bookIDs)
	if err != nil {
		return nil, err
	}

	docs := make([]*domain.BookDocument, 0, len(books))
	for _, book := range books {
		doc, err := a.assembleBook(ctx, projectUnitID, book)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	log.Debug("assembled export documents",
		"project_unit_id", projectUnitID,
		"book_count", len(docs))

	return docs, nil
}

// resolveBooks returns the books to export, in stored id order. Requested ids
// must all belong to the unit; selection narrows the set but never reorders it.
func (a *Assembler) resolveBooks(
	ctx context.Context,
	projectUnitID uuid.UUID,
	bookIDs []int,
) ([]store.Book, error) {
	books, err := a.content.ProjectBooks(ctx, projectUnitID)
	if err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("%w %s", domain.ErrNoBooks, projectUnitID)
	}

	if len(bookIDs) == 0 {
		return books, nil
	}

	byID := make(map[int]store.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}

	requested := make(map[int]bool, len(bookIDs))
	for _, id := range bookIDs {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: book %d, project unit %s",
				domain.ErrBookNotInProject, id, projectUnitID)
		}
		requested[id] = true
	}

	selected := make([]store.Book, 0, len(requested))
	for _, b := range books {
		if requested[b.ID] {
			selected = append(selected, b)
		}
	}
	return selected, nil
}

// assembleBook left-joins the canonical verse skeleton with the unit's
// translations and groups the result into chapter blocks.
func (a *Assembler) assembleBook(
	ctx context.Context,
	projectUnitID uuid.UUID,
	book store.Book,
) (*domain.BookDocument, error) {
	refs, err := a.content.CanonicalVerses(ctx, book.ID)
	if err != nil {
		return nil, err
	}

	texts, err := a.content.Translations(ctx, projectUnitID, book.ID)
	if err != nil {
		return nil, err
	}

	doc := &domain.BookDocument{
		BookCode: book.Code,
		BookName: book.Name,
	}

	var current *domain.ChapterBlock
	for _, ref := range refs {
		if current == nil || current.Number != ref.Chapter {
			doc.Chapters = append(doc.Chapters, domain.ChapterBlock{Number: ref.Chapter})
			current = &doc.Chapters[len(doc.Chapters)-1]
		}
		current.Verses = append(current.Verses, domain.VerseText{
			Number: ref.Verse,
			Text:   texts[ref],
		})
	}

	return doc, nil
}
