package export

import (
	"strconv"
	"strings"

	"github.com/calebwren/versio-api/internal/domain"
)

// RenderUSFM serializes the document as USFM. The layout is fixed: an \id
// line with the book code, an \mt line with the book name, then for each
// chapter a \c marker followed by a single \p paragraph holding the chapter's
// verses as \v lines. Every line ends with \n, including the last.
//
// Untranslated verses render with their number and a trailing space before
// the newline, keeping the verse skeleton intact for round-tripping tools.
func RenderUSFM(doc *domain.BookDocument) string {
	var b strings.Builder

	b.WriteString("\\id ")
	b.WriteString(doc.BookCode)
	b.WriteByte('\n')
	b.WriteString("\\mt ")
	b.WriteString(doc.BookName)
	b.WriteByte('\n')

	for _, chapter := range doc.Chapters {
		b.WriteString("\\c ")
		b.WriteString(strconv.Itoa(chapter.Number))
		b.WriteByte('\n')
		b.WriteString("\\p\n")

		for _, verse := range chapter.Verses {
			b.WriteString("\\v ")
			b.WriteString(strconv.Itoa(verse.Number))
			b.WriteByte(' ')
			b.WriteString(verse.Text)
			b.WriteByte('\n')
		}
	}

	return b.String()
}
