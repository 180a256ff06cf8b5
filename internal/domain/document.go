package domain

// VerseText is a single verse within a chapter. Text is the empty string
// when the verse has not been translated yet; the verse number itself is
// never omitted, so consumers always see the full canonical skeleton.
type VerseText struct {
	Number int
	Text   string
}

// ChapterBlock is an ordered run of verses sharing a chapter number.
type ChapterBlock struct {
	Number int
	Verses []VerseText
}

// BookDocument is the assembled content of one book, produced fresh per
// export and never persisted. Chapters ascend by number and verses ascend
// within each chapter.
type BookDocument struct {
	BookCode string
	BookName string
	Chapters []ChapterBlock
}

// VerseCount returns the total number of verses across all chapters.
func (d *BookDocument) VerseCount() int {
	n := 0
	for _, c := range d.Chapters {
		n += len(c.Verses)
	}
	return n
}
