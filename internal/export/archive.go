package export

import (
	"archive/zip"
	"fmt"
	"io"
	"sync"

	"github.com/calebwren/versio-api/internal/domain"
)

// Entry is one file inside an export archive.
type Entry struct {
	Name string
	Body io.Reader
}

// WriteArchive writes the entries to w as a zip archive, in slice order.
// An empty entry list is ErrEmptyArchive; the archive format happily encodes
// zero entries, but an export with nothing in it is a content failure.
func WriteArchive(w io.Writer, entries []Entry) error {
	if len(entries) == 0 {
		return domain.ErrEmptyArchive
	}

	zw := zip.NewWriter(w)
	for _, entry := range entries {
		ew, err := zw.Create(entry.Name)
		if err != nil {
			return fmt.Errorf("create archive entry %q: %w", entry.Name, err)
		}
		if _, err := io.Copy(ew, entry.Body); err != nil {
			return fmt.Errorf("write archive entry %q: %w", entry.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// StreamArchive returns a reader producing the entries as a zip archive.
// Compression happens on demand as the caller reads, so a slow consumer
// applies backpressure instead of forcing the whole archive into memory.
//
// The caller must Close the reader exactly when done, on success or error
// alike; Close is idempotent, releases the producing goroutine, and is the
// single cleanup path. A failure while producing entries surfaces as an
// error from Read.
func StreamArchive(entries []Entry) (io.ReadCloser, error) {
	if len(entries) == 0 {
		return nil, domain.ErrEmptyArchive
	}

	pr, pw := io.Pipe()

	go func() {
		// CloseWithError(nil) is a clean EOF for the reader.
		pw.CloseWithError(WriteArchive(pw, entries))
	}()

	return &archiveReader{pr: pr}, nil
}

// archiveReader wraps the pipe's read end so that Close is idempotent and
// always unblocks the producer.
type archiveReader struct {
	pr   *io.PipeReader
	once sync.Once
	err  error
}

func (r *archiveReader) Read(p []byte) (int, error) {
	return r.pr.Read(p)
}

func (r *archiveReader) Close() error {
	r.once.Do(func() {
		r.err = r.pr.Close()
	})
	return r.err
}
