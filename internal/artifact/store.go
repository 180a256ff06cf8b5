// Package artifact provides the ephemeral filesystem store for finished
// export archives. Artifacts live for a fixed TTL after creation and are
// reaped lazily on access plus periodically by the lifecycle sweep.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebwren/versio-api/internal/domain"
)

// Store keeps one archive per job under a single directory. Filenames are
// deterministic, so a redelivered job overwrites its own previous artifact
// instead of accumulating copies.
type Store struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	mu      sync.Mutex
	expires map[uuid.UUID]time.Time
}

// NewStore opens the store rooted at dir, creating it if needed, and rebuilds
// the expiry index from the files already on disk. An artifact written by a
// previous process run keeps its remaining TTL, measured from its mod time.
func NewStore(dir string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	s := &Store{
		dir:     dir,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		expires: make(map[uuid.UUID]time.Time),
	}

	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Filename returns the deterministic archive filename for a job.
func Filename(jobID uuid.UUID) string {
	return "export-" + jobID.String() + ".zip"
}

// rebuildIndex scans the directory and restores expiry bookkeeping for
// surviving artifacts. Files that don't match the naming scheme are left
// alone but excluded from the index.
func (s *Store) rebuildIndex() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan artifact directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := parseFilename(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		s.expires[id] = info.ModTime().Add(s.ttl)
	}

	if len(s.expires) > 0 {
		s.logger.Info("restored artifact index", "count", len(s.expires))
	}
	return nil
}

func parseFilename(name string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(name, "export-")
	if !ok {
		return uuid.Nil, false
	}
	raw, ok = strings.CutSuffix(raw, ".zip")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Save writes the archive produced by the write callback, replacing any
// previous artifact for the job in one atomic rename. Returns the artifact's
// expiry time.
func (s *Store) Save(ctx context.Context, jobID uuid.UUID, write func(w io.Writer) error) (time.Time, error) {
	tmp, err := os.CreateTemp(s.dir, "export-*.zip.tmp")
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: create artifact temp file: %v", domain.ErrTransient, err)
	}

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	if err := write(tmp); err != nil {
		cleanup()
		return time.Time{}, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return time.Time{}, fmt.Errorf("%w: flush artifact: %v", domain.ErrTransient, err)
	}

	final := filepath.Join(s.dir, Filename(jobID))
	if err := os.Rename(tmp.Name(), final); err != nil {
		cleanup()
		return time.Time{}, fmt.Errorf("%w: publish artifact: %v", domain.ErrTransient, err)
	}

	expiresAt := s.now().Add(s.ttl).UTC()

	s.mu.Lock()
	s.expires[jobID] = expiresAt
	s.mu.Unlock()

	s.logger.Debug("artifact saved", "job_id", jobID, "expires_at", expiresAt)
	return expiresAt, nil
}

// Open returns the artifact for reading along with its size. An expired
// artifact is reaped on the spot and reported as ErrArtifactNotFound, so a
// request arriving between sweeps cannot read a stale archive.
func (s *Store) Open(ctx context.Context, jobID uuid.UUID) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	expiresAt, ok := s.expires[jobID]
	if ok && !expiresAt.After(s.now()) {
		s.removeLocked(jobID)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, 0, fmt.Errorf("%w: job %s", domain.ErrArtifactNotFound, jobID)
	}

	f, err := os.Open(filepath.Join(s.dir, Filename(jobID)))
	if errors.Is(err, fs.ErrNotExist) {
		// Index said yes, disk says no. Drop the stale index entry.
		s.mu.Lock()
		delete(s.expires, jobID)
		s.mu.Unlock()
		return nil, 0, fmt.Errorf("%w: job %s", domain.ErrArtifactNotFound, jobID)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open artifact: %v", domain.ErrTransient, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: stat artifact: %v", domain.ErrTransient, err)
	}

	return f, info.Size(), nil
}

// Exists reports whether a live artifact is present for the job, reaping it
// first if its TTL has passed.
func (s *Store) Exists(jobID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.expires[jobID]
	if !ok {
		return false
	}
	if !expiresAt.After(s.now()) {
		s.removeLocked(jobID)
		return false
	}
	return true
}

// Delete removes the job's artifact. Deleting an absent artifact is a no-op.
func (s *Store) Delete(jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(jobID)
}

// Sweep reaps every expired artifact and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for id, expiresAt := range s.expires {
		if expiresAt.After(now) {
			continue
		}
		if err := s.removeLocked(id); err != nil {
			s.logger.Error("failed to reap expired artifact", "job_id", id, "error", err)
			continue
		}
		reaped++
	}

	if reaped > 0 {
		s.logger.Info("reaped expired artifacts", "count", reaped)
	}
	return reaped
}

// removeLocked deletes the file and the index entry. Caller holds s.mu.
func (s *Store) removeLocked(jobID uuid.UUID) error {
	err := os.Remove(filepath.Join(s.dir, Filename(jobID)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove artifact: %v", domain.ErrTransient, err)
	}
	delete(s.expires, jobID)
	return nil
}
