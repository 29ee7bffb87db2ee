/**
 * @description
 * This package implements the filesystem artifact store used by the download
 * manager and the media streaming endpoint. Media originals live under a
 * read-only media root; download artifacts are materialized as copies under a
 * separate download root so their lifecycle is independent of the catalog.
 */
package mediastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidPath is returned for storage paths that escape the configured roots.
var ErrInvalidPath = errors.New("storage path escapes store root")

// Store reads media originals and materializes/removes download artifacts.
type Store struct {
	mediaRoot    string
	downloadRoot string
}

// New creates a Store rooted at the given directories.
func New(mediaRoot, downloadRoot string) *Store {
	return &Store{mediaRoot: mediaRoot, downloadRoot: downloadRoot}
}

func securePath(root, rel string) (string, error) {
	cleaned := filepath.Clean("/" + rel)
	full := filepath.Join(root, cleaned)
	if !strings.HasPrefix(full, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", ErrInvalidPath
	}
	return full, nil
}

// OpenMedia opens a media original for reading and returns its size.
func (s *Store) OpenMedia(rel string) (io.ReadSeekCloser, int64, error) {
	full, err := securePath(s.mediaRoot, rel)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Materialize copies a media original into the download root as the artifact
// for the given download id and returns the artifact's relative path and size.
func (s *Store) Materialize(ctx context.Context, mediaRel string, downloadID uuid.UUID) (string, int64, error) {
	src, _, err := s.OpenMedia(mediaRel)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open media original: %w", err)
	}
	defer src.Close()

	rel := downloadID.String() + filepath.Ext(mediaRel)
	full := filepath.Join(s.downloadRoot, rel)
	if err := os.MkdirAll(s.downloadRoot, 0o755); err != nil {
		return "", 0, err
	}

	dst, err := os.Create(full)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create download artifact: %w", err)
	}

	written, err := copyWithContext(ctx, dst, src)
	if err != nil {
		dst.Close()
		os.Remove(full)
		return "", 0, fmt.Errorf("failed to materialize download artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(full)
		return "", 0, err
	}
	return rel, written, nil
}

// Remove deletes a download artifact. A missing artifact is not an error;
// the quota slot must be reclaimable regardless.
func (s *Store) Remove(rel string) error {
	full, err := securePath(s.downloadRoot, rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// copyWithContext copies in chunks, checking for cancellation between chunks
// so an abandoned request does not keep a large copy running.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
