/**
 * @description
 * This file contains the byte-range streaming handler for media files. Range
 * parsing is done by hand so an unsatisfiable range answers 416 with a
 * Content-Range total instead of silently falling back to the full file,
 * which would corrupt playback on seeking clients.
 */
package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/store"
)

// handleStreamMedia serves a media file with partial-content semantics.
func (h *Handler) handleStreamMedia(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserFromContext(r.Context()); !ok {
		h.writeError(w, http.StatusUnauthorized, "", "Could not get user ID from context")
		return
	}

	mediaID, err := uuid.Parse(chi.URLParam(r, "media_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "", "Invalid media ID format")
		return
	}

	media, reader, size, err := h.service.OpenMediaStream(r.Context(), mediaID)
	if err != nil {
		if errors.Is(err, store.ErrMediaNotFound) {
			h.writeError(w, http.StatusNotFound, "", "Media not found")
			return
		}
		log.Printf("level=error component=api endpoint=stream_media outcome=failed media_id=%s err=%v", mediaID, err)
		h.writeError(w, http.StatusInternalServerError, "", "Failed to open media")
		return
	}
	defer reader.Close()

	w.Header().Set("Accept-Ranges", "bytes")
	if media.ContentType != "" {
		w.Header().Set("Content-Type", media.ContentType)
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		written, _ := io.CopyN(w, reader, size)
		h.service.RecordMediaBytesServed(written)
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	if err != nil {
		if errors.Is(err, errRangeNotSatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			h.writeError(w, http.StatusRequestedRangeNotSatisfiable, "", "Requested range not satisfiable")
			return
		}
		h.writeError(w, http.StatusBadRequest, "", "Malformed Range header")
		return
	}

	if _, err := reader.Seek(start, io.SeekStart); err != nil {
		log.Printf("level=error component=api endpoint=stream_media outcome=failed media_id=%s err=%v", mediaID, err)
		h.writeError(w, http.StatusInternalServerError, "", "Failed to read media")
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)

	// A client disconnect surfaces as a write error and ends the copy; the
	// partial transfer is expected during seeking and not logged as a failure.
	written, _ := io.CopyN(w, reader, length)
	h.service.RecordMediaBytesServed(written)
}

var (
	errMalformedRange      = errors.New("malformed range header")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// parseByteRange parses a single "bytes=start-end" range against the given
// size. The end bound is optional and clamped to size-1. Multi-range requests
// are not supported; only the first range is honored.
func parseByteRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, errMalformedRange
	}
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	spec = strings.TrimSpace(spec)

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok || startStr == "" {
		return 0, 0, errMalformedRange
	}

	start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errMalformedRange
	}
	if start >= size {
		return 0, 0, errRangeNotSatisfiable
	}

	if endStr == "" {
		return start, size - 1, nil
	}
	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return 0, 0, errMalformedRange
	}
	if end < start {
		return 0, 0, errRangeNotSatisfiable
	}
	if end > size-1 {
		end = size - 1
	}
	return start, end, nil
}
