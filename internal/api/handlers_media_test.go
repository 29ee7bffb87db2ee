package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/app"
	"github.com/cinelux/entitlement-service/internal/domain"
	"github.com/cinelux/entitlement-service/internal/store"
)

type mediaRepoStub struct {
	store.Repository

	media map[uuid.UUID]*domain.MediaFile
}

func (s *mediaRepoStub) FindMediaFileByID(ctx context.Context, id uuid.UUID) (*domain.MediaFile, error) {
	media, ok := s.media[id]
	if !ok {
		return nil, store.ErrMediaNotFound
	}
	return media, nil
}

type readSeekNopCloser struct{ *bytes.Reader }

func (readSeekNopCloser) Close() error { return nil }

type mediaArtifactsStub struct {
	content map[string][]byte
}

func (s *mediaArtifactsStub) OpenMedia(path string) (io.ReadSeekCloser, int64, error) {
	content, ok := s.content[path]
	if !ok {
		return nil, 0, errors.New("media original missing")
	}
	return readSeekNopCloser{bytes.NewReader(content)}, int64(len(content)), nil
}

func (s *mediaArtifactsStub) Materialize(ctx context.Context, mediaPath string, downloadID uuid.UUID) (string, int64, error) {
	return "", 0, errors.New("not supported")
}

func (s *mediaArtifactsStub) Remove(path string) error { return nil }

func newMediaTestServer(t *testing.T, size int) (*chi.Mux, uuid.UUID, []byte) {
	t.Helper()

	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}

	media := &domain.MediaFile{
		ID:          uuid.New(),
		Title:       "feature film",
		StoragePath: "originals/feature.mp4",
		SizeBytes:   int64(size),
		ContentType: "video/mp4",
	}
	repo := &mediaRepoStub{media: map[uuid.UUID]*domain.MediaFile{media.ID: media}}
	artifacts := &mediaArtifactsStub{content: map[string][]byte{media.StoragePath: content}}

	service := app.NewService(repo, nil, artifacts, nil, nil, nil)
	handler := NewHandler(service, "")

	r := chi.NewRouter()
	r.Get("/media/{media_id}/stream", handler.handleStreamMedia)
	return r, media.ID, content
}

func streamRequest(router *chi.Mux, mediaID uuid.UUID, rangeHeader string, authenticated bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", fmt.Sprintf("/media/%s/stream", mediaID), nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	if authenticated {
		req = req.WithContext(ContextWithUser(req.Context(), uuid.New()))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStreamMedia_FullFile(t *testing.T) {
	router, mediaID, content := newMediaTestServer(t, 1000)

	rec := streamRequest(router, mediaID, "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("expected Accept-Ranges: bytes, got %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "1000" {
		t.Fatalf("expected Content-Length 1000, got %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Fatal("expected full file body")
	}
}

func TestStreamMedia_PartialContent(t *testing.T) {
	router, mediaID, content := newMediaTestServer(t, 1000)

	rec := streamRequest(router, mediaID, "bytes=100-199", true)
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Fatalf("expected Content-Range bytes 100-199/1000, got %q", got)
	}
	if rec.Body.Len() != 100 {
		t.Fatalf("expected exactly 100 bytes, got %d", rec.Body.Len())
	}
	if !bytes.Equal(rec.Body.Bytes(), content[100:200]) {
		t.Fatal("expected bytes 100-199 of the file")
	}
}

func TestStreamMedia_OpenEndedRange(t *testing.T) {
	router, mediaID, content := newMediaTestServer(t, 1000)

	rec := streamRequest(router, mediaID, "bytes=900-", true)
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 900-999/1000" {
		t.Fatalf("expected Content-Range bytes 900-999/1000, got %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), content[900:]) {
		t.Fatal("expected the file tail")
	}
}

func TestStreamMedia_EndClampedToSize(t *testing.T) {
	router, mediaID, _ := newMediaTestServer(t, 1000)

	rec := streamRequest(router, mediaID, "bytes=990-5000", true)
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 990-999/1000" {
		t.Fatalf("expected clamped Content-Range, got %q", got)
	}
}

func TestStreamMedia_RangeBeyondSize(t *testing.T) {
	router, mediaID, _ := newMediaTestServer(t, 1000)

	rec := streamRequest(router, mediaID, "bytes=1000-1100", true)
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416 for start beyond file size, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */1000" {
		t.Fatalf("expected Content-Range bytes */1000 on 416, got %q", got)
	}
}

func TestStreamMedia_MalformedRange(t *testing.T) {
	router, mediaID, _ := newMediaTestServer(t, 1000)

	rec := streamRequest(router, mediaID, "bytes=abc-def", true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed range, got %d", rec.Code)
	}
}

func TestStreamMedia_UnknownMedia(t *testing.T) {
	router, _, _ := newMediaTestServer(t, 1000)

	rec := streamRequest(router, uuid.New(), "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown media, got %d", rec.Code)
	}
}

func TestStreamMedia_Unauthenticated(t *testing.T) {
	router, mediaID, _ := newMediaTestServer(t, 1000)

	rec := streamRequest(router, mediaID, "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}
}

func TestParseByteRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantErr   error
	}{
		{name: "simple range", header: "bytes=0-99", size: 1000, wantStart: 0, wantEnd: 99},
		{name: "open ended", header: "bytes=500-", size: 1000, wantStart: 500, wantEnd: 999},
		{name: "end clamped", header: "bytes=500-2000", size: 1000, wantStart: 500, wantEnd: 999},
		{name: "single byte", header: "bytes=999-999", size: 1000, wantStart: 999, wantEnd: 999},
		{name: "first of multi range wins", header: "bytes=0-9,20-29", size: 1000, wantStart: 0, wantEnd: 9},
		{name: "start at size", header: "bytes=1000-", size: 1000, wantErr: errRangeNotSatisfiable},
		{name: "inverted range", header: "bytes=200-100", size: 1000, wantErr: errRangeNotSatisfiable},
		{name: "missing prefix", header: "0-99", size: 1000, wantErr: errMalformedRange},
		{name: "suffix range unsupported", header: "bytes=-500", size: 1000, wantErr: errMalformedRange},
		{name: "garbage", header: "bytes=a-b", size: 1000, wantErr: errMalformedRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parseByteRange(tt.header, tt.size)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if start != tt.wantStart || end != tt.wantEnd {
				t.Fatalf("expected [%d,%d], got [%d,%d]", tt.wantStart, tt.wantEnd, start, end)
			}
		})
	}
}
