package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fanpredict/marketd/internal/domain"
)

// memBlobStore is an in-memory object store implementing the reader and
// deleter interfaces the archive endpoints consume.
type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

func (s *memBlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memBlobStore) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var infos []domain.BlobInfo
	for path, data := range s.objects {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(data))})
		}
	}
	return infos, nil
}

func (s *memBlobStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok, nil
}

func (s *memBlobStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func newArchiveTestServer(t *testing.T, store *memBlobStore) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewArchiveHandler(store, store, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archive", h.ListArchives)
	mux.HandleFunc("GET /api/archive/{path...}", h.Download)
	mux.HandleFunc("DELETE /api/archive/{path...}", h.Delete)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestArchiveListAndDownload(t *testing.T) {
	store := newMemBlobStore()
	store.objects["archive/bets/2026-03/20260301T120000.jsonl"] = []byte(`{"id":"b1"}` + "\n")
	store.objects["archive/bets/2026-04/20260401T120000.jsonl"] = []byte(`{"id":"b2"}` + "\n")
	store.objects["unrelated/key"] = []byte("x")
	srv := newArchiveTestServer(t, store)

	resp, err := http.Get(srv.URL + "/api/archive")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var listed struct {
		Objects []domain.BlobInfo `json:"objects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatal(err)
	}
	// Keys outside archive/ stay invisible.
	if len(listed.Objects) != 2 {
		t.Fatalf("listed %d objects, want 2: %+v", len(listed.Objects), listed.Objects)
	}

	resp, err = http.Get(srv.URL + "/api/archive/bets/2026-03/20260301T120000.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"id":"b1"}`+"\n" {
		t.Fatalf("download body = %q", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestArchiveDownloadMissingAndEscaped(t *testing.T) {
	store := newMemBlobStore()
	store.objects["unrelated/key"] = []byte("x")
	srv := newArchiveTestServer(t, store)

	resp, err := http.Get(srv.URL + "/api/archive/bets/2026-03/missing.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing object status = %d, want 404", resp.StatusCode)
	}

	// A key routed outside the archive prefix must not reach the bucket.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/archive/%2e%2e/unrelated/key", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("escaped path served bucket data")
	}
}

func TestArchiveDelete(t *testing.T) {
	store := newMemBlobStore()
	store.objects["archive/bets/2026-03/20260301T120000.jsonl"] = []byte("{}\n")
	srv := newArchiveTestServer(t, store)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/archive/bets/2026-03/20260301T120000.jsonl", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if _, ok := store.objects["archive/bets/2026-03/20260301T120000.jsonl"]; ok {
		t.Fatal("object still present after delete")
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("repeat delete status = %d, want 404", resp.StatusCode)
	}
}
