package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loom/internal/services"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "missing credentials",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name:    "blank credentials",
			cfg:     Config{Username: "   ", APIKey: "   "},
			wantErr: true,
		},
		{
			name:    "missing api key",
			cfg:     Config{Username: "alice"},
			wantErr: true,
		},
		{
			name:    "valid minimal config",
			cfg:     Config{Username: "alice", APIKey: "k"},
			wantErr: false,
		},
		{
			name:    "invalid base url",
			cfg:     Config{Username: "alice", APIKey: "k", BaseURL: "://invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client == nil {
				t.Error("expected client, got nil")
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	client, err := New(Config{Username: "alice", APIKey: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client.baseURL.String() != defaultBaseURL {
		t.Errorf("baseURL = %q, want %q", client.baseURL.String(), defaultBaseURL)
	}
	if client.maxResults != defaultMaxResults {
		t.Errorf("maxResults = %d, want %d", client.maxResults, defaultMaxResults)
	}
}

func TestSearchSendsAuthAndQuery(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		resp := []map[string]any{
			{"ref": "alice/cats", "title": "Cats", "totalBytes": 1234, "downloadCount": 99},
			{"ref": "", "title": "broken entry"},
			{"ref": "bob/dogs", "title": "Dogs", "totalBytes": 5678, "downloadCount": 12},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := New(Config{Username: "alice", APIKey: "secret", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	listings, err := client.Search(context.Background(), "cat pictures")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings (entry without ref dropped), got %d", len(listings))
	}
	if listings[0].Ref != "alice/cats" || listings[0].SizeBytes != 1234 || listings[0].Downloads != 99 {
		t.Fatalf("unexpected first listing: %+v", listings[0])
	}

	if captured == nil {
		t.Fatal("expected request to be captured")
	}
	if captured.URL.Path != "/datasets/list" {
		t.Fatalf("unexpected path %q", captured.URL.Path)
	}
	user, pass, ok := captured.BasicAuth()
	if !ok || user != "alice" || pass != "secret" {
		t.Fatalf("expected basic auth alice/secret, got %q/%q", user, pass)
	}
	values, _ := url.ParseQuery(captured.URL.RawQuery)
	if got := values.Get("search"); got != "cat pictures" {
		t.Fatalf("expected search param, got %q", got)
	}
	if got := values.Get("sortBy"); got != "hottest" {
		t.Fatalf("expected sortBy=hottest, got %q", got)
	}
}

func TestSearchOmitsEmptyQueryParam(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer server.Close()

	client, err := New(Config{Username: "alice", APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := client.Search(context.Background(), "   "); err != nil {
		t.Fatalf("Search: %v", err)
	}
	values, _ := url.ParseQuery(captured.URL.RawQuery)
	if _, present := values["search"]; present {
		t.Fatalf("blank query should omit the search param, got %q", captured.URL.RawQuery)
	}
	if values.Get("sortBy") != "hottest" {
		t.Fatalf("expected sortBy=hottest, got %q", captured.URL.RawQuery)
	}
}

func TestSearchTruncatesToMaxResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := []map[string]any{
			{"ref": "a/one"},
			{"ref": "b/two"},
			{"ref": "c/three"},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := New(Config{Username: "alice", APIKey: "k", BaseURL: server.URL, MaxResults: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	listings, err := client.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}
	if listings[0].Ref != "a/one" || listings[1].Ref != "b/two" {
		t.Fatalf("truncation should keep the head of the list, got %+v", listings)
	}
}

func TestSearchClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		marker error
	}{
		{name: "not found", status: http.StatusNotFound, marker: services.ErrNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, marker: services.ErrConfiguration},
		{name: "forbidden", status: http.StatusForbidden, marker: services.ErrConfiguration},
		{name: "server error", status: http.StatusInternalServerError, marker: services.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("upstream said no"))
			}))
			defer server.Close()

			client, err := New(Config{Username: "alice", APIKey: "k", BaseURL: server.URL})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			_, err = client.Search(context.Background(), "cats")
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if !errors.Is(err, tt.marker) {
				t.Fatalf("status %d classified as %v, want %v", tt.status, err, tt.marker)
			}
			if !strings.Contains(err.Error(), "upstream said no") {
				t.Fatalf("error should carry the response body: %v", err)
			}
		})
	}
}

func TestDownloadArchiveWritesRefNamedFile(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		_, _ = w.Write([]byte("zip-bytes"))
	}))
	defer server.Close()

	client, err := New(Config{Username: "alice", APIKey: "secret", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	destDir := t.TempDir()
	localPath, err := client.DownloadArchive(context.Background(), "alice/cats", destDir)
	if err != nil {
		t.Fatalf("DownloadArchive: %v", err)
	}
	if want := filepath.Join(destDir, "alice_cats.zip"); localPath != want {
		t.Fatalf("local path = %q, want %q", localPath, want)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(data) != "zip-bytes" {
		t.Fatalf("unexpected archive contents %q", data)
	}

	if captured.URL.Path != "/datasets/download/alice/cats" {
		t.Fatalf("unexpected path %q", captured.URL.Path)
	}
	if user, pass, ok := captured.BasicAuth(); !ok || user != "alice" || pass != "secret" {
		t.Fatal("expected download request to carry basic auth")
	}
}

func TestDownloadArchiveRejectsMalformedRef(t *testing.T) {
	client, err := New(Config{Username: "alice", APIKey: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, ref := range []string{"catsonly", "/cats", "alice/"} {
		_, err := client.DownloadArchive(context.Background(), ref, t.TempDir())
		if !errors.Is(err, services.ErrValidation) {
			t.Errorf("ref %q: expected validation error, got %v", ref, err)
		}
	}
}

func TestFindBestFallsBackThroughVariants(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("search")
		queries = append(queries, query)
		if query == "cats dogs" {
			_ = json.NewEncoder(w).Encode([]map[string]any{})
			return
		}
		resp := []map[string]any{
			{"ref": "alice/cats", "title": "Cats", "totalBytes": 2 << 30, "downloadCount": 2000},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := New(Config{Username: "alice", APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	best, err := client.FindBest(context.Background(), []string{"cats", "dogs"}, 50)
	if err != nil {
		t.Fatalf("FindBest: %v", err)
	}
	if best.Ref != "alice/cats" {
		t.Fatalf("expected alice/cats, got %s", best.Ref)
	}
	if len(queries) != 2 || queries[0] != "cats dogs" || queries[1] != "cats" {
		t.Fatalf("expected phrase then first keyword, got %v", queries)
	}
}

func TestFindBestStopsOnceAVariantReturnsListings(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		resp := []map[string]any{
			{"ref": "alice/huge", "title": "Huge", "totalBytes": 0, "downloadCount": 2000},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := New(Config{Username: "alice", APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = client.FindBest(context.Background(), []string{"cats", "dogs"}, 50)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found when the batch filters to nothing, got %v", err)
	}
	if requests != 1 {
		t.Fatalf("filtered-out batch must not trigger broader queries, got %d requests", requests)
	}
}

func TestFindBestRejectsEmptyKeywords(t *testing.T) {
	client, err := New(Config{Username: "alice", APIKey: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = client.FindBest(context.Background(), nil, 50)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty keywords, got %v", err)
	}
}

func TestCheckAccessRunsAnAuthenticatedSearch(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer server.Close()

	client, err := New(Config{Username: "alice", APIKey: "secret", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := client.CheckAccess(context.Background()); err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if user, _, ok := captured.BasicAuth(); !ok || user != "alice" {
		t.Fatal("expected CheckAccess to authenticate")
	}
}
