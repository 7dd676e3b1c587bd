package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDownloader(t *testing.T) {
	options := DefaultOptions()
	downloader := NewDownloader(options)

	if downloader == nil {
		t.Fatal("NewDownloader returned nil")
	}

	if downloader.client == nil {
		t.Error("Expected HTTP client to be initialized")
	}

	if downloader.client.Timeout != options.Timeout {
		t.Errorf("Expected timeout %v, got %v", options.Timeout, downloader.client.Timeout)
	}
}

func TestFetch_Success(t *testing.T) {
	audioData := strings.Repeat("audio-data", 128) // 1280 bytes
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(audioData))
	}))
	defer server.Close()

	var lastProgress int64
	options := DefaultOptions()
	options.ProgressFunc = func(downloaded, total int64) { lastProgress = downloaded }
	downloader := NewDownloader(options)

	result, err := downloader.Fetch(context.Background(), server.URL+"/beats/track.mp3?sig=1")
	if err != nil {
		t.Fatalf("Expected successful download, got error: %v", err)
	}

	if result.ContentType != "audio/mpeg" {
		t.Errorf("Expected content type 'audio/mpeg', got %v", result.ContentType)
	}
	if result.ContentLength != 1280 || len(result.Data) != 1280 {
		t.Errorf("Expected 1280 bytes, got %d", result.ContentLength)
	}
	if result.Extension != "mp3" {
		t.Errorf("Expected extension mp3, got %q", result.Extension)
	}
	if gotUA != options.UserAgent {
		t.Errorf("Expected User-Agent %q, got %q", options.UserAgent, gotUA)
	}
	if lastProgress != 1280 {
		t.Errorf("Expected progress callback to reach 1280, got %d", lastProgress)
	}
}

func TestFetch_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		handler http.HandlerFunc
		maxSize int64
		check   func(t *testing.T, err error)
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
					t.Errorf("Expected StatusError 403, got %v", err)
				}
			},
		},
		{
			name: "html instead of audio",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html></html>"))
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrInvalidContentType) {
					t.Errorf("Expected ErrInvalidContentType, got %v", err)
				}
			},
		},
		{
			name: "declared length too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "audio/mpeg")
				_, _ = w.Write([]byte(strings.Repeat("x", 200)))
			},
			maxSize: 100,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrTooLarge) {
					t.Errorf("Expected ErrTooLarge, got %v", err)
				}
			},
		},
		{
			name: "chunked body too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "audio/mpeg")
				flusher := w.(http.Flusher)
				for i := 0; i < 4; i++ {
					_, _ = w.Write([]byte(strings.Repeat("x", 50)))
					flusher.Flush()
				}
			},
			maxSize: 100,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrTooLarge) {
					t.Errorf("Expected ErrTooLarge, got %v", err)
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			options := DefaultOptions()
			if tc.maxSize > 0 {
				options.MaxSize = tc.maxSize
			}
			_, err := NewDownloader(options).Fetch(context.Background(), server.URL)
			if err == nil {
				t.Fatal("Expected an error")
			}
			tc.check(t, err)
		})
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewDownloader(DefaultOptions()).Fetch(ctx, server.URL)
	if err == nil {
		t.Fatal("Expected error for cancelled context")
	}
}

func TestIsAudioContentType(t *testing.T) {
	testCases := []struct {
		contentType string
		expected    bool
	}{
		{"audio/mpeg", true},
		{"audio/mp3", true},
		{"AUDIO/MPEG", true},
		{"application/octet-stream", true},
		{"binary/octet-stream", true},
		{"text/html", false},
		{"application/json", false},
		{"", false},
	}

	for _, tc := range testCases {
		result := isAudioContentType(tc.contentType)
		if result != tc.expected {
			t.Errorf("isAudioContentType(%q) = %v, expected %v", tc.contentType, result, tc.expected)
		}
	}
}

func TestExtensionFromURL(t *testing.T) {
	testCases := map[string]string{
		"https://cdn.example.com/a/b.mp3":           "mp3",
		"https://cdn.example.com/a/b.M4A?token=abc": "m4a",
		"https://cdn.example.com/a/b.txt":           "",
		"https://cdn.example.com/download?id=1":     "",
	}

	for url, expected := range testCases {
		if got := extensionFromURL(url); got != expected {
			t.Errorf("extensionFromURL(%q) = %q, expected %q", url, got, expected)
		}
	}
}

func TestCleanupOldTempFiles(t *testing.T) {
	tmpDir := t.TempDir()

	oldDir, err := os.MkdirTemp(tmpDir, "fetch-abc-*")
	if err != nil {
		t.Fatalf("Failed to create old dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(oldDir, "abc.m4a.part"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	newDir, err := os.MkdirTemp(tmpDir, "fetch-def-*")
	if err != nil {
		t.Fatalf("Failed to create new dir: %v", err)
	}

	unrelated, err := os.CreateTemp(tmpDir, "keep-*")
	if err != nil {
		t.Fatal(err)
	}
	unrelated.Close()

	oldTime := time.Now().Add(-2 * time.Hour)
	_ = os.Chtimes(oldDir, oldTime, oldTime)
	_ = os.Chtimes(unrelated.Name(), oldTime, oldTime)

	removed, err := CleanupOldTempFiles(tmpDir, "fetch-*", time.Hour)
	if err != nil {
		t.Errorf("CleanupOldTempFiles failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removal, got %d", removed)
	}

	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("Old directory should have been cleaned up")
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Error("New directory should still exist")
	}
	if _, err := os.Stat(unrelated.Name()); err != nil {
		t.Error("Files outside the pattern should be kept")
	}
}
