package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-wallhaven-download/internal/models"
)

func TestRedact(t *testing.T) {
	in := "GET /api/v1/search?apikey=s3cr3t&page=1 HTTP/1.1\r\nX-Api-Key: s3cr3t\r\n"
	out := redact(in)

	if strings.Contains(out, "s3cr3t") {
		t.Errorf("API key leaked: %s", out)
	}
	if !strings.Contains(out, "apikey=REDACTED&page=1") {
		t.Errorf("Query parameter not redacted in place: %s", out)
	}
	if !strings.Contains(out, "X-Api-Key: REDACTED") {
		t.Errorf("Header not redacted: %s", out)
	}
}

func TestLoggingTransport_LogsJsonNotImages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/full/") {
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("\x89PNG\r\n\x1a\nbinary"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(searchBody))
	}))
	defer server.Close()

	logPath := filepath.Join(t.TempDir(), "api.log")
	lt, err := NewLoggingTransport(http.DefaultTransport, logPath)
	if err != nil {
		t.Fatalf("NewLoggingTransport failed: %v", err)
	}

	client := NewClient("s3cr3t", &http.Client{Transport: lt}, models.Config{APIBaseURL: server.URL})
	resp, err := client.Search(context.Background(), models.SearchParams{Purity: "100"})
	if err != nil {
		t.Fatalf("Search through logging transport failed: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Errorf("Body must still reach the caller, got %d items", len(resp.Data))
	}

	imgResp, err := (&http.Client{Transport: lt}).Get(server.URL + "/full/abc.png")
	if err != nil {
		t.Fatalf("Image request failed: %v", err)
	}
	imgResp.Body.Close()

	CloseAllLoggingTransports()

	logged, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Reading log failed: %v", err)
	}
	text := string(logged)
	if strings.Contains(text, "s3cr3t") {
		t.Error("API key written to api.log")
	}
	if !strings.Contains(text, `"id":"abc123"`) {
		t.Error("JSON response body missing from api.log")
	}
	if !strings.Contains(text, "(body not logged)") || strings.Contains(text, "binary") {
		t.Error("Image bodies must not be logged")
	}
}
