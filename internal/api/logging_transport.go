package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"go-wallhaven-download/internal/helpers"

	log "github.com/sirupsen/logrus"
)

var (
	activeLoggingTransports []*LoggingTransport
	transportsMu            sync.Mutex

	apiKeyPattern = regexp.MustCompile(`(?i)(apikey=|X-Api-Key: )[^&\s]+`)
)

// LoggingTransport wraps an http.RoundTripper and appends every request and
// response to a log file. API keys are redacted.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	writer    *bufio.Writer
	mu        sync.Mutex
}

// NewLoggingTransport opens logFilePath for appending and registers the
// transport so CloseAllLoggingTransports can flush it on exit.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	safeLogFilePath := helpers.SanitizePath(logFilePath)
	// #nosec G304
	f, err := os.OpenFile(safeLogFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", safeLogFilePath, err)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}

	lt := &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}

	transportsMu.Lock()
	activeLoggingTransports = append(activeLoggingTransports, lt)
	transportsMu.Unlock()
	log.Debugf("Registered LoggingTransport for %s", safeLogFilePath)

	return lt, nil
}

// RoundTrip executes a single HTTP transaction, logging details. JSON bodies
// are logged in full; image bodies only by their headers.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	if reqDump, err := httputil.DumpRequestOut(req, false); err != nil {
		log.WithError(err).Error("[LogTransport] Failed to dump API request")
	} else {
		t.mu.Lock()
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s", startTime.Format(time.RFC3339), redact(string(reqDump))))
		t.mu.Unlock()
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(startTime)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (Duration: %v) ---\n%s", duration, redact(err.Error())))
	} else {
		contentType := resp.Header.Get("Content-Type")
		header, _ := httputil.DumpResponse(resp, false)

		if strings.HasPrefix(contentType, "application/json") {
			bodyBytes, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				log.WithError(readErr).Error("[LogTransport] Failed to read response body")
				resp.Body = io.NopCloser(bytes.NewReader(nil))
				t.writeLog(fmt.Sprintf("--- Response (Duration: %v) ---\n%s(body read failed)", duration, string(header)))
				t.flush()
				return nil, readErr
			}
			resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			t.writeLog(fmt.Sprintf("--- Response (Duration: %v) ---\n%s%s", duration, string(header), string(bodyBytes)))
		} else {
			t.writeLog(fmt.Sprintf("--- Response (Duration: %v, Type: %s) ---\n%s(body not logged)", duration, contentType, string(header)))
		}
	}

	t.flush()
	return resp, err
}

func redact(s string) string {
	return apiKeyPattern.ReplaceAllString(s, "${1}REDACTED")
}

func (t *LoggingTransport) flush() {
	if err := t.writer.Flush(); err != nil {
		log.WithError(err).Error("[LogTransport] Failed to flush log writer")
	}
}

func (t *LoggingTransport) writeLog(logString string) {
	if _, err := t.writer.WriteString(logString + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
	}
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}

// CloseAllLoggingTransports closes every transport created by
// NewLoggingTransport.
func CloseAllLoggingTransports() {
	transportsMu.Lock()
	defer transportsMu.Unlock()

	for _, t := range activeLoggingTransports {
		if err := t.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing logging transport for %s: %v\n", t.logFile.Name(), err)
		}
	}
	log.Debugf("Closed %d logging transports", len(activeLoggingTransports))
	activeLoggingTransports = nil
}
