// Package debuglog writes per-session JSONL traces of provider traffic.
// Every method is safe on a nil *Logger so callers can thread an optional
// logger without guarding each call site.
package debuglog

import (
	"bufio"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger appends JSON lines to one file per session.
type Logger struct {
	sessionID string
	file      *os.File
	writer    *bufio.Writer

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

type logEntry struct {
	Timestamp string `json:"ts"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
}

type requestEntry struct {
	logEntry
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
}

type eventEntry struct {
	logEntry
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// New opens (or creates) the session's log file under baseDir. Logs older
// than the retention window are removed on open.
func New(baseDir, sessionID string) (*Logger, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	_ = CleanupOldLogs(baseDir, 7*24*time.Hour)

	file, err := os.OpenFile(filepath.Join(baseDir, sessionID+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &Logger{
		sessionID: sessionID,
		file:      file,
		writer:    bufio.NewWriter(file),
	}, nil
}

// redactedHeaders lists headers whose values must never reach disk.
var redactedHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
}

// LogRequest records an outbound provider request. Auth headers are
// redacted and ?key= query values are masked.
func (l *Logger) LogRequest(provider, model, method, url string, header http.Header, body []byte) {
	if l == nil {
		return
	}
	headers := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) == 0 {
			continue
		}
		if redactedHeaders[strings.ToLower(name)] {
			headers[name] = "[redacted]"
		} else {
			headers[name] = values[0]
		}
	}
	entry := requestEntry{
		logEntry: l.entry("request"),
		Provider: provider,
		Model:    model,
		Method:   method,
		URL:      redactKeyParam(url),
		Headers:  headers,
	}
	if json.Valid(body) {
		entry.Body = body
	}
	l.writeEntry(entry)
	l.Flush()
}

// LogEvent records a named event with an arbitrary payload.
func (l *Logger) LogEvent(event string, data any) {
	if l == nil {
		return
	}
	l.writeEntry(eventEntry{logEntry: l.entry("event"), Event: event, Data: data})
}

// redactKeyParam masks the value of a key= query parameter.
func redactKeyParam(url string) string {
	idx := strings.Index(url, "key=")
	if idx < 0 {
		return url
	}
	end := strings.IndexByte(url[idx:], '&')
	if end < 0 {
		return url[:idx] + "key=[redacted]"
	}
	return url[:idx] + "key=[redacted]" + url[idx+end:]
}

func (l *Logger) entry(kind string) logEntry {
	return logEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: l.sessionID,
		Type:      kind,
	}
}

func (l *Logger) writeEntry(entry any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.writer.Write(data)
	l.writer.WriteString("\n")
}

// Flush forces buffered entries to disk.
func (l *Logger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.writer.Flush()
	}
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var closeErr error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.writer.Flush(); err != nil {
			closeErr = err
		}
		if err := l.file.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		l.closed = true
	})
	return closeErr
}

// CleanupOldLogs removes .jsonl files older than maxAge from baseDir.
func CleanupOldLogs(baseDir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(baseDir, entry.Name()))
		}
	}
	return nil
}
