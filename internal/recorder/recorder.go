// Package recorder persists finished training sessions as on-disk bundles:
// a snappy-framed JSONL stream of the event history, a zstd-compressed result
// summary, and a manifest describing the layout for offline tooling.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"letterfall/engine/internal/session"
	"letterfall/engine/internal/stats"
)

var bundleNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version     int    `json:"version"`
	CreatedAt   string `json:"created_at"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	SessionType string `json:"session_type"`
	HistoryPath string `json:"history_path"`
	SummaryPath string `json:"summary_path"`
}

// Writer streams one session's artefacts into a dedicated bundle directory.
type Writer struct {
	mu            sync.Mutex
	dir           string
	now           func() time.Time
	historyFile   *os.File
	historyStream *snappy.Writer
	summaryPath   string
	closed        bool
}

// NewWriter prepares the bundle directory and opens the history sink.
func NewWriter(root, sessionID, userID, sessionType string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("recording root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := bundleNameCleaner.ReplaceAllString(sessionID, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(root, folder)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	historyPath := filepath.Join(path, "history.jsonl.sz")
	summaryPath := filepath.Join(path, "summary.json.zst")
	manifestPath := filepath.Join(path, "manifest.json")

	historyFile, err := os.Create(historyPath)
	if err != nil {
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:     1,
		CreatedAt:   created.Format(time.RFC3339Nano),
		SessionID:   sessionID,
		UserID:      userID,
		SessionType: sessionType,
		HistoryPath: "history.jsonl.sz",
		SummaryPath: "summary.json.zst",
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		historyFile.Close()
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		historyFile.Close()
		return nil, Manifest{}, err
	}

	writer := &Writer{
		dir:           path,
		now:           clock,
		historyFile:   historyFile,
		historyStream: snappy.NewBufferedWriter(historyFile),
		summaryPath:   summaryPath,
	}
	return writer, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendEntry writes one resolved event to the compressed history stream.
func (w *Writer) AppendEntry(entry stats.HistoryEntry) error {
	if w == nil {
		return fmt.Errorf("recorder not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("recorder already closed")
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := w.historyStream.Write(line); err != nil {
		return err
	}
	if _, err := w.historyStream.Write([]byte("\n")); err != nil {
		return err
	}
	//1.- Flush per line so a crash loses at most the entry being written.
	return w.historyStream.Flush()
}

// WriteSummary persists the final result as a zstd-compressed JSON document.
func (w *Writer) WriteSummary(result *session.Result) error {
	if w == nil {
		return fmt.Errorf("recorder not initialised")
	}
	if result == nil {
		return fmt.Errorf("result must be provided")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Create(w.summaryPath)
	if err != nil {
		return err
	}
	stream, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		stream.Close()
		file.Close()
		return err
	}
	if _, err := stream.Write(payload); err != nil {
		stream.Close()
		file.Close()
		return err
	}
	if err := stream.Close(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Close flushes and releases the history sink. It is safe to call twice.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	if err := w.historyStream.Flush(); err != nil {
		firstErr = err
	}
	if err := w.historyStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.historyFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Save writes a complete bundle for a finished session in one call: the full
// history stream, the summary, and the manifest.
func Save(root string, result *session.Result, sessionID, userID string, clock func() time.Time) (string, error) {
	if result == nil {
		return "", fmt.Errorf("result must be provided")
	}
	writer, _, err := NewWriter(root, sessionID, userID, string(result.SessionType), clock)
	if err != nil {
		return "", err
	}
	for _, entry := range result.History {
		if err := writer.AppendEntry(entry); err != nil {
			writer.Close()
			return "", err
		}
	}
	if err := writer.WriteSummary(result); err != nil {
		writer.Close()
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	return writer.Directory(), nil
}
