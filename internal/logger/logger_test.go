package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/lanserve/internal/config"
)

// decodeLines parses every JSON line written to buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("Failed to unmarshal log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter(&buf, config.LogFormatJSON, config.LogLevelWarning)

	lg.Debug("debug message")
	lg.Info("info message")
	lg.Warn("warn message", LogFields{"stack": "IPv6"})
	lg.Error("error message")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d: %v", len(entries), entries)
	}
	if entries[0]["message"] != "warn message" || entries[0]["level"] != "warn" {
		t.Errorf("Unexpected first entry: %v", entries[0])
	}
	if entries[0]["stack"] != "IPv6" {
		t.Errorf("Expected stack field IPv6, got %v", entries[0]["stack"])
	}
	if entries[1]["level"] != "error" {
		t.Errorf("Expected error level, got %v", entries[1]["level"])
	}
	if _, ok := entries[1]["time"]; !ok {
		t.Error("Expected a time field")
	}
}

func TestLogger_MultipleFieldMaps(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter(&buf, config.LogFormatJSON, config.LogLevelDebug)
	lg.Info("start", LogFields{"a": 1}, LogFields{"b": "two"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0]["a"] != float64(1) || entries[0]["b"] != "two" {
		t.Errorf("Fields not merged: %v", entries[0])
	}
}

func TestLogger_AccessServed(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter(&buf, config.LogFormatJSON, config.LogLevelInfo)

	at := time.Date(2024, 5, 1, 12, 30, 45, 123_000_000, time.UTC)
	lg.Access(&AccessRecord{
		Time:     at,
		Stack:    "IPv6",
		Method:   "GET",
		Remote:   "[fe80::1]:51234",
		Local:    "[fe80::2]:80",
		Path:     "/docs",
		Original: "/docs/?x=1",
		Status:   404,
		Headers:  []string{"Content-Type: text/plain"},
		Err:      errors.New("no such file"),
	})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	want := map[string]interface{}{
		"message":  "Incoming request",
		"kind":     "access",
		"at":       "2024-05-01T12:30:45.123Z",
		"stack":    "IPv6",
		"method":   "GET",
		"from":     "[fe80::1]:51234",
		"to":       "[fe80::2]:80",
		"path":     "/docs",
		"original": "/docs/?x=1",
		"status":   float64(404),
		"cause":    "no such file",
	}
	for k, v := range want {
		if e[k] != v {
			t.Errorf("Field %q = %v, want %v", k, e[k], v)
		}
	}
	headers, ok := e["headers"].([]interface{})
	if !ok || len(headers) != 1 || headers[0] != "Content-Type: text/plain" {
		t.Errorf("Unexpected headers field: %v", e["headers"])
	}
	if _, ok := e["terminated"]; ok {
		t.Error("Served request must not carry a terminated field")
	}
	if _, ok := e["size"]; ok {
		t.Error("Record without a size must not carry a size field")
	}
}

func TestLogger_AccessFileSize(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter(&buf, config.LogFormatJSON, config.LogLevelInfo)
	lg.Access(&AccessRecord{
		Time:   time.Now(),
		Stack:  "IPv4",
		Path:   "/big.iso",
		Status: 200,
		Size:   "4.2 GB",
	})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if got := entries[0]["size"]; got != "4.2 GB" {
		t.Errorf("size = %v, want %q", got, "4.2 GB")
	}
}

func TestLogger_AccessRejected(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter(&buf, config.LogFormatJSON, config.LogLevelInfo)
	lg.Access(&AccessRecord{
		Time:     time.Now(),
		Stack:    "IPv4",
		Method:   "GET",
		Remote:   "8.8.8.8:4000",
		Local:    "10.0.0.2:80",
		Path:     "/",
		Original: "/",
		Rejected: "Non-private connection",
	})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0]["terminated"] != "Non-private connection" {
		t.Errorf("Expected terminated reason, got %v", entries[0])
	}
	if entries[0]["message"] != "Connection terminated" {
		t.Errorf("Unexpected message %v", entries[0]["message"])
	}
	if _, ok := entries[0]["status"]; ok {
		t.Error("Rejected request must not carry a status")
	}
}

func TestLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter(&buf, config.LogFormatConsole, config.LogLevelInfo)
	lg.Info("Start-up", LogFields{"port": 8080})

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("Console format produced JSON: %q", out)
	}
	if !strings.Contains(out, "Start-up") || !strings.Contains(out, "port=8080") {
		t.Errorf("Console output missing content: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("Console output to a buffer must not be coloured: %q", out)
	}
}

func TestNewLogger_FileReceivesJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "lanserve.log")
	if err := os.WriteFile(logPath, []byte(`{"existing":true}`+"\n"), 0o644); err != nil {
		t.Fatalf("Failed to seed log file: %v", err)
	}

	target := "stderr"
	lg, err := NewLogger(&config.LoggingConfig{
		LogLevel: config.LogLevelInfo,
		Format:   config.LogFormatConsole,
		Target:   &target,
		File:     &logPath,
	})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	lg.Info("to file", LogFields{"n": 1})
	lg.CloseLogFiles()
	lg.Info("after close")
	lg.CloseLogFiles()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	entries := decodeLines(t, bytes.NewBuffer(data))
	if len(entries) != 2 {
		t.Fatalf("Expected the seeded line plus one record, got %d: %s", len(entries), data)
	}
	if entries[0]["existing"] != true {
		t.Error("Log file was truncated instead of appended")
	}
	if entries[1]["message"] != "to file" {
		t.Errorf("Unexpected record in file: %v", entries[1])
	}
}

func TestNewLogger_Errors(t *testing.T) {
	if _, err := NewLogger(nil); err == nil {
		t.Error("Expected an error for nil config")
	}

	bad := "syslog"
	if _, err := NewLogger(&config.LoggingConfig{Target: &bad}); err == nil {
		t.Error("Expected an error for an invalid target")
	}

	missing := filepath.Join(t.TempDir(), "no", "such", "dir", "x.log")
	_, err := NewLogger(&config.LoggingConfig{File: &missing})
	if err == nil || !strings.Contains(err.Error(), "failed to open log file") {
		t.Errorf("Expected a log file open error, got %v", err)
	}
}

func TestStdLogger(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter(&buf, config.LogFormatJSON, config.LogLevelInfo)
	lg.StdLogger("net/http").Printf("http: TLS handshake error from %s", "1.2.3.4:5")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0]["level"] != "warn" || entries[0]["source"] != "net/http" {
		t.Errorf("Unexpected entry: %v", entries[0])
	}
	if entries[0]["message"] != "http: TLS handshake error from 1.2.3.4:5" {
		t.Errorf("Unexpected message: %v", entries[0]["message"])
	}
}

func TestNewDiscardLogger(t *testing.T) {
	lg := NewDiscardLogger()
	lg.Info("ignored")
	lg.Access(&AccessRecord{Rejected: "x"})
	lg.CloseLogFiles()
}
