package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewWithWriterTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "api", slog.LevelInfo)
	log.Debug("hidden")
	log.Info("deploy finished", "project_id", "p1")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if record["service"] != "api" {
		t.Fatalf("expected service attribute, got %v", record["service"])
	}
	if record["project_id"] != "p1" {
		t.Fatalf("expected project_id attribute, got %v", record["project_id"])
	}
}
