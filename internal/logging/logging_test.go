package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer closer.Close()

	logger.Info().Msg("hidden")
	logger.Warn().Str("device", "speaker").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected info message to be filtered")
	}
	if !strings.Contains(out, `"device":"speaker"`) || !strings.Contains(out, `"time"`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Errorf("Expected console output, got %q", buf.String())
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kikimimi.log")
	var buf bytes.Buffer
	logger, closer, err := New(Options{File: path}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info().Msg("to file")
	_ = closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), `"message":"to file"`) {
		t.Errorf("unexpected file content: %s", data)
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, _, err := New(Options{Level: "loud"}, nil); err == nil {
		t.Error("Expected error for invalid level")
	}
	if _, _, err := New(Options{Format: "xml"}, nil); err == nil {
		t.Error("Expected error for invalid format")
	}
}
