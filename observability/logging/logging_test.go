package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNewRenamesStandardKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "bountyd", "test", slog.LevelInfo)
	logger.Info("bounty created", slog.String("component", "engine"), MaskField("payload", "ciphertext"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("expected %q in %v", key, line)
		}
	}
	if line["severity"] != "INFO" || line["service"] != "bountyd" {
		t.Fatalf("unexpected line %v", line)
	}
	if line["payload"] != RedactedValue {
		t.Fatalf("expected payload to be masked, got %v", line["payload"])
	}
	if line["component"] != "engine" {
		t.Fatalf("expected component to pass through")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "svc", "", ParseLevel("warn"))
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level")
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("expected warn to be written")
	}
}

func TestSetupWithOptionsWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bountyd.log")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger, closer := SetupWithOptions("bountyd", "test", Options{File: path, MaxSizeMB: 1})
	logger.Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"message":"hello"`)) {
		t.Fatalf("expected message in file, got %s", data)
	}
}

func TestMaskValue(t *testing.T) {
	if MaskValue("") != "" || MaskValue("secret") != RedactedValue {
		t.Fatalf("unexpected masking")
	}
	if !IsAllowlisted(" Bounty ") {
		t.Fatalf("expected bounty key to be allowlisted")
	}
	if IsAllowlisted("submitter") || IsAllowlisted("reference") {
		t.Fatalf("informant fields must not be allowlisted")
	}
}

func TestHandlerMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "bountyd", "test", slog.LevelInfo).With("token", "eyJhbGciOi")
	logger.Info("tip submitted",
		slog.String("encryptedPayload", "c2VhbGVk"),
		slog.Any("proof", []byte("photo")),
		slog.String("secret", ""),
		slog.String("bounty", "0xabc"),
	)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, key := range []string{"token", "encryptedPayload", "proof"} {
		if line[key] != RedactedValue {
			t.Fatalf("expected %s masked, got %v", key, line[key])
		}
	}
	if line["secret"] != "" {
		t.Fatalf("empty values should pass through, got %v", line["secret"])
	}
	if line["bounty"] != "0xabc" {
		t.Fatalf("expected bounty id readable, got %v", line["bounty"])
	}
	if bytes.Contains(buf.Bytes(), []byte("c2VhbGVk")) || bytes.Contains(buf.Bytes(), []byte("eyJhbGciOi")) {
		t.Fatalf("sensitive value leaked: %s", buf.Bytes())
	}
}
