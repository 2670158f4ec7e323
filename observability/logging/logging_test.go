package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupWithOptionsWritesJSONAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "saled.log")
	logger, closer := SetupWithOptions(Options{Service: "saled", Env: "test", Level: "debug", File: path, Output: &buf})
	t.Cleanup(func() {
		_ = closer.Close()
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	})

	logger.Debug("purchase committed", slog.String("buyer", "0xabc"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"message":  "purchase committed",
		"severity": "DEBUG",
		"service":  "saled",
		"env":      "test",
		"buyer":    "0xabc",
	} {
		if got := line[key]; got != want {
			t.Fatalf("%s = %v, want %s", key, got, want)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp in %v", line)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read rotated file: %v", err)
	}
	if !bytes.Equal(bytes.TrimSpace(raw), bytes.TrimSpace(buf.Bytes())) {
		t.Fatalf("file copy differs: %q vs %q", raw, buf.Bytes())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, ParseLevel("warn")))
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("warn line missing")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unknown level should default to info")
	}
}

func TestMasking(t *testing.T) {
	if attr := MaskField("signature", "0xdeadbeef"); attr.Value.String() != RedactedValue {
		t.Fatalf("signature not masked: %v", attr)
	}
	if attr := MaskField("Buyer", "0xabc"); attr.Value.String() != "0xabc" {
		t.Fatalf("allowlisted key masked: %v", attr)
	}
	if attr := MaskField("signature", " "); attr.Value.String() != " " {
		t.Fatalf("empty value should pass through")
	}
	if got := MaskSuffix("eyJhbGciOiJIUzI1NiJ9.payload.sig1234", 4); got != RedactedValue+"1234" {
		t.Fatalf("suffix mask = %q", got)
	}
	if got := MaskSuffix("short", 4); got != RedactedValue {
		t.Fatalf("short value should be fully masked, got %q", got)
	}
}
