package log

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
)

func TestChildLoggersChainDirectly(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithComponent("orchestrator").Info().Msg("started")
	WithService("checkout").Warn().Msg("slow")
	WithRelease("rel-123").Error().Msg("failed")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("failed to parse log line: %v", err)
	}
	if first["component"] != "orchestrator" {
		t.Errorf("expected component=orchestrator, got %v", first["component"])
	}

	var third map[string]any
	if err := json.Unmarshal(lines[2], &third); err != nil {
		t.Fatalf("failed to parse log line: %v", err)
	}
	if third["release_id"] != "rel-123" {
		t.Errorf("expected release_id=rel-123, got %v", third["release_id"])
	}
	if third["level"] != "error" {
		t.Errorf("expected level=error, got %v", third["level"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: ErrorLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { Init(Config{Level: DebugLevel, JSONOutput: true, Output: io.Discard}) })

	WithComponent("api").Debug().Msg("dropped")
	WithComponent("api").Error().Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
}
