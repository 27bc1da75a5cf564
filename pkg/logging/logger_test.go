package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"WARN", zerolog.WarnLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: &buf,
	})

	logger.Info().Str("endpoint", "/lead/").Msg("test event")

	var event map[string]any
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("Output is not valid JSON: %v (%s)", err, buf.String())
	}

	if event["endpoint"] != "/lead/" {
		t.Errorf("endpoint = %v, want /lead/", event["endpoint"])
	}
	if event["message"] != "test event" {
		t.Errorf("message = %v, want 'test event'", event["message"])
	}
	if runID, ok := event["run_id"].(string); !ok || runID == "" {
		t.Errorf("run_id missing from log event: %v", event)
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{
		Level:  LevelWarn,
		Pretty: false,
		Output: &buf,
	})

	logger.Debug().Msg("debug event")
	logger.Info().Msg("info event")
	logger.Warn().Msg("warn event")

	out := buf.String()
	if strings.Contains(out, "debug event") || strings.Contains(out, "info event") {
		t.Errorf("Events below warn level were logged: %s", out)
	}
	if !strings.Contains(out, "warn event") {
		t.Errorf("Warn event was not logged: %s", out)
	}
}

func TestNewLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: LevelInfo, Pretty: false, Output: &buf})

	logger := NewLogger("closeapi")
	logger.Info().Msg("component event")

	if !strings.Contains(buf.String(), `"component":"closeapi"`) {
		t.Errorf("Expected component field in output: %s", buf.String())
	}
}
