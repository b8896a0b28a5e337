package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	tests := []struct {
		name   string
		msg    string
		secret string
	}{
		{"openai key", "request failed with key sk-" + strings.Repeat("a", 48), "sk-" + strings.Repeat("a", 48)},
		{"anthropic key", "auth: sk-ant-" + strings.Repeat("b", 95), "sk-ant-" + strings.Repeat("b", 95)},
		{"api key assignment", "api_key=supersecretvalue1234", "supersecretvalue1234"},
		{"bearer token", "Bearer abcdefghij0123456789", "abcdefghij0123456789"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			logger.Info(context.Background(), tt.msg)
			out := buf.String()
			if strings.Contains(out, tt.secret) {
				t.Fatalf("output leaked the secret: %s", out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Fatalf("output missing redaction marker: %s", out)
			}
		})
	}
}

func TestLoggerAddsContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	ctx := AddRequestID(context.Background(), "req-1")
	ctx = AddConversationID(ctx, "conv-1")
	ctx = AddCallerID(ctx, "caller-1")
	logger.Info(ctx, "turn started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if record["request_id"] != "req-1" || record["conversation_id"] != "conv-1" || record["caller_id"] != "caller-1" {
		t.Fatalf("record = %v, want correlation ids", record)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Debug(context.Background(), "invisible")
	logger.Info(context.Background(), "also invisible")
	if buf.Len() != 0 {
		t.Fatalf("output = %q, want nothing below warn", buf.String())
	}

	logger.Warn(context.Background(), "visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unrecognized", "INFO"},
	}
	for _, tt := range tests {
		if got := LogLevelFromString(tt.in).String(); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
