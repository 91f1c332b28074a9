package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func TestWithEndpointAddsField(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	ctx := pslog.ContextWithLogger(context.Background(), logger)
	log := WithEndpoint(ctx, "wss://sync.example.com")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["endpoint"] != "wss://sync.example.com" {
		t.Fatalf("expected endpoint field, got %+v", entry)
	}
}

func TestWithEndpointSkipsDuplicateMarker(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	ctx := ContextWithEndpointLogger(context.Background(), logger.With("endpoint", "wss://a"), "wss://a")
	log := WithEndpoint(ctx, "wss://a")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["endpoint"] != "wss://a" {
		t.Fatalf("expected endpoint field, got %+v", entry)
	}
}

func TestWithProjectAndRequest(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	log := WithRequest(WithProject(logger, "p1"), "req-1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["project"] != "p1" {
		t.Fatalf("expected project field, got %+v", entry)
	}
	if entry["request"] != "req-1" {
		t.Fatalf("expected request field, got %+v", entry)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
