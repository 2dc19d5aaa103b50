package observe

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := New(buf, true)

	if obs == nil {
		t.Fatal("expected non-nil Observer")
	}
	if obs.log == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := NewJSON(buf, true)

	if obs == nil {
		t.Fatal("expected non-nil Observer")
	}
	if obs.log == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestObserver_Log(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := New(buf, true)

	obs.Log().Info().Str("session", "sess-123").Msg("search complete")

	output := buf.String()
	if !strings.Contains(output, "search complete") {
		t.Errorf("expected output to contain 'search complete', got %q", output)
	}
}

func TestObserver_Quiet(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := New(buf, false)

	obs.Log().Info().Msg("hidden")
	obs.Log().Warn().Msg("visible")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("info should be suppressed when not verbose, got %q", output)
	}
	if !strings.Contains(output, "visible") {
		t.Errorf("warnings should pass when not verbose, got %q", output)
	}
}

func TestObserver_StartSpan(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := New(buf, true)

	ctx, span := obs.StartSpan(context.Background(), "web_search")
	if ctx == nil {
		t.Fatal("expected non-nil context from StartSpan")
	}
	if span == nil {
		t.Fatal("expected non-nil span from StartSpan")
	}
	span.End()
}

func TestObserver_Close(t *testing.T) {
	obs := New(&bytes.Buffer{}, true)
	if err := obs.Close(); err != nil {
		t.Errorf("expected nil error from Close, got %v", err)
	}
}
