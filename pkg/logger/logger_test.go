package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestInitWithWriterRejectsNil(t *testing.T) {
	if err := InitWithWriter(nil); err == nil {
		t.Fatal("expected error for nil writer")
	}
}

func TestLoggerWritesFieldsAndSource(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = Init() }()

	Named("pool").With(String("subject", "alice")).Info(context.Background(), "score resolved", Int("score", 1800))

	out := buf.String()
	for _, want := range []string{"score resolved", "component=pool", "subject=alice", "score=1800", "source=logger_test.go"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = Init() }()

	ctx := context.Background()
	Get().Debug(ctx, "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record written at info level: %q", buf.String())
	}

	if err := SetLevelString("debug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	Get().Debug(ctx, "visible", Error(errors.New("boom")))
	if !bytes.Contains(buf.Bytes(), []byte("visible")) || !bytes.Contains(buf.Bytes(), []byte("error=boom")) {
		t.Fatalf("expected debug record, got %q", buf.String())
	}
}

func TestSetLevelString(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "", "warn", "WARNING", " error "} {
		if err := SetLevelString(lvl); err != nil {
			t.Errorf("level %q: unexpected error %v", lvl, err)
		}
	}
	if err := SetLevelString("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}
