package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "test", LevelWarning)

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warning("warning shows up")
	logger.Err("err shows up")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("logger emitted below its configured level: %q", out)
	}
	if !strings.Contains(out, "warning shows up") || !strings.Contains(out, "err shows up") {
		t.Fatalf("logger dropped a message at or above its configured level: %q", out)
	}
}

func TestAuditPanicRepanics(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "test", LevelErr)

	func() {
		defer func() {
			recover()
		}()
		func() {
			defer logger.AuditPanic()
			panic("boom")
		}()
	}()

	if !strings.Contains(buf.String(), "panic: boom") {
		t.Fatalf("AuditPanic did not log the recovered panic: %q", buf.String())
	}
}

func TestSetGet(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "custom", LevelInfo)
	Set(logger)
	if Get() != logger {
		t.Fatalf("Get did not return the logger installed by Set")
	}
}
