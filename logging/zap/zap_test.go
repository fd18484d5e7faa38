package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/layerkv/logging"
)

func TestLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("d", logging.Fields{"key": "a"})
	l.Warn("w", logging.Fields{"err": errors.New("boom")})

	if logs.Len() != 2 {
		t.Fatalf("want 2 entries, got %d", logs.Len())
	}
	first := logs.All()[0]
	if first.Level != zapcore.DebugLevel || first.ContextMap()["key"] != "a" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if got := logs.All()[1].ContextMap()["err"]; got != "boom" {
		t.Fatalf("error field: got %v", got)
	}
}

func TestWithAttachesFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core)).With(logging.Fields{"ns": "user"})
	l.Info("hello", nil)

	if logs.Len() != 1 || logs.All()[0].ContextMap()["ns"] != "user" {
		t.Fatalf("child fields missing: %+v", logs.All())
	}
}
