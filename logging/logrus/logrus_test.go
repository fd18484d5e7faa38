package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/layerkv/logging"
)

func TestLogrusAdapter(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)

	l := New(base).With(logging.Fields{"ns": "order"})
	l.Error("write failed", logging.Fields{"key": "o:1"})

	e := hook.LastEntry()
	if e == nil {
		t.Fatal("no entry recorded")
	}
	if e.Level != logrus.ErrorLevel || e.Message != "write failed" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Data["ns"] != "order" || e.Data["key"] != "o:1" {
		t.Fatalf("fields: %+v", e.Data)
	}
}
