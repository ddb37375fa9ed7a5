package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestStandardLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewStandardLogger(&buf, LevelWarn)
	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warnf("warn %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Fatalf("unexpected lines below verbosity:\n%s", out)
	}
	for _, want := range []string{"WARN:  warn 3", "ERROR: error 4"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
}

func TestWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewStandardLogger(&buf, LevelInfo).WithPrefix("[a] ").WithPrefix("[b] ")
	l.Infof("hello")
	if !strings.Contains(buf.String(), "[a] [b] INFO:  hello") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]int{"debug": LevelDebug, "WARN": LevelWarn, "error": LevelError, "": LevelInfo, "bogus": LevelInfo} {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestBufferLogger(t *testing.T) {
	b := NewBufferLogger()
	b.Errorf("boom: %s", "x")
	b.WithPrefix("ignored").Infof("ok")
	got := b.Lines()
	if len(got) != 2 || got[0] != "ERROR: boom: x" || got[1] != "INFO:  ok" {
		t.Fatalf("unexpected lines %q", got)
	}
}
