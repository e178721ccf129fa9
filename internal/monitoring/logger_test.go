package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	var got []string
	prev := SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	defer SetLogger(prev)

	Logf("hello %d", 1)
	if len(got) != 1 || got[0] != "hello 1" {
		t.Fatalf("unexpected log lines: %q", got)
	}

	SetLogger(nil)
	Logf("muted")
	if len(got) != 1 {
		t.Errorf("no-op logger should not record, got %q", got)
	}
}

func TestComponent(t *testing.T) {
	var got string
	prev := SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	defer SetLogger(prev)

	logf := Component("Source")
	logf("connected to %s", "radar-1")
	if got != "[Source] connected to radar-1" {
		t.Errorf("got %q", got)
	}

	// hook changes after the component logger was created still apply
	var late string
	SetLogger(func(format string, v ...interface{}) { late = fmt.Sprintf(format, v...) })
	logf("again")
	if late != "[Source] again" {
		t.Errorf("got %q", late)
	}
}

func TestLogf_DefaultDoesNotPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	prev := SetLogger(nil)
	defer SetLogger(prev)
	Logf("test message: %s", "value")
}
