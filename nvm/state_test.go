package nvm

import (
	"testing"

	"nvmcode-go/errcode"
)

func TestLifecycleTransitions(t *testing.T) {
	var l Lifecycle
	if l.State() != Uninit {
		t.Fatalf("zero state = %v, want uninit", l.State())
	}
	if err := l.CheckStart(); err == nil {
		t.Fatal("start allowed from uninit")
	}

	l.MarkStop()
	if err := l.CheckStart(); err != nil {
		t.Fatalf("start from stop: %v", err)
	}
	l.StartOK()
	if l.State() != Ready {
		t.Fatalf("state = %v, want ready", l.State())
	}

	// restart from ready is allowed
	if err := l.CheckStart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestBeginReportsBusyDuringOperation(t *testing.T) {
	var l Lifecycle
	l.MarkStop()

	if got := errcode.Of(l.Begin(Reading)); got != errcode.NotReady {
		t.Fatalf("begin before start = %v, want not_ready", got)
	}

	l.StartOK()
	if err := l.Begin(Writing); err != nil {
		t.Fatalf("begin from ready: %v", err)
	}
	if got := errcode.Of(l.Begin(Reading)); got != errcode.Busy {
		t.Fatalf("begin during write = %v, want busy", got)
	}
	l.End()
	if err := l.Begin(Reading); err != nil {
		t.Fatalf("begin after end: %v", err)
	}
}

func TestStateStrings(t *testing.T) {
	for s, want := range map[State]string{
		Uninit: "uninit", Stop: "stop", Ready: "ready",
		Reading: "reading", Writing: "writing", Erasing: "erasing",
		State(99): "invalid",
	} {
		if got := s.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
