package signal

import (
	"context"
	"testing"
	"time"

	"github.com/latticegate/sentry/internal/event"
)

func TestRunner_Gather_JSONAndStringOutputs(t *testing.T) {
	r := New(nil, 4, nil)
	e := &event.Event{Kind: event.KindPreTool}
	specs := []Spec{
		{Name: "test_status", Command: `echo '{"passing": true, "count": 12}'`},
		{Name: "branch", Command: `echo main`},
	}

	got := r.Gather(context.Background(), e, specs)
	if len(got) != 2 {
		t.Fatalf("got %d signals, want 2: %+v", len(got), got)
	}
	obj, ok := got["test_status"].(map[string]any)
	if !ok {
		t.Fatalf("test_status = %T, want map", got["test_status"])
	}
	if obj["passing"] != true {
		t.Errorf("test_status.passing = %v, want true", obj["passing"])
	}
	if got["branch"] != "main" {
		t.Errorf("branch = %v, want %q", got["branch"], "main")
	}
}

func TestRunner_Gather_NonZeroExitOmitted(t *testing.T) {
	r := New(nil, 4, nil)
	e := &event.Event{Kind: event.KindPreTool}
	specs := []Spec{
		{Name: "ok", Command: "echo fine"},
		{Name: "broken", Command: "exit 1"},
	}

	got := r.Gather(context.Background(), e, specs)
	if _, present := got["broken"]; present {
		t.Error("failing signal should be omitted, not present")
	}
	if got["ok"] != "fine" {
		t.Errorf("ok = %v, want %q", got["ok"], "fine")
	}
}

func TestRunner_Gather_TimeoutOmitted(t *testing.T) {
	r := New(nil, 4, nil)
	e := &event.Event{Kind: event.KindPreTool}
	specs := []Spec{
		{Name: "slow", Command: "sleep 1", Timeout: 10 * time.Millisecond},
	}

	got := r.Gather(context.Background(), e, specs)
	if _, present := got["slow"]; present {
		t.Error("timed-out signal should be omitted")
	}
}

func TestRunner_Gather_Empty(t *testing.T) {
	r := New(nil, 4, nil)
	got := r.Gather(context.Background(), &event.Event{}, nil)
	if len(got) != 0 {
		t.Errorf("expected no signals, got %+v", got)
	}
}
