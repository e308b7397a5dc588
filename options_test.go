package deferred

import (
	"errors"
	"testing"

	"github.com/joeycumines/logiface"
)

func TestNew_NoOptions(t *testing.T) {
	d, err := New()
	if err != nil {
		t.Fatal("New failed:", err)
	}
	if d.State() != Pending {
		t.Errorf("Expected Pending, got %v", d.State())
	}
}

func TestNew_NilOptionsSkipped(t *testing.T) {
	d, err := New(nil, WithHandlers(Handlers{}), nil)
	if err != nil {
		t.Fatal("nil options should be skipped gracefully:", err)
	}
	if d == nil {
		t.Fatal("New returned nil")
	}
}

func TestNew_OptionError(t *testing.T) {
	optErr := errors.New("option failure")
	failing := &optionImpl{func(opts *options) error {
		return optErr
	}}

	d, err := New(failing)
	if !errors.Is(err, optErr) {
		t.Errorf("Expected option error to propagate, got %v", err)
	}
	if d != nil {
		t.Error("New should return nil on option error")
	}
}

// TestWithLogger verifies that the WithLogger option attaches a logger
// without otherwise affecting construction.
func TestWithLogger(t *testing.T) {
	logger := logiface.New[logiface.Event](
		logiface.WithWriter[logiface.Event](logiface.NewWriterFunc(func(event logiface.Event) error {
			// Discard events for this test
			return nil
		})),
	)

	d, err := New(WithLogger(logger))
	if err != nil {
		t.Fatal("New failed:", err)
	}
	if d.logger != logger {
		t.Error("logger should be stored on the instance")
	}
}

func TestWithLogger_Nil(t *testing.T) {
	d, err := New(WithLogger(nil))
	if err != nil {
		t.Fatal("WithLogger(nil) should be accepted:", err)
	}

	// Settling with a nil logger must not panic; logiface no-ops on nil
	if err := d.Resolve(1); err != nil {
		t.Fatal(err)
	}
}

func TestWithMetrics(t *testing.T) {
	m := NewMetrics()
	d, err := New(WithMetrics(m))
	if err != nil {
		t.Fatal("New failed:", err)
	}

	_ = d.Resolve(1)

	snap := m.Snapshot()
	if snap.Created != 1 {
		t.Errorf("Expected Created=1, got %d", snap.Created)
	}
	if snap.Fulfilled != 1 {
		t.Errorf("Expected Fulfilled=1, got %d", snap.Fulfilled)
	}
}

func TestWithMetrics_Nil(t *testing.T) {
	d, err := New(WithMetrics(nil))
	if err != nil {
		t.Fatal("WithMetrics(nil) should be accepted:", err)
	}
	if err := d.Resolve(1); err != nil {
		t.Fatal(err)
	}
}

func TestWithExecutor_Nil(t *testing.T) {
	d, err := New(WithExecutor(nil))
	if err != nil {
		t.Fatal("WithExecutor(nil) should be accepted:", err)
	}
	if d.State() != Pending {
		t.Errorf("nil executor should leave the instance pending, got %v", d.State())
	}
}

func TestWithUnhandledRejection_Stored(t *testing.T) {
	called := make(chan error, 1)
	d, err := New(WithUnhandledRejection(func(reason error) {
		called <- reason
	}))
	if err != nil {
		t.Fatal("New failed:", err)
	}
	if d.rep == nil || d.rep.handler == nil {
		t.Fatal("rejection handler should be wired into the reporter")
	}
}

func TestOptions_ApplyInOrder(t *testing.T) {
	// Later options override earlier ones for the same concern
	var order []string
	a := &optionImpl{func(opts *options) error {
		order = append(order, "a")
		opts.executor = func(resolve func(Result), reject func(error)) { resolve("a") }
		return nil
	}}
	b := &optionImpl{func(opts *options) error {
		order = append(order, "b")
		opts.executor = func(resolve func(Result), reject func(error)) { resolve("b") }
		return nil
	}}

	d, err := New(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("Expected application order [a b], got %v", order)
	}
	if d.Value() != "b" {
		t.Errorf("Later executor should win, got %v", d.Value())
	}
}
