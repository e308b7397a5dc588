package deferred

import (
	"errors"
	"testing"
	"time"
)

func TestAll_Empty(t *testing.T) {
	ctx := testContext(t)
	all := All()

	value, err := all.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	results, ok := value.([]Result)
	if !ok {
		t.Fatalf("Expected []Result, got %T", value)
	}
	if len(results) != 0 {
		t.Errorf("Expected empty results, got %v", results)
	}
}

func TestAll_MixedInputs(t *testing.T) {
	ctx := testContext(t)

	a, _ := New()
	b, _ := New()
	all := All(a, b.Promise(), "plain")

	if all.State() != Pending {
		t.Fatalf("Expected Pending before inputs settle, got %v", all.State())
	}

	// Resolve out of order; results keep input order
	_ = b.Resolve(2)
	_ = a.Resolve(1)

	value, err := all.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	results := value.([]Result)
	if len(results) != 3 || results[0] != 1 || results[1] != 2 || results[2] != "plain" {
		t.Errorf("Expected [1 2 plain], got %v", results)
	}
}

func TestAll_RejectsOnFirstRejection(t *testing.T) {
	ctx := testContext(t)
	boom := errors.New("boom")

	a, _ := New()
	b, _ := New()
	all := All(a, b)

	_ = a.Reject(boom)

	if _, err := all.Await(ctx); err != boom {
		t.Errorf("Expected %v, got %v", boom, err)
	}

	// The straggler settling later changes nothing
	_ = b.Resolve(2)
	if all.State() != Rejected {
		t.Errorf("Expected Rejected, got %v", all.State())
	}
}

func TestAllSettled_Empty(t *testing.T) {
	ctx := testContext(t)

	value, err := AllSettled().Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	outcomes, ok := value.([]Settlement)
	if !ok {
		t.Fatalf("Expected []Settlement, got %T", value)
	}
	if len(outcomes) != 0 {
		t.Errorf("Expected empty outcomes, got %v", outcomes)
	}
}

func TestAllSettled_NeverRejects(t *testing.T) {
	ctx := testContext(t)
	boom := errors.New("boom")

	a, _ := New()
	b, _ := New()
	settled := AllSettled(a, b, "immediate")

	_ = a.Reject(boom)
	_ = b.Resolve(2)

	value, err := settled.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	outcomes := value.([]Settlement)
	if len(outcomes) != 3 {
		t.Fatalf("Expected 3 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].Rejected() || outcomes[0].Reason != boom {
		t.Errorf("Expected first outcome rejected with boom, got %v", outcomes[0])
	}
	if !outcomes[1].Fulfilled() || outcomes[1].Value != 2 {
		t.Errorf("Expected second outcome fulfilled with 2, got %v", outcomes[1])
	}
	if !outcomes[2].Fulfilled() || outcomes[2].Value != "immediate" {
		t.Errorf("Expected third outcome fulfilled with 'immediate', got %v", outcomes[2])
	}
}

func TestRace_Empty_StaysPending(t *testing.T) {
	race := Race()

	time.Sleep(50 * time.Millisecond)
	if race.State() != Pending {
		t.Errorf("Race() with no inputs should stay pending, got %v", race.State())
	}
}

func TestRace_FirstSettlementWins(t *testing.T) {
	ctx := testContext(t)

	a, _ := New()
	b, _ := New()
	race := Race(a, b)

	_ = b.Resolve("fast")
	_ = a.Resolve("slow")

	value, err := race.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if value != "fast" {
		t.Errorf("Expected 'fast', got %v", value)
	}
}

func TestRace_RejectionCanWin(t *testing.T) {
	ctx := testContext(t)
	boom := errors.New("lost")

	a, _ := New()
	b, _ := New()
	race := Race(a, b)

	_ = a.Reject(boom)
	_ = b.Resolve("too late")

	if _, err := race.Await(ctx); err != boom {
		t.Errorf("Expected %v, got %v", boom, err)
	}
}

func TestRace_SettlementOrderBeatsDispatchOrder(t *testing.T) {
	// Sequential settlements on one goroutine must deterministically pick
	// the input that settled first, not whichever dispatch goroutine the
	// scheduler happens to run first. Repeat to flush out scheduling luck.
	for i := 0; i < 200; i++ {
		a, _ := New()
		b, _ := New()
		race := Race(a, b)

		_ = b.Resolve("fast")
		// The winner is decided synchronously with the first settlement
		if race.State() != Fulfilled {
			t.Fatalf("iteration %d: expected Fulfilled after first settlement, got %v", i, race.State())
		}
		_ = a.Resolve("slow")

		if value := race.Value(); value != "fast" {
			t.Fatalf("iteration %d: expected 'fast', got %v", i, value)
		}
	}
}

func TestRace_SequentialRejectionWins(t *testing.T) {
	boom := errors.New("lost")
	for i := 0; i < 200; i++ {
		a, _ := New()
		b, _ := New()
		race := Race(a, b)

		_ = a.Reject(boom)
		_ = b.Resolve("too late")

		if race.State() != Rejected || race.Reason() != boom {
			t.Fatalf("iteration %d: expected rejection with %v, got %v (%v)", i, boom, race.State(), race.Reason())
		}
	}
}

func TestRace_PlainValueWinsImmediately(t *testing.T) {
	ctx := testContext(t)

	pending, _ := New()
	race := Race(pending, "instant")

	value, err := race.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if value != "instant" {
		t.Errorf("Expected 'instant', got %v", value)
	}
}

func TestAny_Empty_RejectsAggregate(t *testing.T) {
	ctx := testContext(t)

	_, err := Any().Await(ctx)
	if err == nil {
		t.Fatal("Any() with no inputs should reject")
	}
	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("Expected *AggregateError, got %T", err)
	}
	if !errors.Is(err, ErrNoneProvided) {
		t.Error("Should wrap ErrNoneProvided")
	}
}

func TestAny_FirstFulfillmentWins(t *testing.T) {
	ctx := testContext(t)

	a, _ := New()
	b, _ := New()
	any := Any(a, b)

	_ = a.Reject(errors.New("first failed"))
	_ = b.Resolve("recovered")

	value, err := any.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if value != "recovered" {
		t.Errorf("Expected 'recovered', got %v", value)
	}
}

func TestAny_FirstFulfillmentIsSettlementOrder(t *testing.T) {
	for i := 0; i < 200; i++ {
		a, _ := New()
		b, _ := New()
		any := Any(a, b)

		_ = b.Resolve("first")
		_ = a.Resolve("second")

		if value := any.Value(); value != "first" {
			t.Fatalf("iteration %d: expected 'first', got %v", i, value)
		}
	}
}

func TestAll_FirstRejectionIsSettlementOrder(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	for i := 0; i < 200; i++ {
		a, _ := New()
		b, _ := New()
		all := All(a, b)

		_ = b.Reject(first)
		_ = a.Reject(second)

		if reason := all.Reason(); reason != first {
			t.Fatalf("iteration %d: expected %v, got %v", i, first, reason)
		}
	}
}

func TestAny_AllReject_AggregatesInInputOrder(t *testing.T) {
	ctx := testContext(t)
	first := errors.New("first")
	second := errors.New("second")

	a, _ := New()
	b, _ := New()
	any := Any(a, b)

	// Reject in reverse; the aggregate preserves input order
	_ = b.Reject(second)
	_ = a.Reject(first)

	_, err := any.Await(ctx)
	if err == nil {
		t.Fatal("Expected rejection when all inputs reject")
	}
	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("Expected *AggregateError, got %T", err)
	}
	if len(agg.Errors) != 2 || agg.Errors[0] != first || agg.Errors[1] != second {
		t.Errorf("Expected [first second], got %v", agg.Errors)
	}
}

func TestCombinators_ReturnDeferred(t *testing.T) {
	// Combinator products are full controllers: external settlement races
	// against the combinator outcome, first wins
	ctx := testContext(t)

	pending, _ := New()
	all := All(pending)

	if err := all.Resolve("external"); err != nil {
		t.Fatal(err)
	}
	_ = pending.Resolve("internal")

	value, err := all.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if value != "external" {
		t.Errorf("External settlement should win, got %v", value)
	}
}

func TestToPromise_NilInputs(t *testing.T) {
	ctx := testContext(t)

	// Typed nils degrade to plain (already fulfilled) values
	var p *Promise
	var d *Deferred
	value, err := All(p, d, nil).Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	results := value.([]Result)
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
}
