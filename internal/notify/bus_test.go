package notify

import "testing"

func TestSubscribeDeliversCurrentCount(t *testing.T) {
	bus := NewBus()
	bus.Publish(3)

	var got []int
	unsub := bus.Subscribe(func(count int) {
		got = append(got, count)
	})
	defer unsub()

	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("late subscriber must see the current count, got %v", got)
	}
}

func TestPublishFansOut(t *testing.T) {
	bus := NewBus()

	var a, b int
	unsubA := bus.Subscribe(func(count int) { a = count })
	unsubB := bus.Subscribe(func(count int) { b = count })
	defer unsubA()
	defer unsubB()

	bus.Publish(5)

	if a != 5 || b != 5 {
		t.Fatalf("expected both subscribers at 5, got a=%d b=%d", a, b)
	}
}

func TestAddClampsAtZero(t *testing.T) {
	bus := NewBus()
	bus.Add(2)
	bus.Add(-10)

	if bus.Count() != 0 {
		t.Fatalf("count must clamp at zero, got %d", bus.Count())
	}

	bus.Add(1)
	if bus.Count() != 1 {
		t.Fatalf("count must recover after clamping, got %d", bus.Count())
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()

	calls := 0
	unsub := bus.Subscribe(func(int) { calls++ })
	stay := 0
	unsubStay := bus.Subscribe(func(int) { stay++ })
	defer unsubStay()

	unsub()
	unsub()

	bus.Publish(1)

	if calls != 1 {
		t.Errorf("unsubscribed fn should only have the initial delivery, got %d", calls)
	}
	if stay != 2 {
		t.Errorf("remaining subscriber should see the publish, got %d", stay)
	}
}
