package scheduler

import "testing"

func TestOrderedTaskSetOrdersByLessNotInsertion(t *testing.T) {
	less := func(a, b TaskID) bool { return a < b }
	s := newOrderedTaskSet(less)

	for _, id := range []TaskID{"c", "a", "d", "b"} {
		s.Insert(id)
	}

	var got []TaskID
	s.Each(func(id TaskID) bool {
		got = append(got, id)
		return true
	})

	want := []TaskID{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestOrderedTaskSetInsertIsIdempotent(t *testing.T) {
	s := newOrderedTaskSet(func(a, b TaskID) bool { return a < b })
	s.Insert("a")
	s.Insert("a")
	if s.Len() != 1 {
		t.Errorf("expected len 1 after duplicate insert, got %d", s.Len())
	}
}

func TestOrderedTaskSetRemove(t *testing.T) {
	s := newOrderedTaskSet(func(a, b TaskID) bool { return a < b })
	s.Insert("a")
	s.Insert("b")
	s.Insert("c")

	s.Remove("b")
	if s.Contains("b") {
		t.Error("expected b to be removed")
	}
	if s.Len() != 2 {
		t.Errorf("expected len 2, got %d", s.Len())
	}

	s.Remove("missing")
	if s.Len() != 2 {
		t.Errorf("removing an absent id should be a no-op, got len %d", s.Len())
	}
}

func TestOrderedTaskSetEachStopsEarly(t *testing.T) {
	s := newOrderedTaskSet(func(a, b TaskID) bool { return a < b })
	for _, id := range []TaskID{"a", "b", "c"} {
		s.Insert(id)
	}

	var seen []TaskID
	s.Each(func(id TaskID) bool {
		seen = append(seen, id)
		return id != "b"
	})

	if len(seen) != 2 {
		t.Fatalf("expected Each to stop after b, saw %v", seen)
	}
}

func TestOrderedTaskSetDescendingLocality(t *testing.T) {
	locality := map[TaskID]int{"a": 1, "b": 5, "c": 3}
	less := func(a, b TaskID) bool { return locality[a] > locality[b] }
	s := newOrderedTaskSet(less)
	for _, id := range []TaskID{"a", "b", "c"} {
		s.Insert(id)
	}

	var got []TaskID
	s.Each(func(id TaskID) bool {
		got = append(got, id)
		return true
	})

	want := []TaskID{"b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}
