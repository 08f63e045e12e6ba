package tree

import (
	"bytes"
	"testing"
)

func key(s string) []byte { return []byte(s) }

func TestTreeSearch(t *testing.T) {
	tr := New(key("."), "root")
	tr.Insert(key("a"), "A")
	tr.Insert(key("b"), "B")

	if v, ok := tr.Search(key("a")); !ok || v != "A" {
		t.Errorf("Search(a) = %v, %v, want A, true", v, ok)
	}
	if v, ok := tr.Search(key(".")); !ok || v != "root" {
		t.Errorf("Search(.) = %v, %v, want root, true", v, ok)
	}
	if _, ok := tr.Search(key("missing")); ok {
		t.Error("Search(missing) should report not found")
	}
}

func TestTreeInsertReplacesExisting(t *testing.T) {
	tr := New(key("."), "root")
	tr.Insert(key("a"), "first")
	if tr.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tr.Len())
	}
	tr.Insert(key("a"), "second")
	if tr.Len() != 2 {
		t.Fatalf("Len() after replace = %d, want 2 (no duplicate)", tr.Len())
	}
	v, _ := tr.Search(key("a"))
	if v != "second" {
		t.Errorf("Search(a) after replace = %v, want second", v)
	}
}

func TestTreeDeleteRefusesRoot(t *testing.T) {
	tr := New(key("."), "root")
	tr.Insert(key("a"), "A")
	if tr.Delete(key(".")) {
		t.Error("Delete() of the root key should report false")
	}
	if _, ok := tr.Search(key(".")); !ok {
		t.Error("root entry should still be present after a refused delete")
	}
	if !tr.Delete(key("a")) {
		t.Error("Delete() of a non-root key should report true")
	}
	if tr.Len() != 1 {
		t.Errorf("Len() after delete = %d, want 1", tr.Len())
	}
}

func TestTreeFindLessOrEqual(t *testing.T) {
	tr := New(key("c"), "root")
	for _, k := range []string{"b", "d", "f"} {
		tr.Insert(key(k), k)
	}

	if v, exact, found := tr.FindLessOrEqual(key("d")); !exact || !found || v != "d" {
		t.Errorf("FindLessOrEqual(d) = %v, %v, %v, want d, true, true", v, exact, found)
	}
	if v, exact, found := tr.FindLessOrEqual(key("e")); exact || !found || v != "d" {
		t.Errorf("FindLessOrEqual(e) = %v, %v, %v, want d, false, true", v, exact, found)
	}
	if _, exact, found := tr.FindLessOrEqual(key("a")); exact || found {
		t.Errorf("FindLessOrEqual(a) below every key should report not found, got exact=%v found=%v", exact, found)
	}
}

func TestTreeWalkOrdering(t *testing.T) {
	tr := New(key("a"), "a")
	for _, k := range []string{"d", "b", "c", "e"} {
		tr.Insert(key(k), k)
	}
	var got []string
	tr.Walk(func(k []byte, v Value) bool {
		got = append(got, string(k))
		return true
	})
	want := []string{"a", "b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("Walk() visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Walk()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTreeWalkReverseOrdering(t *testing.T) {
	tr := New(key("a"), "a")
	for _, k := range []string{"d", "b", "c"} {
		tr.Insert(key(k), k)
	}
	var got []string
	tr.WalkReverse(func(k []byte, v Value) bool {
		got = append(got, string(k))
		return true
	})
	want := []string{"d", "c", "b", "a"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("WalkReverse() = %v, want %v", got, want)
		}
	}
}

func TestTreeWalkStopsEarly(t *testing.T) {
	tr := New(key("a"), "a")
	tr.Insert(key("b"), "b")
	tr.Insert(key("c"), "c")
	var visited int
	tr.Walk(func(k []byte, v Value) bool {
		visited++
		return !bytes.Equal(k, key("b"))
	})
	if visited != 2 {
		t.Errorf("Walk() visited %d entries before stopping, want 2", visited)
	}
}
