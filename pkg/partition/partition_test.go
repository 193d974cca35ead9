package partition

import "testing"

func TestOfIsDeterministic(t *testing.T) {
	a := Of("stream-abc", 10_000)
	b := Of("stream-abc", 10_000)
	if a != b {
		t.Fatalf("Of not deterministic: %d != %d", a, b)
	}
	if a < 0 || a >= 10_000 {
		t.Fatalf("partition %d out of range", a)
	}
}

func TestOfEmptyStreamIsCatchAll(t *testing.T) {
	a := Of("", 100)
	b := Of("", 100)
	if a != b {
		t.Fatalf("catch-all partition not stable: %d != %d", a, b)
	}
}

func TestOwnerDeterministicAcrossCallOrder(t *testing.T) {
	instances := []string{"inst-1", "inst-2", "inst-3"}
	reordered := []string{"inst-3", "inst-1", "inst-2"}

	for _, stream := range []string{"s1", "s2", "s3", "", "orders-42"} {
		var ownerCount1, ownerCount2 int
		for _, inst := range instances {
			if Owner(stream, inst, instances) {
				ownerCount1++
			}
		}
		for _, inst := range reordered {
			if Owner(stream, inst, reordered) {
				ownerCount2++
			}
		}
		if ownerCount1 != 1 || ownerCount2 != 1 {
			t.Fatalf("stream %q: expected exactly one owner, got %d and %d", stream, ownerCount1, ownerCount2)
		}
	}
}

func TestOwnerSingleInstanceOwnsEverything(t *testing.T) {
	instances := []string{"solo"}
	for _, stream := range []string{"a", "b", "c", ""} {
		if !Owner(stream, "solo", instances) {
			t.Fatalf("sole instance should own stream %q", stream)
		}
	}
}

func TestOwnerEmptyInstanceSetOwnsNothing(t *testing.T) {
	if Owner("s1", "inst-1", nil) {
		t.Fatal("no instance should own anything when active set is empty")
	}
}

func TestOwnerOfMatchesOwner(t *testing.T) {
	instances := []string{"inst-1", "inst-2", "inst-3", "inst-4"}
	for _, stream := range []string{"x", "y", "z"} {
		owner, ok := OwnerOf(stream, instances)
		if !ok {
			t.Fatalf("expected an owner for stream %q", stream)
		}
		if !Owner(stream, owner, instances) {
			t.Fatalf("OwnerOf(%q) = %q but Owner disagrees", stream, owner)
		}
	}
}
