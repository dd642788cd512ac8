package clock

import (
	"testing"
)

// TestVector_Property_MergeDominatesBoth checks that merge(a,b) dominates or equals both inputs.
func TestVector_Property_MergeDominatesBoth(t *testing.T) {
	a := Vector{"n1": 1, "n2": 1}
	b := Vector{"n1": 2, "n3": 1}

	merged := a.Copy()
	merged.Merge(b)

	if rel := merged.Compare(a); rel != After && rel != Equal {
		t.Errorf("merged should dominate or equal a, got %v", rel)
	}
	if rel := merged.Compare(b); rel != After && rel != Equal {
		t.Errorf("merged should dominate or equal b, got %v", rel)
	}

	if merged.Get("n1") != 2 || merged.Get("n2") != 1 || merged.Get("n3") != 1 {
		t.Errorf("merged should carry per-creator maxima, got %s", merged)
	}
}

// TestVector_Property_CompareAntisymmetric checks that Before/After invert under
// argument swap and that Equal/Concurrent are symmetric.
func TestVector_Property_CompareAntisymmetric(t *testing.T) {
	pairs := []struct{ a, b Vector }{
		{Vector{"n1": 1, "n2": 2}, Vector{"n1": 2, "n2": 1}},
		{Vector{"n1": 1}, Vector{"n1": 2}},
		{Vector{"n1": 1}, Vector{"n1": 1}},
		{Vector{"n1": 1}, Vector{"n2": 1}},
	}

	for _, p := range pairs {
		ab := p.a.Compare(p.b)
		ba := p.b.Compare(p.a)

		switch ab {
		case Before:
			if ba != After {
				t.Errorf("a<b but b.Compare(a)=%v", ba)
			}
		case After:
			if ba != Before {
				t.Errorf("a>b but b.Compare(a)=%v", ba)
			}
		case Equal:
			if ba != Equal {
				t.Errorf("a=b but b.Compare(a)=%v", ba)
			}
		case Concurrent:
			if ba != Concurrent {
				t.Errorf("a||b but b.Compare(a)=%v", ba)
			}
		}
	}
}

// TestVector_Property_MergeIsIdempotent checks that merging a vector with itself is a no-op.
func TestVector_Property_MergeIsIdempotent(t *testing.T) {
	v := Vector{"n1": 1, "n2": 2}
	orig := v.Copy()

	v.Merge(orig)

	if !v.Equal(orig) {
		t.Error("merging a vector with itself should not change it")
	}
}

// TestVector_Property_Transitivity checks transitivity of the Before relation.
func TestVector_Property_Transitivity(t *testing.T) {
	a := Vector{"n1": 1, "n2": 1}
	b := Vector{"n1": 2, "n2": 1}
	c := Vector{"n1": 3, "n2": 2}

	if a.Compare(b) == Before && b.Compare(c) == Before {
		if a.Compare(c) != Before {
			t.Errorf("transitivity violated: a<b, b<c but a.Compare(c)=%v", a.Compare(c))
		}
	}
}

// TestVector_Property_IncrementDominates checks that incrementing produces a dominating vector.
func TestVector_Property_IncrementDominates(t *testing.T) {
	v := Vector{"n1": 5}
	before := v.Copy()

	v.Increment("n1")

	if !v.Dominates(before) {
		t.Error("incremented vector should dominate its predecessor")
	}
}
