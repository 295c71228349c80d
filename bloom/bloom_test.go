package bloom

import (
	"fmt"
	"testing"
)

// P7: every inserted member is reported present; the empirical false
// positive rate on random non-members is loosely bounded by 3p.
func TestFilter_NoFalseNegatives(t *testing.T) {
	members := make([]string, 0, 10000)
	for i := 0; i < 10000; i++ {
		members = append(members, fmt.Sprintf("VAL%05d", i))
	}
	f := BuildFrom(members, 0.01)

	for _, m := range members {
		if !f.MightContain(m) {
			t.Fatalf("member %q reported absent, want present (no false negatives allowed)", m)
		}
	}
}

func TestFilter_FalsePositiveRateBounded(t *testing.T) {
	members := make([]string, 0, 10000)
	for i := 0; i < 10000; i++ {
		members = append(members, fmt.Sprintf("VAL%05d", i))
	}
	p := 0.01
	f := BuildFrom(members, p)

	trials := 10000
	falsePositives := 0
	for i := 0; i < trials; i++ {
		candidate := fmt.Sprintf("BAD%07d", i)
		if f.MightContain(candidate) {
			falsePositives++
		}
	}

	rate := float64(falsePositives) / float64(trials)
	if rate > 3*p {
		t.Fatalf("empirical false-positive rate %.4f exceeds loose bound %.4f", rate, 3*p)
	}
}

func TestFilter_ProbabilityClamped(t *testing.T) {
	f := New(100, 1e-9)
	if want := New(100, 1e-4).m; f.m != want {
		t.Fatalf("m = %d for p=1e-9, want %d (p clamped to 1e-4)", f.m, want)
	}
	f2 := New(100, 0.9)
	if want := New(100, 0.5).m; f2.m != want {
		t.Fatalf("m = %d for p=0.9, want %d (p clamped to 0.5)", f2.m, want)
	}
}

func TestFilter_DeterministicForSameInputs(t *testing.T) {
	members := []string{"BTC", "ETH", "SOL"}
	f1 := BuildFrom(members, 0.01)
	f2 := BuildFrom(members, 0.01)

	for i := range f1.bits {
		if f1.bits[i] != f2.bits[i] {
			t.Fatalf("two filters built from identical inputs diverged at word %d", i)
		}
	}
}

func TestBuilder_ConcurrentAddThenFreeze(t *testing.T) {
	b := NewBuilder(1000, 0.01)
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			for i := 0; i < 100; i++ {
				b.Add(fmt.Sprintf("sym-%d-%d", g, i))
			}
			done <- struct{}{}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	f := b.Build()
	for g := 0; g < 8; g++ {
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("sym-%d-%d", g, i)
			if !f.MightContain(key) {
				t.Fatalf("key %q missing after concurrent Add", key)
			}
		}
	}
}
