package dataneed

import "testing"

func TestNextCoarserPicksFinestCoarserSupported(t *testing.T) {
	supported := []Granularity{PT5M, PT15M, PT1H, P1D}

	next, ok := NextCoarser(supported, PT5M)
	if !ok || next != PT15M {
		t.Fatalf("expected PT15M, got %s (%v)", next, ok)
	}
	next, ok = NextCoarser(supported, PT15M)
	if !ok || next != PT1H {
		t.Fatalf("expected PT1H, got %s (%v)", next, ok)
	}
	// PT30M is unsupported but sits between: escalation skips it.
	next, ok = NextCoarser(supported, PT30M)
	if !ok || next != PT1H {
		t.Fatalf("expected PT1H from PT30M, got %s (%v)", next, ok)
	}
}

func TestNextCoarserExhausted(t *testing.T) {
	supported := []Granularity{PT5M, PT15M, PT1H}
	if next, ok := NextCoarser(supported, PT1H); ok {
		t.Fatalf("expected no coarser granularity, got %s", next)
	}
	if next, ok := NextCoarser(nil, PT15M); ok {
		t.Fatalf("expected no coarser granularity from empty set, got %s", next)
	}
}

func TestCoarserOrdering(t *testing.T) {
	order := []Granularity{PT5M, PT15M, PT30M, PT1H, P1D, P1M}
	for i := 1; i < len(order); i++ {
		if !order[i].Coarser(order[i-1]) {
			t.Fatalf("%s should be coarser than %s", order[i], order[i-1])
		}
		if order[i-1].Coarser(order[i]) {
			t.Fatalf("%s should not be coarser than %s", order[i-1], order[i])
		}
	}
	if !PT5M.Valid() || Granularity("PT2H").Valid() {
		t.Fatal("validity check broken")
	}
}
