package cs104

import (
	"net"
	"testing"
)

func TestRedundancyGroupMatches(t *testing.T) {
	g := NewRedundancyGroup("scada-a", 4, 4, []net.IP{net.ParseIP("10.0.0.1")})

	if !g.Matches(net.ParseIP("10.0.0.1")) {
		t.Fatalf("Matches(10.0.0.1) = false, want true")
	}
	if g.Matches(net.ParseIP("10.0.0.2")) {
		t.Fatalf("Matches(10.0.0.2) = true, want false")
	}
}

func TestRedundancyGroupCatchAll(t *testing.T) {
	g := NewRedundancyGroup("default", 4, 4, nil)
	if !g.isCatchAll() {
		t.Fatalf("isCatchAll() = false, want true")
	}
	if g.Matches(net.ParseIP("192.168.1.1")) {
		t.Fatalf("Matches() on catch-all = true, want false (catch-all never matches directly)")
	}
}

func TestResolveGroupPrefersNamedMatch(t *testing.T) {
	a := NewRedundancyGroup("a", 1, 1, []net.IP{net.ParseIP("10.0.0.1")})
	b := NewRedundancyGroup("b", 1, 1, []net.IP{net.ParseIP("10.0.0.2")})
	catchAll := NewRedundancyGroup("", 1, 1, nil)

	groups := []*RedundancyGroup{a, b, catchAll}

	got, ok := resolveGroup(groups, net.ParseIP("10.0.0.2"))
	if !ok || got != b {
		t.Fatalf("resolveGroup(10.0.0.2) = %v, %v, want group b", got, ok)
	}

	got, ok = resolveGroup(groups, net.ParseIP("10.0.0.99"))
	if !ok || got != catchAll {
		t.Fatalf("resolveGroup(10.0.0.99) = %v, %v, want catch-all", got, ok)
	}
}

func TestResolveGroupNoMatchNoCatchAll(t *testing.T) {
	a := NewRedundancyGroup("a", 1, 1, []net.IP{net.ParseIP("10.0.0.1")})
	_, ok := resolveGroup([]*RedundancyGroup{a}, net.ParseIP("10.0.0.99"))
	if ok {
		t.Fatalf("resolveGroup() ok = true, want false")
	}
}
