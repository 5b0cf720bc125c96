package session

import (
	"testing"

	"github.com/telemesh/consult/internal/domain"
)

func TestResolveRoleDeterministic(t *testing.T) {
	a, b := domain.PeerID("a1"), domain.PeerID("b2")

	if got := ResolveRole(a, b); got != RoleInitiator {
		t.Fatalf("a1 toward b2 should initiate, got %s", got)
	}
	if got := ResolveRole(b, a); got != RoleResponder {
		t.Fatalf("b2 toward a1 should respond, got %s", got)
	}
}

func TestResolveRoleSymmetric(t *testing.T) {
	pairs := [][2]domain.PeerID{
		{"alice", "bob"},
		{"0001", "0002"},
		{"zz", "za"},
	}
	for _, pair := range pairs {
		left := ResolveRole(pair[0], pair[1])
		right := ResolveRole(pair[1], pair[0])
		if left == right {
			t.Fatalf("pair %v: both sides resolved to %s", pair, left)
		}
	}
}

func TestResolveRoleRepeatable(t *testing.T) {
	a, b := domain.PeerID("m3"), domain.PeerID("n4")
	first := ResolveRole(a, b)
	for i := 0; i < 10; i++ {
		if got := ResolveRole(a, b); got != first {
			t.Fatalf("round %d: role changed from %s to %s", i, first, got)
		}
	}
}

func TestJoinRole(t *testing.T) {
	if got := JoinRole(nil); got != domain.RoleFirstJoiner {
		t.Fatalf("empty snapshot should yield first joiner, got %s", got)
	}
	if got := JoinRole([]domain.PeerID{"x"}); got != domain.RoleJoiner {
		t.Fatalf("non-empty snapshot should yield joiner, got %s", got)
	}
}
