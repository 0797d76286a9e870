package approval

import (
	"testing"

	"github.com/xonecas/turnengine/internal/protocol"
)

func TestRememberOnlyCachesApprovedForSession(t *testing.T) {
	c := NewCache()
	key := Key{ToolName: "shell", Command: []string{"git", "status"}}

	c.Remember(key, protocol.DecisionApproved)
	if _, ok := c.Lookup(key); ok {
		t.Fatal("a one-off approval must not be cached")
	}

	c.Remember(key, protocol.DecisionApprovedForSession)
	d, ok := c.Lookup(key)
	if !ok || d != protocol.DecisionApprovedForSession {
		t.Fatalf("expected cached ApprovedForSession, got %v ok=%v", d, ok)
	}
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	c.Remember(Key{}, protocol.DecisionApprovedForSession)
	if _, ok := c.Lookup(Key{}); ok {
		t.Fatal("nil cache must always miss")
	}
}

func TestDistinctKeysDoNotCollide(t *testing.T) {
	c := NewCache()
	a := Key{ToolName: "shell", Command: []string{"git", "push"}}
	b := Key{ToolName: "shell", Command: []string{"git", "pull"}}
	c.Remember(a, protocol.DecisionApprovedForSession)
	if _, ok := c.Lookup(b); ok {
		t.Fatal("distinct keys must not collide")
	}
}
