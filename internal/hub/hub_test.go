package hub

import "testing"

func TestEnsureRootCreatesAgentZero(t *testing.T) {
	h := New(DefaultLimits())
	id := h.EnsureRoot("main", "be helpful", nil)
	if id != 0 {
		t.Fatalf("expected root id 0, got %d", id)
	}
	agent, ok := h.Agent(0)
	if !ok {
		t.Fatal("expected root agent to exist")
	}
	if agent.Name != "main" || agent.Status != StatusIdle {
		t.Fatalf("unexpected root state: %+v", agent)
	}
}

func TestSpawnChildTracksParentAndDepth(t *testing.T) {
	h := New(DefaultLimits())
	h.EnsureRoot("main", "", nil)

	child, err := h.SpawnChild(0, "reviewer", "review the diff", nil)
	if err != nil {
		t.Fatalf("SpawnChild returned error: %v", err)
	}
	if child != 1 {
		t.Fatalf("expected child id 1, got %d", child)
	}

	agent, _ := h.Agent(child)
	if agent.Parent == nil || *agent.Parent != 0 {
		t.Fatalf("expected parent 0, got %+v", agent.Parent)
	}
	if agent.Depth != 1 {
		t.Fatalf("expected depth 1, got %d", agent.Depth)
	}
	if !h.IsDirectChild(0, child) {
		t.Fatal("expected child to be a direct child of root")
	}
}

func TestSpawnChildEnforcesMaxAgents(t *testing.T) {
	h := New(Limits{MaxAgents: 2, MaxDepth: 4})
	h.EnsureRoot("main", "", nil)
	if _, err := h.SpawnChild(0, "a", "", nil); err != nil {
		t.Fatalf("first spawn should succeed: %v", err)
	}
	if _, err := h.SpawnChild(0, "b", "", nil); err == nil {
		t.Fatal("expected max agent count error")
	}
}

func TestSpawnChildEnforcesMaxDepth(t *testing.T) {
	h := New(Limits{MaxAgents: 10, MaxDepth: 1})
	h.EnsureRoot("main", "", nil)
	child, err := h.SpawnChild(0, "child", "", nil)
	if err != nil {
		t.Fatalf("depth 1 spawn should succeed: %v", err)
	}
	if _, err := h.SpawnChild(child, "grandchild", "", nil); err == nil {
		t.Fatal("expected max depth error for depth 2")
	}
}

func TestDescendantsWalksTheWholeSubtree(t *testing.T) {
	h := New(DefaultLimits())
	h.EnsureRoot("main", "", nil)
	a, _ := h.SpawnChild(0, "a", "", nil)
	b, _ := h.SpawnChild(0, "b", "", nil)
	c, _ := h.SpawnChild(a, "c", "", nil)

	got := h.Descendants([]AgentID{0})
	want := map[AgentID]bool{0: true, a: true, b: true, c: true}
	if len(got) != len(want) {
		t.Fatalf("expected %d descendants, got %d (%v)", len(want), len(got), got)
	}
	for _, id := range got {
		if !want[id] {
			t.Fatalf("unexpected descendant %d", id)
		}
	}
}

func TestSubIDRoundTrip(t *testing.T) {
	h := New(DefaultLimits())
	h.EnsureRoot("main", "", nil)
	sub := h.NextSubID(0)
	h.RegisterSubID(0, sub)

	id, ok := h.AgentForSubID(sub)
	if !ok || id != 0 {
		t.Fatalf("expected agent 0 for sub id %q, got %d ok=%v", sub, id, ok)
	}

	if _, ok := h.AgentForSubID("unknown-sub-id"); ok {
		t.Fatal("expected lookup miss for unregistered sub id")
	}
}

func TestSetStatusTransitions(t *testing.T) {
	h := New(DefaultLimits())
	h.EnsureRoot("main", "", nil)

	h.SetStatus(0, StatusRunning)
	agent, _ := h.Agent(0)
	if agent.Status != StatusRunning {
		t.Fatalf("expected running, got %s", agent.Status)
	}

	h.SetError(0, "boom")
	agent, _ = h.Agent(0)
	if agent.Status != StatusError || agent.Err != "boom" {
		t.Fatalf("expected error state with message, got %+v", agent)
	}

	h.SetIdle(0, "all done")
	agent, _ = h.Agent(0)
	if agent.Status != StatusIdle || agent.LastMessage != "all done" {
		t.Fatalf("expected idle with last message, got %+v", agent)
	}

	h.Close(0)
	agent, _ = h.Agent(0)
	if agent.Status != StatusClosed {
		t.Fatalf("expected closed, got %s", agent.Status)
	}
}

func TestAgentLookupMissReturnsFalse(t *testing.T) {
	h := New(DefaultLimits())
	if _, ok := h.Agent(5); ok {
		t.Fatal("expected miss for unknown agent id")
	}
}
