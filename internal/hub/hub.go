// Package hub is the Cross-Session Hub: session-scoped state for
// multi-agent collaboration, generalizing mcptools/subagent.go's single
// fire-and-forget SubAgentHandler into a named-session registry of agents
// with a full lifecycle, ported from state/collaboration.rs.
package hub

import (
	"fmt"
	"sync"

	"github.com/xonecas/turnengine/internal/protocol"
)

// AgentID identifies one agent within a Hub. 0 is always the root agent.
type AgentID int

// Status is an agent's current lifecycle state.
type Status string

const (
	StatusIdle               Status = "idle"
	StatusRunning            Status = "running"
	StatusExhausted          Status = "exhausted"
	StatusError              Status = "error"
	StatusClosed             Status = "closed"
	StatusWaitingForApproval Status = "waiting_for_approval"
)

// Limits bounds how wide and how deep a collaboration tree may grow.
type Limits struct {
	MaxAgents int
	MaxDepth  int
}

// DefaultLimits mirrors CollaborationLimits::default in the reference.
func DefaultLimits() Limits { return Limits{MaxAgents: 8, MaxDepth: 4} }

// AgentState is one node in the collaboration tree.
type AgentState struct {
	ID           AgentID
	Name         string
	Parent       *AgentID
	Depth        int
	Instructions string
	Status       Status
	LastMessage  string
	Err          string
	History      []protocol.ConversationItem
}

// Hub holds every agent spawned within one session.
type Hub struct {
	mu       sync.Mutex
	agents   []AgentState
	children map[AgentID][]AgentID
	limits   Limits
	nextSub  int64
	subIDs   map[string]AgentID
}

func New(limits Limits) *Hub {
	return &Hub{
		children: map[AgentID][]AgentID{},
		limits:   limits,
		subIDs:   map[string]AgentID{},
	}
}

// EnsureRoot creates agent 0 (the "main" agent) if it does not already
// exist, or refreshes its instructions/history if it does.
func (h *Hub) EnsureRoot(name, instructions string, history []protocol.ConversationItem) AgentID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.agents) == 0 {
		h.agents = append(h.agents, AgentState{
			ID:           0,
			Name:         name,
			Depth:        0,
			Instructions: instructions,
			Status:       StatusIdle,
			History:      history,
		})
		return 0
	}
	root := &h.agents[0]
	root.History = history
	if root.Instructions == "" {
		root.Instructions = instructions
	}
	return 0
}

// Agent returns a copy of the agent's current state.
func (h *Hub) Agent(id AgentID) (AgentState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := h.indexFor(id)
	if idx < 0 {
		return AgentState{}, false
	}
	return h.agents[idx], true
}

// Agents returns a snapshot of every agent.
func (h *Hub) Agents() []AgentState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]AgentState, len(h.agents))
	copy(out, h.agents)
	return out
}

func (h *Hub) indexFor(id AgentID) int {
	if id < 0 || int(id) >= len(h.agents) {
		return -1
	}
	return int(id)
}

// SpawnChild adds a new agent under parent, enforcing the hub's
// MaxAgents/MaxDepth limits.
func (h *Hub) SpawnChild(parent AgentID, name, instructions string, history []protocol.ConversationItem) (AgentID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.agents) >= h.limits.MaxAgents {
		return 0, fmt.Errorf("max agent count reached")
	}
	parentIdx := h.indexFor(parent)
	if parentIdx < 0 {
		return 0, fmt.Errorf("unknown parent agent %d", parent)
	}
	depth := h.agents[parentIdx].Depth + 1
	if depth > h.limits.MaxDepth {
		return 0, fmt.Errorf("max collaboration depth reached")
	}

	id := AgentID(len(h.agents))
	p := parent
	h.agents = append(h.agents, AgentState{
		ID:           id,
		Name:         name,
		Parent:       &p,
		Depth:        depth,
		Instructions: instructions,
		Status:       StatusIdle,
		History:      history,
	})
	h.children[parent] = append(h.children[parent], id)
	return id, nil
}

// SetStatus updates an agent's lifecycle status.
func (h *Hub) SetStatus(id AgentID, status Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx := h.indexFor(id); idx >= 0 {
		h.agents[idx].Status = status
	}
}

// SetError marks an agent Error with the given message.
func (h *Hub) SetError(id AgentID, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx := h.indexFor(id); idx >= 0 {
		h.agents[idx].Status = StatusError
		h.agents[idx].Err = message
	}
}

// SetIdle marks an agent Idle and records its last visible message.
func (h *Hub) SetIdle(id AgentID, lastMessage string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx := h.indexFor(id); idx >= 0 {
		h.agents[idx].Status = StatusIdle
		h.agents[idx].LastMessage = lastMessage
	}
}

// SetHistory replaces an agent's recorded conversation history.
func (h *Hub) SetHistory(id AgentID, items []protocol.ConversationItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx := h.indexFor(id); idx >= 0 {
		h.agents[idx].History = items
	}
}

// Close marks an agent Closed; its runner (if any) should stop picking up
// further work for it.
func (h *Hub) Close(id AgentID) {
	h.SetStatus(id, StatusClosed)
}

// IsDirectChild reports whether child was spawned directly by parent.
func (h *Hub) IsDirectChild(parent, child AgentID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, kid := range h.children[parent] {
		if kid == child {
			return true
		}
	}
	return false
}

// Descendants returns roots plus every agent transitively spawned by them.
func (h *Hub) Descendants(roots []AgentID) []AgentID {
	h.mu.Lock()
	defer h.mu.Unlock()
	var result []AgentID
	stack := append([]AgentID(nil), roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		result = append(result, id)
		stack = append(stack, h.children[id]...)
	}
	return result
}

// NextSubID allocates a unique per-agent sub-session identifier, the way
// next_sub_id does in the reference (used to key provider conversation_id
// continuity per agent run).
func (h *Hub) NextSubID(agent AgentID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	subID := fmt.Sprintf("collab-agent-%d-%d", agent, h.nextSub)
	h.nextSub++
	return subID
}

func (h *Hub) RegisterSubID(agent AgentID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subIDs[subID] = agent
}

func (h *Hub) AgentForSubID(subID string) (AgentID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.subIDs[subID]
	return id, ok
}
