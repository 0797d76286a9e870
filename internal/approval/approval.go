// Package approval caches user approval decisions for the lifetime of a
// session so the Tool Orchestrator only ever prompts once per distinct
// tool/command/cwd combination, mirroring Codex's ApprovedForSession
// semantics. Locking follows the teacher's mcp.Proxy idiom: one mutex
// guarding a plain map.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/xonecas/turnengine/internal/protocol"
)

// Key identifies a command for caching purposes; two requests with the
// same Key are considered "the same approval question" for the rest of
// the session.
type Key struct {
	ToolName string   `json:"tool_name"`
	Command  []string `json:"command,omitempty"`
	Cwd      string   `json:"cwd,omitempty"`
}

// hash returns a stable digest of the key's JSON encoding (the order of
// Command's elements is significant), used as the
// cache's map key so equal Key values always collide regardless of
// whatever Go's struct comparison rules would otherwise do with slices.
func (k Key) hash() string {
	b, _ := json.Marshal(k)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Cache remembers ReviewDecision answers for the current session.
type Cache struct {
	mu    sync.Mutex
	byKey map[string]protocol.ReviewDecision
}

func NewCache() *Cache {
	return &Cache{byKey: make(map[string]protocol.ReviewDecision)}
}

// Lookup returns a cached decision for key, if the user previously chose
// DecisionApprovedForSession for it.
func (c *Cache) Lookup(key Key) (protocol.ReviewDecision, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.byKey[key.hash()]
	return d, ok
}

// Remember records decision against key. Only DecisionApprovedForSession
// is actually cached; one-off approvals/denials are not, so the next
// identical request prompts again.
func (c *Cache) Remember(key Key, decision protocol.ReviewDecision) {
	if c == nil || decision != protocol.DecisionApprovedForSession {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[key.hash()] = decision
}
