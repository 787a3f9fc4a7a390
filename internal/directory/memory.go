package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process directory for local runs and tests.
type Memory struct {
	mu     sync.RWMutex
	users  map[string]bool // username -> enabled
	groups map[string]map[string]struct{} // group -> usernames
	calls  []Call
}

// Call records a mutation, in order.
type Call struct {
	Op       string // "add" | "remove"
	Username string
	Group    string
}

func NewMemory(usernames ...string) *Memory {
	m := &Memory{users: map[string]bool{}, groups: map[string]map[string]struct{}{}}
	for _, u := range usernames {
		m.users[u] = true
	}
	return m
}

// ParseSeed reads a JSON array of usernames. Blank entries are dropped.
func ParseSeed(jsonSeed string) ([]string, error) {
	if strings.TrimSpace(jsonSeed) == "" {
		return nil, nil
	}
	var raw []string
	if err := json.Unmarshal([]byte(jsonSeed), &raw); err != nil {
		return nil, fmt.Errorf("directory seed: %w", err)
	}
	out := raw[:0]
	for _, n := range raw {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *Memory) AddUser(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[username] = true
}

// DisableUser keeps the user and its memberships but hides it from
// enabled-only lookups.
func (m *Memory) DisableUser(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		m.users[username] = false
	}
}

func (m *Memory) FindUsers(_ context.Context, username string, includeDisabled bool) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if enabled, ok := m.users[username]; ok && (enabled || includeDisabled) {
		return []string{username}, nil
	}
	return nil, nil
}

func (m *Memory) AddUserToGroup(_ context.Context, username, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "add", Username: username, Group: group})
	members, ok := m.groups[group]
	if !ok {
		members = map[string]struct{}{}
		m.groups[group] = members
	}
	members[username] = struct{}{}
	return nil
}

func (m *Memory) RemoveUserFromGroup(_ context.Context, username, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "remove", Username: username, Group: group})
	delete(m.groups[group], username)
	return nil
}

func (m *Memory) IsMember(username, group string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.groups[group][username]
	return ok
}

func (m *Memory) Members(group string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.groups[group]))
	for u := range m.groups[group] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Call(nil), m.calls...)
}
