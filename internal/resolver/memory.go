package resolver

import "sync"

// Memory holds selectors learned during one session, newest first.
type Memory struct {
	mu      sync.RWMutex
	learned map[string][]string
}

func NewMemory() *Memory {
	return &Memory{learned: make(map[string][]string)}
}

// Get returns the learned selectors for a target.
func (m *Memory) Get(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.learned[name]...)
}

// Put records selector as the preferred one for name.
func (m *Memory) Put(name, selector string) {
	if selector == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{selector}
	for _, s := range m.learned[name] {
		if s != selector {
			out = append(out, s)
		}
	}
	m.learned[name] = out
}

// Snapshot copies every learned selector.
func (m *Memory) Snapshot() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string, len(m.learned))
	for k, v := range m.learned {
		out[k] = append([]string(nil), v...)
	}
	return out
}
