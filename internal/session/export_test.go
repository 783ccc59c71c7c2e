package session

// Waiters reports how many callers are waiting on the renewal for key.
func (m *Manager) Waiters(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.flights[key]; f != nil {
		return f.waiters
	}
	return 0
}
