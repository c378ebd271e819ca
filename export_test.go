package coupler

// RetiredLen returns the number of unregistered connection queues
// that have not finished draining.
func (e *Endpoint) RetiredLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.retired)
}
