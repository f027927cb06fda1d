package screening

// MaybeRegister lets registration continue for c if no lookups are pending
// and the client's other prerequisites are met. Hosts call it whenever one of
// those prerequisites changes. It reports whether the gate fired now.
func (s *Service) MaybeRegister(c Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Exited() {
		return false
	}
	pre := c.PreClient()
	if pre == nil {
		return false
	}
	return s.gate(c, pre)
}

// gate fires Register at most once per client.
func (s *Service) gate(c Client, pre *PreClient) bool {
	if pre.gated || len(pre.queries) > 0 || !c.ReadyToRegister() {
		return false
	}
	pre.gated = true

	if pre.listed != 0 {
		if e, ok := s.registry.Get(pre.listed); ok {
			s.metrics.ClientRejected(e.Host)
		}
	}
	c.Register()
	return true
}
