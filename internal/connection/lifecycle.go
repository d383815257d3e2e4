package connection

// NetworkOffline reports that the host lost connectivity. An open or
// opening connection is treated as failed and enters the retry path.
func (m *Manager) NetworkOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected && m.state != StateConnecting {
		return
	}
	m.logger.Info("network offline")
	m.failLocked(ErrNetworkOffline)
}

// NetworkOnline reports restored connectivity. Unless the application
// disconnected on purpose, it reconnects now instead of waiting out the
// backoff.
func (m *Manager) NetworkOnline() {
	if !m.wantsConnection() {
		return
	}
	m.logger.Info("network online")
	_ = m.Connect()
}

// VisibilityChanged reports whether the console is in the foreground.
// Becoming visible reconnects like NetworkOnline; hiding has no effect.
func (m *Manager) VisibilityChanged(visible bool) {
	if !visible || !m.wantsConnection() {
		return
	}
	_ = m.Connect()
}

func (m *Manager) wantsConnection() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wanted && !m.closed
}
