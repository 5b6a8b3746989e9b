package upnpcore

// GetServerIpAddress returns the IPv4 address the embedded web/control
// server is bound to, or "" if the selected interface has none.
func (c *CoreContext) GetServerIpAddress() string {
	c.mut.RLock()
	defer c.mut.RUnlock()
	if c.addr4 == nil {
		return ""
	}
	return c.addr4.String()
}

// GetServerPort returns the IPv4 listening port.
func (c *CoreContext) GetServerPort() int {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return c.port
}

// GetServerIp6Address returns the link-local IPv6 address of the
// selected interface, or "" if it has none.
func (c *CoreContext) GetServerIp6Address() string {
	c.mut.RLock()
	defer c.mut.RUnlock()
	if c.addr6Link == nil {
		return ""
	}
	return c.addr6Link.String()
}

// GetServerPort6 returns the IPv6 listening port (identical to
// GetServerPort: the core shares one TCP listener across families).
func (c *CoreContext) GetServerPort6() int {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return c.port6
}

// GetServerUlaGuaIp6Address returns the interface's unique-local or
// global-unicast IPv6 address, the one CALLBACK headers advertise to a
// non-link-local publisher per spec.md §4.8 rule 1.
func (c *CoreContext) GetServerUlaGuaIp6Address() string {
	c.mut.RLock()
	defer c.mut.RUnlock()
	if c.addr6Gua == nil {
		return ""
	}
	return c.addr6Gua.String()
}

// GetServerUlaGuaPort6 returns the port associated with
// GetServerUlaGuaIp6Address.
func (c *CoreContext) GetServerUlaGuaPort6() int {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return c.port6
}
