// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netctrl

// SetVPNHasNameservers records whether resolver nameservers are currently
// configured for Virtual network n, consulted by GetNetworkForDNS (§4.4.2).
func (r *Registry) SetVPNHasNameservers(n NetID, has bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	net, ok := r.networks[n]
	if !ok {
		return errNoNetwork("network does not exist", map[string]any{"netId": uint16(n)})
	}
	return net.setHasNameservers(has)
}

// NetworkSnapshot is a read-only value copy of one network's state, used
// for status reporting and audit logging — never mutated and never
// shared with the live registry.
type NetworkSnapshot struct {
	NetID      NetID
	Variant    Variant
	Interfaces []string
	Permission Permission
	IsDefault  bool
	Secure     bool
	VPNType    VPNType
}

// Snapshot returns a point-in-time copy of every network and the current
// default netId. It never blocks other readers for longer than copying
// the data requires.
func (r *Registry) Snapshot() ([]NetworkSnapshot, NetID) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NetworkSnapshot, 0, len(r.networks))
	for id, n := range r.networks {
		out = append(out, NetworkSnapshot{
			NetID:      id,
			Variant:    n.variant,
			Interfaces: n.getInterfaces(),
			Permission: n.permission,
			IsDefault:  n.isDefault,
			Secure:     n.secure,
			VPNType:    n.vpnType,
		})
	}
	return out, r.defaultNetID
}
