// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netctrl

import "grimm.is/flywall/internal/fwmark"

// NetworkContext mirrors android_net_context: the fwmarks and netIds a
// caller should use for its own traffic and for DNS (§4.4.2).
type NetworkContext struct {
	AppNetID NetID
	AppMark  uint32
	DNSNetID NetID
	DNSMark  uint32
	UID      uint32
}

// appDefaultNetwork returns the app-specific default network for uid, if
// one of its attached uid ranges nominates one (subPriority strictly less
// than SubPriorityNoDefault), else Unset. Must be called with the lock
// held.
func (r *Registry) appDefaultNetwork(uid uint32) NetID {
	var winner NetID = Unset
	var winnerSP SubPriority = SubPriorityNoDefault
	found := false

	for id, net := range r.networks {
		if net.variant != VariantPhysical && net.variant != VariantUnreachable {
			continue
		}
		sp, ok := net.appliesToUser(uid)
		if !ok || sp >= SubPriorityNoDefault {
			continue
		}
		if !found || sp < winnerSP || (sp == winnerSP && id < winner) {
			winner = id
			winnerSP = sp
			found = true
		}
	}
	if !found {
		return Unset
	}
	return winner
}

// vpnApplyingTo returns the Virtual network applicable to uid, if any.
// Invariant 4 guarantees at most one; if misconfiguration produces more
// than one, behavior is undefined and this returns an arbitrary one of
// them (deterministically the smallest netId, per the tie-break license
// in §9).
func (r *Registry) vpnApplyingTo(uid uint32) (*network, bool) {
	var winner *network
	var winnerID NetID
	for id, net := range r.networks {
		if net.variant != VariantVirtual {
			continue
		}
		if _, ok := net.appliesToUser(uid); ok {
			if winner == nil || id < winnerID {
				winner = net
				winnerID = id
			}
		}
	}
	return winner, winner != nil
}

// GetNetworkForUser returns the highest-priority Physical or Unreachable
// network applicable to uid, falling back to the global default. VPNs are
// deliberately excluded from this resolution (§4.4.2): callers use it for
// uid-scoped display/listing, not for routing.
func (r *Registry) GetNetworkForUser(uid uint32) NetID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.networkForConnectLocked(uid)
}

// GetNetworkForConnect returns the network an outgoing connection for uid
// should use: the highest-priority applicable Physical/Unreachable
// network, or the global default if none applies (§4.4.2). VPNs
// deliberately do not win here so sockets remain usable across VPN
// teardown; secure VPNs instead grab sockets via high-priority kernel
// routing rules, outside this core's concern.
func (r *Registry) GetNetworkForConnect(uid uint32) NetID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.networkForConnectLocked(uid)
}

func (r *Registry) networkForConnectLocked(uid uint32) NetID {
	if n := r.appDefaultNetwork(uid); n != Unset {
		return n
	}
	return r.defaultNetID
}

// GetNetworkForDNS produces the fwmark for a DNS query and may rewrite the
// requested netId, per the five-step algorithm of §4.4.2.
func (r *Registry) GetNetworkForDNS(requested NetID, uid uint32) (NetID, fwmark.Mark, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getNetworkForDNSLocked(requested, uid)
}

// GetNetworkContext fills an android_net_context-equivalent struct for
// (requestedAppNetID, uid), per §4.4.2's third resolution function.
func (r *Registry) GetNetworkContext(requestedAppNetID NetID, uid uint32) (NetworkContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctx := NetworkContext{UID: uid}

	explicitlySelected := requestedAppNetID != Unset
	appNetID := requestedAppNetID
	if !explicitlySelected {
		appNetID = r.networkForConnectLocked(uid)
	}
	ctx.AppNetID = appNetID

	protectedFromVPN := explicitlySelected && r.canProtectLocked(uid, appNetID)

	appMark := fwmark.Mark{
		NetID:              uint16(appNetID),
		ExplicitlySelected: explicitlySelected,
		ProtectedFromVPN:   protectedFromVPN,
		Permission:         fwmark.Permission(r.permissionOf(uid)),
	}
	ctx.AppMark = fwmark.Encode(appMark)

	dnsNetID, dnsMark, err := r.getNetworkForDNSLocked(requestedAppNetID, uid)
	if err != nil {
		return ctx, err
	}
	ctx.DNSNetID = dnsNetID
	ctx.DNSMark = fwmark.Encode(dnsMark)

	return ctx, nil
}

// getNetworkForDNSLocked is GetNetworkForDNS without re-acquiring the
// already-held read lock, used by GetNetworkContext.
func (r *Registry) getNetworkForDNSLocked(requested NetID, uid uint32) (NetID, fwmark.Mark, error) {
	mark := fwmark.Mark{
		ExplicitlySelected: false,
		ProtectedFromVPN:   true,
		Permission:         fwmark.PermissionSystem,
	}

	def := r.appDefaultNetwork(uid)
	if def == Unset {
		def = r.defaultNetID
	}

	vpn, hasVPN := r.vpnApplyingTo(uid)

	if requested == Unset && !hasVPN {
		mark.NetID = uint16(def)
		mark.ExplicitlySelected = true
		return def, mark, nil
	}

	if requested != Unset {
		if err := r.checkUserNetworkAccessLocked(uid, requested); err == nil {
			mark.ExplicitlySelected = true
			out := requested
			if net, ok := r.networks[requested]; ok && net.variant == VariantVirtual && !net.hasNameservers {
				out = def
			}
			mark.NetID = uint16(out)
			return out, mark, nil
		}
	}

	if hasVPN && vpn.hasNameservers {
		mark.ExplicitlySelected = true
		for id, net := range r.networks {
			if net == vpn {
				mark.NetID = uint16(id)
				return id, mark, nil
			}
		}
	}

	mark.ExplicitlySelected = false
	mark.NetID = uint16(def)
	return def, mark, nil
}

// CheckUserNetworkAccess implements §4.4.4's nine-step decision.
func (r *Registry) CheckUserNetworkAccess(uid uint32, n NetID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	err := r.checkUserNetworkAccessLocked(uid, n)
	if err != nil {
		r.metrics.accessDenied.Inc()
	}
	return err
}

func (r *Registry) checkUserNetworkAccessLocked(uid uint32, n NetID) error {
	net, ok := r.networks[n]
	if !ok {
		return errNoNetwork("network does not exist", map[string]any{"netId": uint16(n)})
	}
	if uid == InvalidUID {
		return errRemoteIO("caller uid could not be identified", nil)
	}

	userPerm := r.permissionOf(uid)
	if userPerm.Satisfies(PermissionSystem) {
		return nil
	}

	if net.variant == VariantVirtual {
		if _, ok := net.appliesToUser(uid); ok {
			return nil
		}
		return errPermissionDenied("VPN does not apply to uid", map[string]any{"uid": uid, "netId": uint16(n)})
	}

	if vpn, ok := r.vpnApplyingTo(uid); ok && vpn.secure {
		if r.canProtectLocked(uid, n) {
			return nil
		}
		return errPermissionDenied("secure VPN applies to uid and uid cannot protect on target network", map[string]any{
			"uid": uid, "netId": uint16(n),
		})
	}

	if net.variant == VariantPhysical {
		if _, ok := net.appliesToUser(uid); ok {
			return nil
		}
	}

	if net.variant == VariantUnreachable {
		if _, ok := net.appliesToUser(uid); ok {
			return nil
		}
		return errPermissionDenied("unreachable network does not apply to uid", map[string]any{"uid": uid, "netId": uint16(n)})
	}

	if !net.isUidAllowed(uid) {
		return errAccessDenied("uid not present in network allowlist", map[string]any{"uid": uid, "netId": uint16(n)})
	}

	if userPerm.Satisfies(net.permission) {
		return nil
	}
	return errAccessDenied("user permission does not dominate network permission", map[string]any{
		"uid": uid, "netId": uint16(n),
	})
}

// CanProtect reports whether uid may mark a socket as exempt from
// bypassable VPN capture for network n (§4.4: SYSTEM bit, or an explicit
// protectable grant for n or for any network).
func (r *Registry) CanProtect(uid uint32, n NetID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.canProtectLocked(uid, n)
}

func (r *Registry) canProtectLocked(uid uint32, n NetID) bool {
	if r.permissionOf(uid).Satisfies(PermissionSystem) {
		return true
	}
	if _, ok := r.protectable[protectKey{uid, Unset}]; ok {
		return true
	}
	_, ok := r.protectable[protectKey{uid, n}]
	return ok
}

// IsUidAllowed reports whether uid may use network n. n == Unset is
// allowed only while no default network exists, the bootstrap hosts-file
// exemption (§4.4.1).
func (r *Registry) IsUidAllowed(n NetID, uid uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n == Unset {
		return r.defaultNetID == Unset
	}
	net, ok := r.networks[n]
	if !ok {
		return false
	}
	return net.isUidAllowed(uid)
}
