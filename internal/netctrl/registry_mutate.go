// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netctrl

import "grimm.is/flywall/internal/audit"

// GetDefaultNetwork returns the current default physical network, or
// Unset if none is set.
func (r *Registry) GetDefaultNetwork() NetID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultNetID
}

// SetDefaultNetwork installs n as the default network. n must be Unset or
// name an existing Physical network. Installation is add-before-remove:
// the new default is marked before the previous one is cleared, so a
// reader never observes "no default" during the transition.
func (r *Registry) SetDefaultNetwork(n NetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n == r.defaultNetID {
		return nil
	}

	if n != Unset {
		net, ok := r.networks[n]
		if !ok {
			return errNoNetwork("network does not exist", map[string]any{"netId": uint16(n)})
		}
		if net.variant != VariantPhysical {
			return errWrongVariant("default network must be physical", map[string]any{"netId": uint16(n)})
		}
		if err := net.addAsDefault(); err != nil {
			return err
		}
	}

	previous := r.defaultNetID
	r.defaultNetID = n

	if previous != Unset {
		if prevNet, ok := r.networks[previous]; ok {
			_ = prevNet.removeAsDefault()
		}
	}

	r.metrics.defaultNetChange.Inc()
	r.auditEvent(audit.EventNetworkSetDefault, n, "set_default_network", true, map[string]interface{}{"previous": uint16(previous)})
	return nil
}

// CreatePhysicalNetwork registers a new Physical network with netId n,
// which must fall in the user-assignable range and not already exist.
func (r *Registry) CreatePhysicalNetwork(n NetID, perm Permission, local bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createPhysicalNetworkLocked(n, perm)
}

func (r *Registry) createPhysicalNetworkLocked(n NetID, perm Permission) error {
	if n < MinNetID || n > MaxNetID {
		return errInvalidArg("netId out of range for a physical network", map[string]any{"netId": uint16(n)})
	}
	if _, exists := r.networks[n]; exists {
		return errDuplicate("netId already exists", map[string]any{"netId": uint16(n)})
	}

	net := newNetwork(n, VariantPhysical)
	net.permission = perm
	net.delegate = r.delegate
	r.networks[n] = net

	r.updateSocketMonitor()
	r.metrics.networkCreated.Inc()
	r.refreshNetworkGauge()
	r.auditEvent(audit.EventNetworkCreate, n, "create_physical_network", true, map[string]interface{}{"permission": uint8(perm)})
	return nil
}

// CreatePhysicalOemNetwork scans [MinOEMNetID, MaxOEMNetID] for the first
// free id and creates a Physical network there.
func (r *Registry) CreatePhysicalOemNetwork(perm Permission) (NetID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := MinOEMNetID; id <= MaxOEMNetID; id++ {
		if _, exists := r.networks[id]; !exists {
			if err := r.createPhysicalNetworkLocked(id, perm); err != nil {
				return Unset, err
			}
			return id, nil
		}
	}
	return Unset, errExhausted("OEM netId range fully allocated", nil)
}

// CreateVirtualNetwork registers a new Virtual (VPN) network. Fallthrough
// routes against the current default are established before the network
// is inserted into the map, so no reader ever observes a VPN without its
// fallthrough routes in place.
func (r *Registry) CreateVirtualNetwork(n NetID, secure bool, vpnType VPNType, excludeLocalRoutes bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n < MinNetID || n > MaxNetID {
		return errInvalidArg("netId out of range for a virtual network", map[string]any{"netId": uint16(n)})
	}
	if _, exists := r.networks[n]; exists {
		return errDuplicate("netId already exists", map[string]any{"netId": uint16(n)})
	}

	if r.defaultNetID != Unset {
		if def, ok := r.networks[r.defaultNetID]; ok {
			for iface := range def.interfaces {
				if err := r.routes.AddVirtualNetworkFallthrough(n, iface, def.permission); err != nil {
					r.log.Warn("add VPN fallthrough at creation failed", "netId", uint16(n), "interface", iface, "error", err)
				}
			}
		}
	}

	net := newNetwork(n, VariantVirtual)
	net.secure = secure
	net.vpnType = vpnType
	net.excludeLocalRoutes = excludeLocalRoutes
	r.networks[n] = net
	r.metrics.networkCreated.Inc()
	r.refreshNetworkGauge()
	r.auditEvent(audit.EventNetworkCreate, n, "create_virtual_network", true, map[string]interface{}{"secure": secure, "vpnType": int(vpnType)})
	return nil
}

// DestroyNetwork removes n. Forbidden for Local and Unreachable. Clears
// every interface (errors accumulated, never abandoning the rest of
// cleanup — "things will get stuck badly" if state isn't cleared), clears
// default/fallthrough state as appropriate, and purges
// ifindexToLastNetID entries naming n (§4.4.3).
func (r *Registry) DestroyNetwork(n NetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	net, ok := r.networks[n]
	if !ok {
		return errNoNetwork("network does not exist", map[string]any{"netId": uint16(n)})
	}
	if n == LocalNetID || n == Unreachable {
		return errInvalidArg("network cannot be destroyed", map[string]any{"netId": uint16(n)})
	}

	var firstErr error
	for iface := range net.interfaces {
		if err := r.removeInterfaceFromNetworkLocked(n, iface); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if n == r.defaultNetID {
		_ = net.removeAsDefault()
		r.defaultNetID = Unset
	} else if net.variant == VariantVirtual && r.defaultNetID != Unset {
		if def, ok := r.networks[r.defaultNetID]; ok {
			for iface := range def.interfaces {
				if err := r.routes.RemoveVirtualNetworkFallthrough(n, iface, def.permission); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	delete(r.networks, n)

	for idx, last := range r.ifindexToLastNetID {
		if last == n {
			delete(r.ifindexToLastNetID, idx)
		}
	}

	r.updateSocketMonitor()
	r.metrics.networkDestroyed.Inc()
	r.refreshNetworkGauge()
	r.auditEvent(audit.EventNetworkDestroy, n, "destroy_network", firstErr == nil, nil)
	return firstErr
}

// AddInterfaceToNetwork attaches iface to n. The interface must not
// already belong to a different netId (BUSY). ifindexToLastNetID is
// updated unless n is Local (invariant 6).
func (r *Registry) AddInterfaceToNetwork(n NetID, iface string, ifIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addInterfaceToNetworkLocked(n, iface, ifIndex)
}

func (r *Registry) addInterfaceToNetworkLocked(n NetID, iface string, ifIndex int) error {
	net, ok := r.networks[n]
	if !ok {
		return errNoNetwork("network does not exist", map[string]any{"netId": uint16(n)})
	}

	for otherID, other := range r.networks {
		if otherID != n && other.hasInterface(iface) {
			return errBusy("interface already owned by a different network", map[string]any{
				"interface": iface, "netId": uint16(n), "owner": uint16(otherID),
			})
		}
	}

	if err := net.addInterface(iface); err != nil {
		return err
	}

	if net.variant != VariantLocal {
		r.ifindexToLastNetID[ifIndex] = n
	}

	if net.variant == VariantPhysical {
		net.delegate = r.delegate
		r.delegate.addFallthrough(iface, net.permission)
	}

	r.updateSocketMonitor()
	r.auditEvent(audit.EventNetworkInterface, n, "add_interface", true, map[string]interface{}{"interface": iface})
	return nil
}

// RemoveInterfaceFromNetwork detaches iface from n.
func (r *Registry) RemoveInterfaceFromNetwork(n NetID, iface string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeInterfaceFromNetworkLocked(n, iface)
}

func (r *Registry) removeInterfaceFromNetworkLocked(n NetID, iface string) error {
	net, ok := r.networks[n]
	if !ok {
		return errNoNetwork("network does not exist", map[string]any{"netId": uint16(n)})
	}
	if err := net.removeInterface(iface); err != nil {
		return err
	}
	if net.variant == VariantPhysical {
		r.delegate.removeFallthrough(iface, net.permission)
	}
	r.updateSocketMonitor()
	r.auditEvent(audit.EventNetworkInterface, n, "remove_interface", true, map[string]interface{}{"interface": iface})
	return nil
}

// AddRoute validates that iface belongs to n, picks the route table type,
// and forwards to the route controller. The registry never owns route
// state itself (§4.4.1). legacy selects between the LEGACY_* tables (for
// the pre-netId routing stack) and the per-network INTERFACE table; uid is
// only consulted when legacy is true, to split LEGACY_SYSTEM from
// LEGACY_NETWORK.
func (r *Registry) AddRoute(n NetID, iface, destination, nexthop string, legacy bool, uid uint32) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, err := r.routeTableFor(n, iface, legacy, uid)
	if err != nil {
		return err
	}
	return r.routes.AddRoute(table, iface, destination, nexthop)
}

func (r *Registry) UpdateRoute(n NetID, iface, destination, nexthop string, legacy bool, uid uint32) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, err := r.routeTableFor(n, iface, legacy, uid)
	if err != nil {
		return err
	}
	return r.routes.UpdateRoute(table, iface, destination, nexthop)
}

func (r *Registry) RemoveRoute(n NetID, iface, destination, nexthop string, legacy bool, uid uint32) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, err := r.routeTableFor(n, iface, legacy, uid)
	if err != nil {
		return err
	}
	return r.routes.RemoveRoute(table, iface, destination, nexthop)
}

// routeTableFor picks the route table a route for (n, iface) belongs in:
// LOCAL for the Local network, else LEGACY_SYSTEM/LEGACY_NETWORK (split by
// whether uid holds PERMISSION_SYSTEM) when legacy is requested, else the
// per-network INTERFACE table.
func (r *Registry) routeTableFor(n NetID, iface string, legacy bool, uid uint32) (RouteTableType, error) {
	net, ok := r.networks[n]
	if !ok {
		return 0, errNoNetwork("network does not exist", map[string]any{"netId": uint16(n)})
	}
	if !net.hasInterface(iface) {
		return 0, errNoInterface("interface not bound to network", map[string]any{
			"netId": uint16(n), "interface": iface,
		})
	}
	if net.variant == VariantLocal {
		return RouteTableLocal, nil
	}
	if legacy {
		if r.permissionOf(uid).Satisfies(PermissionSystem) {
			return RouteTableLegacySystem, nil
		}
		return RouteTableLegacyNetwork, nil
	}
	return RouteTableInterface, nil
}

// SetPermissionForUsers bulk-assigns perm to every uid in uids.
func (r *Registry) SetPermissionForUsers(perm Permission, uids []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uid := range uids {
		r.users[uid] = perm
	}
}

// SetPermissionForNetworks bulk-assigns perm to every named Physical
// network; non-Physical targets report WRONG_VARIANT for that netId but
// the loop continues (bulk operation, first error remembered).
func (r *Registry) SetPermissionForNetworks(perm Permission, netIDs []NetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, id := range netIDs {
		net, ok := r.networks[id]
		if !ok {
			if firstErr == nil {
				firstErr = errNoNetwork("network does not exist", map[string]any{"netId": uint16(id)})
			}
			continue
		}
		err := net.setPermission(perm)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		r.auditEvent(audit.EventNetworkPermission, id, "set_permission_for_network", err == nil, map[string]interface{}{"permission": uint8(perm)})
	}
	return firstErr
}

// AddUsersToNetwork/RemoveUsersFromNetwork only succeed on variants whose
// canAddUsers() is true (Physical, Virtual, Unreachable; §4.2).
func (r *Registry) AddUsersToNetwork(n NetID, ranges []UIDRange, sp SubPriority) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	net, ok := r.networks[n]
	if !ok {
		return errNoNetwork("network does not exist", map[string]any{"netId": uint16(n)})
	}
	return net.addUsers(ranges, sp)
}

func (r *Registry) RemoveUsersFromNetwork(n NetID, ranges []UIDRange, sp SubPriority) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	net, ok := r.networks[n]
	if !ok {
		return errNoNetwork("network does not exist", map[string]any{"netId": uint16(n)})
	}
	return net.removeUsers(ranges, sp)
}

// AllowProtect/DenyProtect maintain the protectable set. n == Unset
// authorizes uid to protect sockets on any network.
func (r *Registry) AllowProtect(uid uint32, n NetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protectable[protectKey{uid, n}] = struct{}{}
}

func (r *Registry) DenyProtect(uid uint32, n NetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := protectKey{uid, n}
	if _, ok := r.protectable[key]; !ok {
		return errNoSuchEntry("uid not protectable on network", map[string]any{
			"uid": uid, "netId": uint16(n),
		})
	}
	delete(r.protectable, key)
	return nil
}

// AllowlistEntry is one element of a SetNetworkAllowlist batch.
type AllowlistEntry struct {
	NetID  NetID
	Ranges []UIDRange
}

// SetNetworkAllowlist atomically replaces every network's allowlist:
// validate every netId first, then clear every network's list, then apply
// the new ones, so a validation failure leaves every allowlist untouched.
func (r *Registry) SetNetworkAllowlist(entries []AllowlistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		if _, ok := r.networks[e.NetID]; !ok {
			return errNoNetwork("network does not exist", map[string]any{"netId": uint16(e.NetID)})
		}
	}

	for _, net := range r.networks {
		net.clearAllowedUids()
	}
	for _, e := range entries {
		r.networks[e.NetID].setAllowedUids(e.Ranges)
		r.auditEvent(audit.EventNetworkAllowlist, e.NetID, "set_network_allowlist", true, map[string]interface{}{"ranges": len(e.Ranges)})
	}
	return nil
}

// AddInterfaceAddress records addr as present on ifIndex.
func (r *Registry) AddInterfaceAddress(ifIndex int, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr = normalizeAddr(addr)
	set, ok := r.addressToIfindices[addr]
	if !ok {
		set = make(map[int]struct{})
		r.addressToIfindices[addr] = set
	}
	set[ifIndex] = struct{}{}
}

// RemoveInterfaceAddress removes addr from ifIndex and reports whether the
// caller should force-close sockets bound to it (§4.4.5: VPN handover
// suppresses the close when another interface in the same Virtual network
// still carries the address).
func (r *Registry) RemoveInterfaceAddress(ifIndex int, addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr = normalizeAddr(addr)
	set, ok := r.addressToIfindices[addr]
	if !ok {
		return true
	}
	if _, present := set[ifIndex]; !present {
		return true
	}
	delete(set, ifIndex)

	if len(set) == 0 {
		delete(r.addressToIfindices, addr)
		return true
	}

	lastNet, ok := r.ifindexToLastNetID[ifIndex]
	if !ok {
		return true
	}

	net, ok := r.networks[lastNet]
	if !ok || net.variant != VariantVirtual {
		return true
	}

	for otherIdx := range set {
		if r.ifindexToLastNetID[otherIdx] == lastNet {
			return false
		}
	}
	return true
}
