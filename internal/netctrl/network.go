// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netctrl

// Variant tags the sum type described in §9 of the design: every network
// is one of these five kinds, and operations that only make sense for one
// kind (setPermission, addAsDefault) report WRONG_VARIANT on the others
// rather than being expressed as separate Go types with no common surface.
type Variant int

const (
	VariantPhysical Variant = iota
	VariantVirtual
	VariantLocal
	VariantUnreachable
	VariantDummy
)

func (v Variant) String() string {
	switch v {
	case VariantPhysical:
		return "physical"
	case VariantVirtual:
		return "virtual"
	case VariantLocal:
		return "local"
	case VariantUnreachable:
		return "unreachable"
	case VariantDummy:
		return "dummy"
	default:
		return "unknown"
	}
}

// PhysicalDelegate is the narrow capability a Physical network uses to ask
// the registry to update VPN fallthrough routes on its interfaces. The
// registry implements it and hands a non-owning handle to every Physical
// network it creates; the delegate is only ever invoked from mutators that
// already hold the registry's write lock (§4.3, §5).
type PhysicalDelegate interface {
	addFallthrough(iface string, perm Permission)
	removeFallthrough(iface string, perm Permission)
}

// network is the common representation for all five variants. Variant-
// specific fields are simply unused by the variants that don't apply; the
// capability methods below gate on variant instead of using five Go types,
// per the "variant dispatch" design note.
type network struct {
	netID      NetID
	variant    Variant
	interfaces map[string]bool

	// Physical only.
	permission Permission
	isDefault  bool
	delegate   PhysicalDelegate

	// Virtual only.
	secure             bool
	excludeLocalRoutes bool
	vpnType            VPNType
	hasNameservers     bool

	uidRules    *uidRuleSet
	allowedUIDs []UIDRange
}

func newNetwork(id NetID, variant Variant) *network {
	return &network{
		netID:      id,
		variant:    variant,
		interfaces: make(map[string]bool),
		uidRules:   newUIDRuleSet(),
	}
}

// addInterface attaches iface to the network. Fails with DUPLICATE if the
// interface is already attached to this same network (callers wanting
// cross-network exclusivity use the registry's BUSY check instead, since
// that requires looking at every network).
func (n *network) addInterface(iface string) error {
	if n.interfaces[iface] {
		return errDuplicate("interface already attached to network", map[string]any{
			"netId": uint16(n.netID), "interface": iface,
		})
	}
	n.interfaces[iface] = true
	return nil
}

// removeInterface detaches iface. Idempotent-on-removal is the registry's
// job (it knows whether an unknown interface is an error); at this layer
// removing an absent interface is reported as NO_SUCH_ENTRY.
func (n *network) removeInterface(iface string) error {
	if !n.interfaces[iface] {
		return errNoSuchEntry("interface not attached to network", map[string]any{
			"netId": uint16(n.netID), "interface": iface,
		})
	}
	delete(n.interfaces, iface)
	return nil
}

func (n *network) hasInterface(iface string) bool {
	return n.interfaces[iface]
}

func (n *network) getInterfaces() []string {
	out := make([]string, 0, len(n.interfaces))
	for iface := range n.interfaces {
		out = append(out, iface)
	}
	return out
}

// clearInterfaces removes every interface, accumulating nothing itself
// (each removal here cannot fail since we only iterate attached names).
func (n *network) clearInterfaces() {
	n.interfaces = make(map[string]bool)
}

// canAddUsers reports whether this variant accepts uid-range attachments:
// Physical, Virtual and Unreachable do; Local and Dummy do not (§4.2).
func (n *network) canAddUsers() bool {
	switch n.variant {
	case VariantPhysical, VariantVirtual, VariantUnreachable:
		return true
	default:
		return false
	}
}

func (n *network) addUsers(ranges []UIDRange, sp SubPriority) error {
	if !n.canAddUsers() {
		return errWrongVariant("variant does not accept uid ranges", map[string]any{
			"netId": uint16(n.netID), "variant": n.variant.String(),
		})
	}
	n.uidRules.add(ranges, sp)
	return nil
}

func (n *network) removeUsers(ranges []UIDRange, sp SubPriority) error {
	if !n.canAddUsers() {
		return errWrongVariant("variant does not accept uid ranges", map[string]any{
			"netId": uint16(n.netID), "variant": n.variant.String(),
		})
	}
	if !n.uidRules.remove(ranges, sp) {
		return errNoSuchEntry("uid range not attached at subPriority", map[string]any{
			"netId": uint16(n.netID), "subPriority": int32(sp),
		})
	}
	return nil
}

// appliesToUser reports whether uid is covered by any attached range and
// writes the winning (smallest) subPriority.
func (n *network) appliesToUser(uid uint32) (SubPriority, bool) {
	return n.uidRules.appliesTo(uid)
}

func (n *network) setAllowedUids(ranges []UIDRange) {
	n.allowedUIDs = ranges
}

func (n *network) clearAllowedUids() {
	n.allowedUIDs = nil
}

// isUidAllowed reports whether uid passes the per-network allowlist. An
// empty allowlist means every uid is allowed (§4.2).
func (n *network) isUidAllowed(uid uint32) bool {
	if len(n.allowedUIDs) == 0 {
		return true
	}
	for _, r := range n.allowedUIDs {
		if r.Contains(uid) {
			return true
		}
	}
	return false
}

// setPermission is Physical-only.
func (n *network) setPermission(p Permission) error {
	if n.variant != VariantPhysical {
		return errWrongVariant("setPermission requires a physical network", map[string]any{
			"netId": uint16(n.netID), "variant": n.variant.String(),
		})
	}
	n.permission = p
	return nil
}

// addAsDefault/removeAsDefault flip the default-capable flag; only
// meaningful on Physical networks, and the registry (not this method)
// enforces "at most one default" (invariant 2).
func (n *network) addAsDefault() error {
	if n.variant != VariantPhysical {
		return errWrongVariant("addAsDefault requires a physical network", map[string]any{
			"netId": uint16(n.netID), "variant": n.variant.String(),
		})
	}
	n.isDefault = true
	return nil
}

func (n *network) removeAsDefault() error {
	if n.variant != VariantPhysical {
		return errWrongVariant("removeAsDefault requires a physical network", map[string]any{
			"netId": uint16(n.netID), "variant": n.variant.String(),
		})
	}
	n.isDefault = false
	return nil
}

// isSecureVPN reports whether this network is a non-bypassable VPN.
func (n *network) isSecureVPN() bool {
	return n.variant == VariantVirtual && n.secure
}

// setHasNameservers records whether the resolver currently has nameservers
// configured for this VPN, consulted by the DNS resolution policy
// (§4.4.2) to decide whether a VPN can serve DNS or must fall through to
// the default network.
func (n *network) setHasNameservers(has bool) error {
	if n.variant != VariantVirtual {
		return errWrongVariant("setHasNameservers requires a virtual network", map[string]any{
			"netId": uint16(n.netID), "variant": n.variant.String(),
		})
	}
	n.hasNameservers = has
	return nil
}
