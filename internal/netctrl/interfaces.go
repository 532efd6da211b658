// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netctrl

// RouteTableType selects which kernel routing table a route belongs in,
// per §4.4.1: the registry never picks routes itself, only the table kind.
type RouteTableType int

const (
	RouteTableLocal RouteTableType = iota
	RouteTableLegacySystem
	RouteTableLegacyNetwork
	RouteTableInterface
)

// RouteController is the external route-controller collaborator (§6). The
// registry only validates that an interface belongs to the named network
// and picks the table type before delegating; it never builds or owns
// routes itself.
type RouteController interface {
	Init(localNetID NetID) error
	AddRoute(table RouteTableType, iface, destination, nexthop string) error
	UpdateRoute(table RouteTableType, iface, destination, nexthop string) error
	RemoveRoute(table RouteTableType, iface, destination, nexthop string) error
	AddVirtualNetworkFallthrough(vpnNetID NetID, physicalIface string, perm Permission) error
	RemoveVirtualNetworkFallthrough(vpnNetID NetID, physicalIface string, perm Permission) error
	GetIfIndex(iface string) (int, error)
}

// TrafficControl clears stale classifier qdiscs, invoked once per
// interface at registry construction (§6).
type TrafficControl interface {
	ClearClsact(ifIndex int) error
}

// TCPSocketMonitor receives resume/suspend signals based on whether any
// Physical network with netId >= MinNetID currently exists (§4.4.6).
type TCPSocketMonitor interface {
	ResumePolling()
	SuspendPolling()
}
