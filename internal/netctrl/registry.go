// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netctrl

import (
	"context"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/flywall/internal/audit"
	"grimm.is/flywall/internal/logging"
)

// Registry is the thread-safe map of netId to Network, the user
// permission table, and the policy that answers "which network does this
// uid use". Every public method takes the single reader-writer lock
// described in §5; internal helpers assume it is already held and never
// re-enter a public method.
//
// Tests construct their own Registry rather than touching a process-wide
// singleton (§9 "Global state"); cmd/netctrld wires the one long-lived
// instance at startup.
type Registry struct {
	mu sync.RWMutex

	networks map[NetID]*network
	users    map[uint32]Permission
	// protectable holds (uid, NetID) pairs; NetID == Unset authorizes the
	// uid to protect sockets on any network.
	protectable map[protectKey]struct{}

	defaultNetID NetID

	ifindexToLastNetID map[int]NetID
	addressToIfindices  map[string]map[int]struct{}

	routes  RouteController
	tc      TrafficControl
	socket  TCPSocketMonitor
	log     *logging.Logger
	audit   *audit.Logger
	netlink Netlinker
	metrics *metrics

	delegate *registryDelegate
}

type protectKey struct {
	uid   uint32
	netID NetID
}

// Deps bundles the external collaborators the registry drives. Nil Routes,
// TC and Socket are replaced with no-op implementations and a nil Log with
// logging.Default(), so tests can construct a Registry without wiring
// every collaborator.
type Deps struct {
	Routes RouteController
	TC     TrafficControl
	Socket TCPSocketMonitor
	Log    *logging.Logger
	// Audit is optional: when nil, mutating operations simply skip the
	// audit trail (used by most unit tests, which construct their own
	// Registry per §9 "Global state" and don't care about the trail).
	Audit *audit.Logger
	// Netlink is optional: when nil, DefaultNetlinker (real netlink) is
	// used. Tests that exercise AddInterfaceToNetworkByName supply a fake.
	Netlink Netlinker
	// Metrics, when non-nil, is the Prometheus registerer the Registry's
	// counters/gauges are registered against. Left nil in most unit tests
	// to avoid duplicate-registration panics across table-driven cases.
	Metrics prometheus.Registerer
}

// New constructs a Registry pre-populated with the three permanent
// singleton networks (Local, Dummy, Unreachable) and no default network.
func New(deps Deps) *Registry {
	if deps.Routes == nil {
		deps.Routes = noopRouteController{}
	}
	if deps.TC == nil {
		deps.TC = noopTrafficControl{}
	}
	if deps.Socket == nil {
		deps.Socket = noopSocketMonitor{}
	}
	if deps.Log == nil {
		deps.Log = logging.Default()
	}
	if deps.Netlink == nil {
		deps.Netlink = DefaultNetlinker
	}

	r := &Registry{
		networks:            make(map[NetID]*network),
		users:               make(map[uint32]Permission),
		protectable:         make(map[protectKey]struct{}),
		defaultNetID:        Unset,
		ifindexToLastNetID:  make(map[int]NetID),
		addressToIfindices:  make(map[string]map[int]struct{}),
		routes:              deps.Routes,
		tc:                  deps.TC,
		socket:              deps.Socket,
		log:                 deps.Log,
		audit:               deps.Audit,
		netlink:             deps.Netlink,
		metrics:             newMetrics(deps.Metrics),
	}

	r.delegate = &registryDelegate{r: r}

	r.networks[LocalNetID] = newNetwork(LocalNetID, VariantLocal)
	r.networks[DummyNetID] = newNetwork(DummyNetID, VariantDummy)
	r.networks[Unreachable] = newNetwork(Unreachable, VariantUnreachable)
	r.refreshNetworkGauge()

	return r
}

// permissionOf resolves a uid's permission bits without taking the lock;
// callers must hold it. Absent uids are SYSTEM below FirstApplicationUID,
// NONE otherwise (§3).
func (r *Registry) permissionOf(uid uint32) Permission {
	if p, ok := r.users[uid]; ok {
		return p
	}
	if uid < FirstApplicationUID {
		return PermissionSystem
	}
	return PermissionNone
}

// registryDelegate implements PhysicalDelegate by iterating every current
// Virtual network and forwarding fallthrough route changes to the route
// controller. It is only ever invoked by a Physical network's mutator
// while the registry's write lock is already held (§4.3, §5); it must not
// re-acquire r.mu.
type registryDelegate struct {
	r *Registry
}

func (d *registryDelegate) addFallthrough(iface string, perm Permission) {
	for id, n := range d.r.networks {
		if n.variant != VariantVirtual {
			continue
		}
		if err := d.r.routes.AddVirtualNetworkFallthrough(id, iface, perm); err != nil {
			d.r.log.Warn("add VPN fallthrough failed", "netId", uint16(id), "interface", iface, "error", err)
		}
	}
}

func (d *registryDelegate) removeFallthrough(iface string, perm Permission) {
	for id, n := range d.r.networks {
		if n.variant != VariantVirtual {
			continue
		}
		if err := d.r.routes.RemoveVirtualNetworkFallthrough(id, iface, perm); err != nil {
			d.r.log.Warn("remove VPN fallthrough failed", "netId", uint16(id), "interface", iface, "error", err)
		}
	}
}

// updateSocketMonitor signals resume/suspend based on whether any routable
// Physical network currently exists (§4.4.6). Callers must hold the lock
// (any level; this only reads).
func (r *Registry) updateSocketMonitor() {
	for id, n := range r.networks {
		if n.variant == VariantPhysical && id >= MinNetID {
			r.socket.ResumePolling()
			return
		}
	}
	r.socket.SuspendPolling()
}

// --- no-op collaborator stubs, used when Deps omits one ---

type noopRouteController struct{}

func (noopRouteController) Init(NetID) error                                        { return nil }
func (noopRouteController) AddRoute(RouteTableType, string, string, string) error    { return nil }
func (noopRouteController) UpdateRoute(RouteTableType, string, string, string) error { return nil }
func (noopRouteController) RemoveRoute(RouteTableType, string, string, string) error  { return nil }
func (noopRouteController) AddVirtualNetworkFallthrough(NetID, string, Permission) error {
	return nil
}
func (noopRouteController) RemoveVirtualNetworkFallthrough(NetID, string, Permission) error {
	return nil
}
func (noopRouteController) GetIfIndex(string) (int, error) { return 0, nil }

type noopTrafficControl struct{}

func (noopTrafficControl) ClearClsact(int) error { return nil }

type noopSocketMonitor struct{}

func (noopSocketMonitor) ResumePolling()  {}
func (noopSocketMonitor) SuspendPolling() {}

// auditEvent records a mutating registry operation to the audit trail,
// the same way internal/config records a configuration change: fire and
// forget, never blocking the mutator on a failed write. No-op when the
// registry was built without an audit.Logger (most unit tests).
func (r *Registry) auditEvent(eventType audit.EventType, netID NetID, action string, success bool, details map[string]interface{}) {
	if r.audit == nil {
		return
	}
	r.audit.LogNetworkEvent(context.Background(), eventType, uint16(netID), action, success, details)
}

// normalizeAddr canonicalizes an address string the same way for every
// addressToIfindices lookup, so "2001:db8::1" and a zero-padded variant of
// the same address collide as intended.
func normalizeAddr(addr string) string {
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return addr
}
