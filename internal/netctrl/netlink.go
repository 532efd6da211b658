// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netctrl

import (
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Netlinker is the narrow subset of vishvananda/netlink the registry needs
// to resolve an interface name to its kernel ifindex and to enumerate the
// addresses already present on it, mirroring the Netlinker abstraction
// internal/network/manager_linux.go and vrf_test.go's MockNetlinker use
// for the same purpose elsewhere in this codebase.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
}

// realNetlinker is the production Netlinker, talking to the kernel.
type realNetlinker struct{}

func (realNetlinker) LinkByName(name string) (netlink.Link, error) { return netlink.LinkByName(name) }
func (realNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return netlink.AddrList(link, family)
}

// DefaultNetlinker is the production Netlinker used when Deps.Netlink is
// left nil.
var DefaultNetlinker Netlinker = realNetlinker{}

// AddInterfaceToNetworkByName resolves iface's ifindex via netlink, clears
// any stale tc classifier qdisc on it (§6: tcQdiscDelDevClsact invoked once
// per interface before it starts carrying traffic for a network — the core
// holds no state across restarts, so this runs at the point an interface is
// (re)bound rather than only at process start), and attaches it to n the
// same way AddInterfaceToNetwork does. It also seeds addressToIfindices
// from the kernel's current address list, so a restart reconciles against
// whatever addresses the interface already carries instead of starting
// blind (§1 "on restart it reconciles with whatever rules currently exist
// in the kernel").
func (r *Registry) AddInterfaceToNetworkByName(n NetID, iface string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, err := r.netlink.LinkByName(iface)
	if err != nil {
		return errNoInterface("failed to resolve interface via netlink", map[string]any{
			"interface": iface, "error": err.Error(),
		})
	}
	ifIndex := link.Attrs().Index

	if err := r.tc.ClearClsact(ifIndex); err != nil {
		r.log.Warn("clear stale clsact qdisc failed", "interface", iface, "ifIndex", ifIndex, "error", err)
	}

	if err := r.addInterfaceToNetworkLocked(n, iface, ifIndex); err != nil {
		return err
	}

	addrs, err := r.netlink.AddrList(link, unix.AF_UNSPEC)
	if err != nil {
		r.log.Warn("enumerate addresses failed", "interface", iface, "ifIndex", ifIndex, "error", err)
		return nil
	}
	for _, a := range addrs {
		addr := normalizeAddr(a.IP.String())
		set, ok := r.addressToIfindices[addr]
		if !ok {
			set = make(map[int]struct{})
			r.addressToIfindices[addr] = set
		}
		set[ifIndex] = struct{}{}
	}
	return nil
}
