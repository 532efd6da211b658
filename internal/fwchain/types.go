// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package fwchain installs and maintains the packet-filter chain hierarchy
// under the kernel's built-in hook points, and the connmark save rules
// that store a socket's fwmark in the connection mark.
package fwchain

import "github.com/google/nftables"

// AddressFamily selects which nftables address families an install targets.
type AddressFamily int

const (
	IPv4 AddressFamily = iota
	IPv6
	V4V6
)

// tableFamilies expands an AddressFamily into the concrete nftables table
// families to operate on. Listing in cooperative mode must process one at a
// time (§4.5); callers range over this slice rather than asking nftables
// for a combined view.
func (af AddressFamily) tableFamilies() []nftables.TableFamily {
	switch af {
	case IPv4:
		return []nftables.TableFamily{nftables.TableFamilyIPv4}
	case IPv6:
		return []nftables.TableFamily{nftables.TableFamilyIPv6}
	default:
		return []nftables.TableFamily{nftables.TableFamilyIPv4, nftables.TableFamilyIPv6}
	}
}

// InstallMode picks how a hook's parent chain is reconciled against
// whatever rules the kernel already holds.
type InstallMode int

const (
	// Exclusive: the core owns the parent outright. The parent is flushed
	// and every child chain relinked in order on every install.
	Exclusive InstallMode = iota
	// Cooperative: third-party rules may coexist in the parent. Existing
	// child links are left alone; only missing ones are added.
	Cooperative
)

// conn is the subset of *nftables.Conn the topology manager needs. Tests
// supply a fake satisfying this interface instead of touching netlink,
// mirroring the Kernel/Netlinker abstraction the rest of this codebase
// uses to keep kernel I/O out of unit tests.
type conn interface {
	AddTable(*nftables.Table) *nftables.Table
	AddChain(*nftables.Chain) *nftables.Chain
	FlushChain(*nftables.Chain)
	AddRule(*nftables.Rule) *nftables.Rule
	ListTables() ([]*nftables.Table, error)
	ListChains() ([]*nftables.Chain, error)
	GetRules(*nftables.Table, *nftables.Chain) ([]*nftables.Rule, error)
	Flush() error
}
